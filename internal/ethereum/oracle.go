package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/kjannette/bullion-backend/internal/external"
	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/shopspring/decimal"
)

// DefaultMaxAge is how old an oracle answer may be before it is rejected.
// Metal feeds update at least daily.
const DefaultMaxAge = 26 * time.Hour

// ContractCaller performs read-only contract calls.
type ContractCaller interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// OracleReader reads XAU/USD and XAG/USD from Chainlink aggregator feeds.
// Feeds quote USD per troy ounce; the result is converted to grams and
// multiplied by FXRate to reach the deployment currency.
type OracleReader struct {
	caller ContractCaller
	feeds  map[models.Metal]common.Address
	fxRate decimal.Decimal
	maxAge time.Duration
	abi    abi.ABI
	now    func() time.Time
}

var _ external.RateProvider = (*OracleReader)(nil)

func NewOracleReader(caller ContractCaller, feeds map[models.Metal]string, fxRate decimal.Decimal) (*OracleReader, error) {
	parsed, err := abi.JSON(aggregatorABI())
	if err != nil {
		return nil, fmt.Errorf("parse aggregator ABI: %w", err)
	}
	addrs := make(map[models.Metal]common.Address, len(feeds))
	for metal, hex := range feeds {
		if !common.IsHexAddress(hex) {
			return nil, fmt.Errorf("feed for %s: invalid address %q", metal, hex)
		}
		addrs[metal] = common.HexToAddress(hex)
	}
	return &OracleReader{
		caller: caller,
		feeds:  addrs,
		fxRate: fxRate,
		maxAge: DefaultMaxAge,
		abi:    parsed,
		now:    time.Now,
	}, nil
}

func (o *OracleReader) Name() string { return "chainlink" }

func (o *OracleReader) Configured() bool {
	return o != nil && o.caller != nil && o.fxRate.IsPositive() && len(o.feeds) > 0
}

func (o *OracleReader) RatePerGram(ctx context.Context, metal models.Metal) (decimal.Decimal, error) {
	if !o.Configured() {
		return decimal.Zero, external.ErrNotConfigured
	}
	feed, ok := o.feeds[metal]
	if !ok {
		return decimal.Zero, fmt.Errorf("no oracle feed for %s", metal)
	}

	answer, updatedAt, err := o.latestRound(ctx, feed)
	if err != nil {
		return decimal.Zero, err
	}
	if answer.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("oracle %s: non-positive answer %s", metal, answer)
	}
	if age := o.now().Sub(updatedAt); age > o.maxAge {
		return decimal.Zero, fmt.Errorf("oracle %s: answer is %s old", metal, age.Truncate(time.Minute))
	}

	dec, err := o.decimals(ctx, feed)
	if err != nil {
		return decimal.Zero, err
	}

	perOunceUSD := decimal.NewFromBigInt(answer, -int32(dec))
	return perOunceUSD.Mul(o.fxRate).DivRound(models.TroyOunceGrams, models.PriceScale), nil
}

func (o *OracleReader) latestRound(ctx context.Context, feed common.Address) (*big.Int, time.Time, error) {
	data, err := o.abi.Pack("latestRoundData")
	if err != nil {
		return nil, time.Time{}, err
	}
	raw, err := o.caller.CallContract(ctx, feed, data)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("latestRoundData call: %w", err)
	}
	out, err := o.abi.Unpack("latestRoundData", raw)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("unpack latestRoundData: %w", err)
	}
	if len(out) != 5 {
		return nil, time.Time{}, fmt.Errorf("latestRoundData: %d outputs", len(out))
	}
	answer, ok := out[1].(*big.Int)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("latestRoundData: answer is %T", out[1])
	}
	updated, ok := out[3].(*big.Int)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("latestRoundData: updatedAt is %T", out[3])
	}
	return answer, time.Unix(updated.Int64(), 0), nil
}

func (o *OracleReader) decimals(ctx context.Context, feed common.Address) (uint8, error) {
	data, err := o.abi.Pack("decimals")
	if err != nil {
		return 0, err
	}
	raw, err := o.caller.CallContract(ctx, feed, data)
	if err != nil {
		return 0, fmt.Errorf("decimals call: %w", err)
	}
	out, err := o.abi.Unpack("decimals", raw)
	if err != nil {
		return 0, fmt.Errorf("unpack decimals: %w", err)
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("decimals: %d outputs", len(out))
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals is %T", out[0])
	}
	return d, nil
}
