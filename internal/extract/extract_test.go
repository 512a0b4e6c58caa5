package extract

import (
	"testing"

	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumber(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"217,221.76 EGP", "217221.76", true},
		{"EGP 3,520.", "3520", true},
		{"٣٥٢٠٫٥", "3520.5", true},
		{"۱۲۳", "123", true},
		{"-12.5", "-12.5", true},
		{"1.2.3", "1.23", true},
		{".5", "0.5", true},
		{"  4 100 ", "4100", true},
		{"n/a", "0", false},
		{"", "0", false},
		{"-", "0", false},
	}
	for _, tc := range cases {
		got, ok := ParseNumber(tc.in)
		assert.Equal(t, tc.ok, ok, "ParseNumber(%q) ok", tc.in)
		if tc.ok {
			assert.True(t, decimal.RequireFromString(tc.want).Equal(got), "ParseNumber(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, "gold 24k", NormalizeLabel("  Gold \t 24K "))
	assert.Equal(t, "ذهب عيار 21", NormalizeLabel("ذهـب عيار ٢١"))
	assert.Equal(t, "اوقيه", NormalizeLabel("أوقية"))
}

func TestExtract_EmptyAndMalformed(t *testing.T) {
	rules := Rules{Metal: models.Gold, Format: FormatHTMLTable, Matchers: []LabelMatcher{{Pattern: "gold"}}}

	_, err := Extract(nil, rules)
	assert.ErrorIs(t, err, ErrMalformedDocument)

	_, err = Extract([]byte("   \n"), rules)
	assert.ErrorIs(t, err, ErrMalformedDocument)

	_, err = Extract([]byte("just some words, no tags"), rules)
	assert.ErrorIs(t, err, ErrMalformedDocument)

	jsonRules := Rules{Metal: models.Gold, Format: FormatJSON, Matchers: []LabelMatcher{{Path: "gold"}}}
	_, err = Extract([]byte(`{"gold": `), jsonRules)
	assert.ErrorIs(t, err, ErrMalformedDocument)
}

func TestExtract_NoMatchingLabels(t *testing.T) {
	doc := []byte(`<html><body><table><tr><td>Platinum</td><td>1,200</td></tr></table></body></html>`)
	rules := Rules{Metal: models.Gold, Format: FormatHTMLTable, Matchers: []LabelMatcher{{Pattern: "gold 24k"}}}

	obs, err := Extract(doc, rules)
	require.NoError(t, err)
	assert.Empty(t, obs)
}

func TestExtract_TableFirstMatchWins(t *testing.T) {
	doc := []byte(`<html><body>
		<table>
			<tr><th>Gold 24K</th><th>Sell</th><th>Buy</th></tr>
			<tr><td>Gold 24K</td><td>3,650.00</td><td>3,700.00</td></tr>
			<tr><td>Gold 24K (old)</td><td>1.00</td><td>2.00</td></tr>
			<tr><td>Gold Ounce</td><td>217,221.76 EGP</td></tr>
		</table>
	</body></html>`)
	rules := Rules{
		Metal:  models.Gold,
		Format: FormatHTMLTable,
		Matchers: []LabelMatcher{
			{Pattern: "gold 24k", Unit: models.UnitGram, Columns: []models.Role{models.RoleSell, models.RoleBuy}},
			{Pattern: "gold ounce", Unit: models.UnitOunce, Role: models.RoleBuy},
		},
	}

	obs, err := Extract(doc, rules)
	require.NoError(t, err)
	require.Len(t, obs, 3)

	assert.Equal(t, models.RoleSell, obs[0].Role)
	assert.Equal(t, "3,650.00", obs[0].RawText)
	assert.Equal(t, models.RoleBuy, obs[1].Role)
	assert.Equal(t, "3,700.00", obs[1].RawText)
	assert.Equal(t, models.UnitGram, obs[1].Unit)

	assert.Equal(t, models.UnitOunce, obs[2].Unit)
	assert.Equal(t, "217,221.76 EGP", obs[2].RawText)
	assert.Equal(t, models.Gold, obs[2].Metal)
}

func TestExtract_TableSkipsUnparsableCells(t *testing.T) {
	doc := []byte(`<table><tr><td>Silver 999</td><td>--</td><td>52.10</td></tr></table>`)
	rules := Rules{
		Metal:    models.Silver,
		Format:   FormatHTMLTable,
		Matchers: []LabelMatcher{{Pattern: "silver 999", Role: models.RoleBuy}},
	}

	obs, err := Extract(doc, rules)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "52.10", obs[0].RawText)
	assert.Equal(t, models.UnitUnknown, obs[0].Unit)
}

func TestExtract_TextMode(t *testing.T) {
	doc := []byte(`<html><head><script>var price = 999;</script></head><body>
		<p>سعر الذهب عيار ٢١ اليوم: ٣٬٥٢٠ جنيه</p>
		<div>Ounce price EGP 217,221.76 today</div>
	</body></html>`)
	rules := Rules{
		Metal:           models.Gold,
		Format:          FormatHTMLText,
		CurrencyMarkers: []string{"EGP", "جنيه"},
		Matchers: []LabelMatcher{
			{Pattern: "عيار 21", Role: models.RoleBuy, Language: "ar"},
			{Pattern: "ounce price", Role: models.RoleSell, Unit: models.UnitOunce, Language: "en"},
			{Pattern: "var price", Role: models.RoleOpening},
		},
	}

	obs, err := Extract(doc, rules)
	require.NoError(t, err)
	require.Len(t, obs, 2)

	v, ok := ParseNumber(obs[0].RawText)
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(3520).Equal(v), "got %s", v)
	assert.Equal(t, models.RoleBuy, obs[0].Role)

	v, ok = ParseNumber(obs[1].RawText)
	require.True(t, ok)
	assert.Equal(t, "217221.76", v.String())
	assert.Equal(t, models.UnitOunce, obs[1].Unit)
}

func TestExtract_TextModeGapTooWide(t *testing.T) {
	doc := []byte(`<p>gold price is published every morning by the central exchange after the opening bell, 3,520</p>`)
	rules := Rules{
		Metal:    models.Gold,
		Format:   FormatHTMLText,
		MaxGap:   10,
		Matchers: []LabelMatcher{{Pattern: "gold price", Role: models.RoleBuy}},
	}

	obs, err := Extract(doc, rules)
	require.NoError(t, err)
	assert.Empty(t, obs)
}

func TestExtract_TextModeSkipsKarat(t *testing.T) {
	doc := []byte(`<body>
		<p>Gold price today 24 karat: 3,520 EGP</p>
		<p>Silver price 999 per gram 42.5</p>
		<p>Ounce quote 24k 217,221.76</p>
		<p>سعر الذهب عيار ٢١ اليوم ٣٬٠٨٠ جنيه</p>
	</body>`)
	rules := Rules{
		Metal:           models.Gold,
		Format:          FormatHTMLText,
		CurrencyMarkers: []string{"EGP", "جنيه"},
		Matchers: []LabelMatcher{
			{Pattern: "gold price", Role: models.RoleBuy},
			{Pattern: "silver price", Role: models.RoleSell},
			{Pattern: "ounce quote", Role: models.RoleOpening},
			{Pattern: "سعر الذهب", Role: models.RoleChange},
		},
	}

	obs, err := Extract(doc, rules)
	require.NoError(t, err)
	require.Len(t, obs, 4)
	assert.Equal(t, "3,520", obs[0].RawText)
	assert.Equal(t, "999", obs[1].RawText, "fineness is not a karat marker")
	assert.Equal(t, "217,221.76", obs[2].RawText)
	assert.Equal(t, "3,080", obs[3].RawText)
}

func TestExtract_RegexMatcher(t *testing.T) {
	doc := []byte(`<table><tr><td>Gold 21 Karat</td><td>3,080</td></tr></table>`)
	rules := Rules{
		Metal:    models.Gold,
		Format:   FormatHTMLTable,
		Matchers: []LabelMatcher{{Pattern: `gold\s+21\s*(k|karat)`, Regex: true, Role: models.RoleSell}},
	}

	obs, err := Extract(doc, rules)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, models.RoleSell, obs[0].Role)
}

func TestExtract_JSONPaths(t *testing.T) {
	doc := []byte(`{"data":{"gold":{"sell":"3,520.50","buy":3500}},"items":[{"price":"12"}],"flag":true}`)
	rules := Rules{
		Metal:  models.Gold,
		Format: FormatJSON,
		Matchers: []LabelMatcher{
			{Path: "data.gold.sell", Role: models.RoleSell, Unit: models.UnitGram},
			{Path: "data.gold.buy", Role: models.RoleBuy, Unit: models.UnitGram},
			{Path: "items.0.price", Role: models.RoleOpening},
			{Path: "items.3.price", Role: models.RoleChange},
			{Path: "flag", Role: models.RoleChange},
			{Path: "data.silver.buy", Role: models.RoleBuy},
		},
	}

	obs, err := Extract(doc, rules)
	require.NoError(t, err)
	require.Len(t, obs, 3)
	assert.Equal(t, "3,520.50", obs[0].RawText)
	assert.Equal(t, "3500", obs[1].RawText)
	assert.Equal(t, "data.gold.buy", obs[1].Label)
	assert.Equal(t, "12", obs[2].RawText)
}

func TestRulesValidate(t *testing.T) {
	ok := Rules{Format: FormatHTMLText, Matchers: []LabelMatcher{{Pattern: "gold"}}}
	assert.NoError(t, ok.Validate())

	assert.Error(t, Rules{Format: "xml", Matchers: []LabelMatcher{{Pattern: "gold"}}}.Validate())
	assert.Error(t, Rules{Format: FormatHTMLText}.Validate())
	assert.Error(t, Rules{Format: FormatJSON, Matchers: []LabelMatcher{{Pattern: "gold"}}}.Validate())
	assert.Error(t, Rules{Format: FormatHTMLTable, Matchers: []LabelMatcher{{Pattern: "(", Regex: true}}}.Validate())
}
