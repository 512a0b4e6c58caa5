package extract

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	tatweel          = '\u0640'
	arabicDecimalSep = '\u066B'
	arabicThousands  = '\u066C'
)

// foldDigits maps Arabic-Indic and Extended Arabic-Indic digits to ASCII.
func foldDigits(r rune) rune {
	switch {
	case r >= '٠' && r <= '٩':
		return '0' + (r - '٠')
	case r >= '۰' && r <= '۹':
		return '0' + (r - '۰')
	case r == arabicDecimalSep:
		return '.'
	case r == arabicThousands:
		return ','
	}
	return r
}

// foldLetters collapses the alef and yeh variants that sources mix freely.
func foldLetters(r rune) rune {
	switch r {
	case 'أ', 'إ', 'آ', 'ٱ':
		return 'ا'
	case 'ى':
		return 'ي'
	case 'ة':
		return 'ه'
	}
	return unicode.ToLower(r)
}

func isArabicMark(r rune) bool {
	return r == tatweel || (r >= '\u064B' && r <= '\u0652')
}

func labelTransformer() transform.Transformer {
	return transform.Chain(
		norm.NFKC,
		runes.Remove(runes.Predicate(isArabicMark)),
		runes.Map(foldDigits),
		runes.Map(foldLetters),
	)
}

// NormalizeLabel folds a label or pattern into the form used for matching:
// NFKC, lower case, ASCII digits, no Arabic diacritics or tatweel, and
// single spaces.
func NormalizeLabel(s string) string {
	out, _, err := transform.String(labelTransformer(), s)
	if err != nil {
		out = strings.ToLower(s)
	}
	return strings.Join(strings.Fields(out), " ")
}

// ParseNumber pulls a decimal out of free text such as "217,221.76 EGP" or
// "٣٥٢٠٫٥". Everything except digits, the first decimal point and a leading
// minus sign is dropped. ok is false when no digit survives.
func ParseNumber(raw string) (decimal.Decimal, bool) {
	var b strings.Builder
	seenDot := false
	seenDigit := false
	for _, r := range norm.NFKC.String(raw) {
		r = foldDigits(r)
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			seenDigit = true
		case r == '.' && !seenDot:
			b.WriteRune(r)
			seenDot = true
		case r == '-' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	if !seenDigit {
		return decimal.Zero, false
	}

	s := strings.TrimSuffix(b.String(), ".")
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	if neg {
		s = "-" + s
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
