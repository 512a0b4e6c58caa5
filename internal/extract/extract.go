// Package extract pulls labeled price observations out of HTML and JSON
// documents using a declarative label table.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kjannette/bullion-backend/internal/models"
)

// ErrMalformedDocument is returned only when a document cannot be read as
// its declared format at all. Missing labels are not an error.
var ErrMalformedDocument = errors.New("malformed document")

type Format string

const (
	FormatHTMLTable Format = "html-table"
	FormatHTMLText  Format = "html-text"
	FormatJSON      Format = "json"
)

// defaultMaxGap bounds how far past a phrase a number may start in text mode.
const defaultMaxGap = 48

// LabelMatcher is one row of a label table. Tables are evaluated in order
// and the first row that matches a given label wins.
type LabelMatcher struct {
	Pattern  string        `mapstructure:"pattern" yaml:"pattern"`
	Regex    bool          `mapstructure:"regex" yaml:"regex"`
	Path     string        `mapstructure:"path" yaml:"path"`
	Role     models.Role   `mapstructure:"role" yaml:"role"`
	Unit     models.Unit   `mapstructure:"unit" yaml:"unit"`
	Language string        `mapstructure:"language" yaml:"language"`
	Columns  []models.Role `mapstructure:"columns" yaml:"columns"`
}

// Rules describes how to read one source document for one metal.
type Rules struct {
	Metal           models.Metal   `mapstructure:"metal"`
	Format          Format         `mapstructure:"format"`
	Matchers        []LabelMatcher `mapstructure:"matchers"`
	CurrencyMarkers []string       `mapstructure:"currency_markers"`
	MaxGap          int            `mapstructure:"max_gap"`
}

// Validate checks the table shape and compiles every regex in it.
func (r Rules) Validate() error {
	switch r.Format {
	case FormatHTMLTable, FormatHTMLText, FormatJSON:
	default:
		return fmt.Errorf("unsupported format %q", r.Format)
	}
	if len(r.Matchers) == 0 {
		return errors.New("no matchers configured")
	}
	for i, m := range r.Matchers {
		if r.Format == FormatJSON && m.Path == "" {
			return fmt.Errorf("matcher %d: json format requires path", i)
		}
		if r.Format != FormatJSON && m.Pattern == "" {
			return fmt.Errorf("matcher %d: pattern is required", i)
		}
		if m.Regex {
			if _, err := regexp.Compile("(?i)" + m.Pattern); err != nil {
				return fmt.Errorf("matcher %d: %w", i, err)
			}
		}
	}
	return nil
}

// Extract reads doc according to rules and returns every observation it
// could find. A label that is absent, or whose value does not parse, simply
// yields nothing.
func Extract(doc []byte, rules Rules) ([]models.RawObservation, error) {
	if len(bytes.TrimSpace(doc)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedDocument)
	}

	matchers, err := compile(rules.Matchers)
	if err != nil {
		return nil, err
	}

	switch rules.Format {
	case FormatHTMLTable:
		root, err := parseHTML(doc)
		if err != nil {
			return nil, err
		}
		return extractTable(root, rules, matchers), nil
	case FormatHTMLText:
		root, err := parseHTML(doc)
		if err != nil {
			return nil, err
		}
		return extractText(visibleText(root), rules, matchers), nil
	case FormatJSON:
		return extractJSON(doc, rules, matchers)
	default:
		return nil, fmt.Errorf("unsupported format %q", rules.Format)
	}
}

type matcher struct {
	LabelMatcher
	phrase string
	re     *regexp.Regexp
}

func compile(table []LabelMatcher) ([]matcher, error) {
	out := make([]matcher, 0, len(table))
	for _, m := range table {
		cm := matcher{LabelMatcher: m, phrase: NormalizeLabel(m.Pattern)}
		if m.Regex {
			re, err := regexp.Compile("(?i)" + m.Pattern)
			if err != nil {
				return nil, fmt.Errorf("compile pattern %q: %w", m.Pattern, err)
			}
			cm.re = re
		}
		if cm.Unit == "" {
			cm.Unit = models.UnitUnknown
		}
		if cm.Role == "" {
			cm.Role = models.RoleUnknown
		}
		out = append(out, cm)
	}
	return out, nil
}

// matchLabel reports whether a normalized label satisfies the matcher.
func (m matcher) matchLabel(label string) bool {
	if m.re != nil {
		return m.re.MatchString(label)
	}
	return m.phrase != "" && strings.Contains(label, m.phrase)
}

// locate returns the end offset of the first match of the matcher in text,
// or -1.
func (m matcher) locate(text string) int {
	if m.re != nil {
		loc := m.re.FindStringIndex(text)
		if loc == nil {
			return -1
		}
		return loc[1]
	}
	if m.phrase == "" {
		return -1
	}
	i := strings.Index(text, m.phrase)
	if i < 0 {
		return -1
	}
	return i + len(m.phrase)
}

func observation(rules Rules, m matcher, role models.Role, raw string) models.RawObservation {
	return models.RawObservation{
		Metal:   rules.Metal,
		Label:   m.Pattern,
		RawText: strings.TrimSpace(raw),
		Unit:    m.Unit,
		Role:    role,
	}
}
