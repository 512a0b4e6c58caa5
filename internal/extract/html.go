package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kjannette/bullion-backend/internal/models"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var numberToken = regexp.MustCompile(`-?[0-9][0-9,.]*`)

func parseHTML(doc []byte) (*html.Node, error) {
	if !bytes.ContainsRune(doc, '<') {
		return nil, fmt.Errorf("%w: no markup", ErrMalformedDocument)
	}
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	return root, nil
}

// extractTable walks table rows in document order. The first cell is the
// label; the numeric cells after it are mapped to roles by the matcher's
// Columns.
func extractTable(root *html.Node, rules Rules, matchers []matcher) []models.RawObservation {
	var out []models.RawObservation
	claimed := make([]bool, len(matchers))

	for _, row := range findAll(root, atom.Tr) {
		cells := rowCells(row)
		if len(cells) < 2 {
			continue
		}
		label := NormalizeLabel(cells[0])

		for i, m := range matchers {
			if claimed[i] || !m.matchLabel(label) {
				continue
			}
			var numeric []string
			for _, c := range cells[1:] {
				if _, ok := ParseNumber(c); ok {
					numeric = append(numeric, c)
				}
			}
			// header rows repeat labels without values
			if len(numeric) == 0 {
				continue
			}
			claimed[i] = true

			if len(m.Columns) == 0 {
				out = append(out, observation(rules, m, m.Role, numeric[0]))
				continue
			}
			for col, role := range m.Columns {
				if col >= len(numeric) {
					break
				}
				out = append(out, observation(rules, m, role, numeric[col]))
			}
		}
	}
	return out
}

// extractText finds each matcher phrase in the visible text and takes the
// first number that follows it, skipping over currency markers and karat
// numbers ("24k", "24 karat", "عيار 24").
func extractText(text string, rules Rules, matchers []matcher) []models.RawObservation {
	maxGap := rules.MaxGap
	if maxGap <= 0 {
		maxGap = defaultMaxGap
	}
	markers := make([]string, 0, len(rules.CurrencyMarkers))
	for _, mk := range rules.CurrencyMarkers {
		if n := NormalizeLabel(mk); n != "" {
			markers = append(markers, n)
		}
	}

	var out []models.RawObservation
	for _, m := range matchers {
		end := m.locate(text)
		if end < 0 {
			continue
		}
		rest := text[end:]
		for _, loc := range numberToken.FindAllStringIndex(rest, -1) {
			gap := rest[:loc[0]]
			for _, mk := range markers {
				gap = strings.ReplaceAll(gap, mk, "")
			}
			if utf8.RuneCountInString(strings.TrimSpace(gap)) > maxGap {
				break
			}
			if isKarat(rest[:loc[0]], rest[loc[1]:]) {
				continue
			}
			out = append(out, observation(rules, m, m.Role, rest[loc[0]:loc[1]]))
			break
		}
	}
	return out
}

var (
	karatSuffixes = []string{"karat", "carat", "kt", "k", "قيراط"}
	karatPrefixes = []string{"عيار", "karat"}
)

// isKarat reports whether the number between before and after names a
// purity grade rather than a price.
func isKarat(before, after string) bool {
	after = strings.TrimLeft(after, " ")
	for _, sfx := range karatSuffixes {
		if !strings.HasPrefix(after, sfx) {
			continue
		}
		next, _ := utf8.DecodeRuneInString(after[len(sfx):])
		if next == utf8.RuneError || !unicode.IsLetter(next) {
			return true
		}
	}
	before = strings.TrimRight(before, " ")
	for _, pfx := range karatPrefixes {
		if strings.HasSuffix(before, pfx) {
			return true
		}
	}
	return false
}

func findAll(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == a {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func rowCells(tr *html.Node) []string {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
			cells = append(cells, strings.TrimSpace(nodeText(c)))
		}
	}
	return cells
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// visibleText returns the normalized text of the document without script,
// style and template content.
func visibleText(root *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return NormalizeLabel(b.String())
}
