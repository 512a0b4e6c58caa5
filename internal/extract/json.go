package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kjannette/bullion-backend/internal/models"
)

func extractJSON(doc []byte, rules Rules, matchers []matcher) ([]models.RawObservation, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	var out []models.RawObservation
	for _, m := range matchers {
		v, ok := lookup(root, m.Path)
		if !ok {
			continue
		}
		var raw string
		switch t := v.(type) {
		case json.Number:
			raw = t.String()
		case string:
			raw = t
		default:
			continue
		}
		if _, ok := ParseNumber(raw); !ok {
			continue
		}
		obs := observation(rules, m, m.Role, raw)
		obs.Label = m.Path
		out = append(out, obs)
	}
	return out, nil
}

// lookup resolves a dotted path such as "data.items.0.price".
func lookup(v any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	cur := v
	for _, key := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}
