package services

import (
	"cmp"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/MegaGrindStone/chatrelay/internal/models"
)

type queryDoc struct {
	doc    models.Document
	fields map[string]json.RawMessage
}

// applyQuery filters, orders and limits documents in memory, following Firestore's query
// semantics for the subset of operators the store supports.
func applyQuery(docs []queryDoc, q models.Query) ([]models.Document, error) {
	filtered := docs[:0]
	for _, d := range docs {
		ok, err := matches(d, q.Where)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if q.OrderBy != "" {
			if _, has := d.fields[q.OrderBy]; !has {
				continue
			}
		}
		filtered = append(filtered, d)
	}

	if q.OrderBy != "" {
		slices.SortStableFunc(filtered, func(a, b queryDoc) int {
			c := compareValues(decodeValue(a.fields[q.OrderBy]), decodeValue(b.fields[q.OrderBy]))
			if q.Descending {
				return -c
			}
			return c
		})
	}

	if q.Limit > 0 && len(filtered) > q.Limit {
		filtered = filtered[:q.Limit]
	}

	res := make([]models.Document, len(filtered))
	for i, d := range filtered {
		res[i] = d.doc
	}
	return res, nil
}

func matches(d queryDoc, filters []models.Filter) (bool, error) {
	for _, f := range filters {
		raw, has := d.fields[f.Field]
		if !has {
			return false, nil
		}

		want, err := normalizeValue(f.Value)
		if err != nil {
			return false, fmt.Errorf("invalid filter value for %s: %w", f.Field, err)
		}
		got := decodeValue(raw)

		var ok bool
		switch f.Op {
		case "==":
			ok = equalValues(got, want)
		case "!=":
			ok = !equalValues(got, want)
		case "<":
			ok = compareValues(got, want) < 0
		case "<=":
			ok = compareValues(got, want) <= 0
		case ">":
			ok = compareValues(got, want) > 0
		case ">=":
			ok = compareValues(got, want) >= 0
		default:
			return false, fmt.Errorf("unsupported filter operator %q", f.Op)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func decodeValue(raw json.RawMessage) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// normalizeValue converts a Go value into the form it has once decoded from a stored document.
func normalizeValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return decodeValue(raw), nil
}

func equalValues(a, b any) bool {
	if ta, ok := asTime(a); ok {
		if tb, ok := asTime(b); ok {
			return ta.Equal(tb)
		}
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders values of the same JSON type. Timestamps are stored as RFC 3339 strings,
// which do not sort lexically once fractional seconds are trimmed, so they are compared as times.
// Values of different types are ordered by type, as Firestore does.
func compareValues(a, b any) int {
	if ta, ok := asTime(a); ok {
		if tb, ok := asTime(b); ok {
			return ta.Compare(tb)
		}
	}

	switch av := a.(type) {
	case nil:
		if b == nil {
			return 0
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			default:
				return 1
			}
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return cmp.Compare(av, bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			return cmp.Compare(av, bv)
		}
	}
	return cmp.Compare(typeRank(a), typeRank(b))
}

func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	case []any:
		return 4
	default:
		return 5
	}
}

func asTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
