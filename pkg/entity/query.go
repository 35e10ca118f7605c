package entity

import (
	"net/url"
	"sort"
	"strconv"
)

// Query is a flat field→value match set handed to the data service by
// GetWithQuery. The core never interprets it; bundled services treat it
// as equality constraints, the REST service as a query string.
type Query map[string]string

// Clone returns a copy of the query.
func (q Query) Clone() Query {
	out := make(Query, len(q))
	for k, v := range q {
		out[k] = v
	}
	return out
}

// Encode renders the query as a URL query string with sorted keys, so the
// same constraints always produce the same bytes.
func (q Query) Encode() string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	v := url.Values{}
	for _, k := range keys {
		v.Set(k, q[k])
	}
	return v.Encode()
}

// Matches reports whether every constraint equals the scalar form of the
// corresponding document field. Missing fields and non-scalar fields never
// match.
func (q Query) Matches(doc Doc) bool {
	for field, want := range q {
		v, ok := doc[field]
		if !ok {
			return false
		}
		s, ok := scalarString(v)
		if !ok || s != want {
			return false
		}
	}
	return true
}

// canonicalDoc renders the query as a document for action payloads.
func (q Query) canonicalDoc() Doc {
	d := make(Doc, len(q))
	for k, v := range q {
		d[k] = String(v)
	}
	return d
}

func scalarString(v Value) (string, bool) {
	switch val := v.(type) {
	case String:
		return string(val), true
	case Int:
		return strconv.FormatInt(int64(val), 10), true
	case Float:
		return strconv.FormatFloat(float64(val), 'g', -1, 64), true
	case Bool:
		return strconv.FormatBool(bool(val)), true
	case Null:
		return "null", true
	default:
		return "", false
	}
}
