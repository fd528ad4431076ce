package odp

import (
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// NormalizePayload rewrites a v2 verbose collection envelope
// {"d":{"results":[...],"__count":"n","__next":"...","__delta":"..."}} into the
// v4 shape {"value":[...],"@odata.count":n,"@odata.nextLink":"...","@odata.deltaLink":"..."}.
// A v2 single-entity envelope is unwrapped; anything else is returned unchanged.
func NormalizePayload(body []byte) ([]byte, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("odp: payload is not valid JSON")
	}
	d := gjson.GetBytes(body, "d")
	if !d.Exists() {
		return body, nil
	}
	if d.IsArray() {
		return sjson.SetRawBytes([]byte(`{}`), "value", []byte(d.Raw))
	}
	results := d.Get("results")
	if !results.Exists() {
		return []byte(d.Raw), nil
	}

	out, err := sjson.SetRawBytes([]byte(`{}`), "value", []byte(results.Raw))
	if err != nil {
		return nil, fmt.Errorf("odp: normalize results: %w", err)
	}
	if count := d.Get("__count"); count.Exists() {
		n, errAtoi := strconv.ParseInt(count.String(), 10, 64)
		if errAtoi != nil {
			return nil, fmt.Errorf("odp: invalid __count %q: %w", count.String(), errAtoi)
		}
		if out, err = sjson.SetBytes(out, pathV4Count, n); err != nil {
			return nil, fmt.Errorf("odp: normalize count: %w", err)
		}
	}
	links := []struct{ from, to string }{
		{"__next", pathV4NextLink},
		{"__delta", pathV4Delta},
	}
	for _, l := range links {
		if v := d.Get(l.from); v.Type == gjson.String {
			if out, err = sjson.SetBytes(out, l.to, v.String()); err != nil {
				return nil, fmt.Errorf("odp: normalize %s: %w", l.from, err)
			}
		}
	}
	return out, nil
}

// CountRecords returns the number of records in a v2 or v4 collection payload.
func CountRecords(body []byte) int {
	if !gjson.ValidBytes(body) {
		return 0
	}
	for _, path := range []string{"d.results", "value", "d"} {
		if r := gjson.GetBytes(body, path); r.IsArray() {
			return len(r.Array())
		}
	}
	return 0
}
