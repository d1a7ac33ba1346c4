package schema

import (
	"encoding/json"

	"github.com/cuemby/syncbase/pkg/syncerr"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Diff computes the JSON delta the CRUD triggers attach to PATCH entries
// (spec.md §4.8): members of newJSON that are absent from, or different
// in, oldJSON, plus a null for every member oldJSON has that newJSON
// dropped (unless ignoreRemoved is set). Nulls on either side are treated
// as absent before comparing.
func Diff(oldJSON, newJSON string, ignoreRemoved bool) (string, error) {
	oldObj := gjson.Parse(oldJSON)
	newObj := gjson.Parse(newJSON)
	if !oldObj.IsObject() || !newObj.IsObject() {
		return "", syncerr.Argumentf("powersync_diff: both arguments must be JSON objects")
	}

	oldFields := nonNullFields(oldObj)
	newFields := nonNullFields(newObj)

	if len(oldFields) == 0 {
		return compact(newObjectFields(newFields)), nil
	}

	out := "{}"
	var err error
	for key, raw := range newFields {
		if oldRaw, ok := oldFields[key]; ok && jsonValuesEqual(oldRaw, raw) {
			continue
		}
		if out, err = sjson.SetRaw(out, escapeKey(key), raw); err != nil {
			return "", err
		}
	}

	if !ignoreRemoved {
		for key := range oldFields {
			if _, ok := newFields[key]; ok {
				continue
			}
			if out, err = sjson.SetRaw(out, escapeKey(key), "null"); err != nil {
				return "", err
			}
		}
	}
	return out, nil
}

func newObjectFields(fields map[string]string) string {
	out := "{}"
	for key, raw := range fields {
		out, _ = sjson.SetRaw(out, escapeKey(key), raw)
	}
	return out
}

// nonNullFields returns obj's top-level members, excluding any whose
// value is JSON null.
func nonNullFields(obj gjson.Result) map[string]string {
	fields := make(map[string]string)
	obj.ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.Null {
			return true
		}
		fields[key.String()] = value.Raw
		return true
	})
	return fields
}

// jsonValuesEqual compares two raw JSON values structurally (so 1.0 and
// 1.00 compare equal, matching the original implementation's
// serde_json::Value equality) rather than by their literal text.
func jsonValuesEqual(a, b string) bool {
	if a == b {
		return true
	}
	var va, vb any
	if json.Unmarshal([]byte(a), &va) != nil || json.Unmarshal([]byte(b), &vb) != nil {
		return false
	}
	return deepEqual(va, vb)
}

func deepEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !deepEqual(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func escapeKey(key string) string {
	// sjson treats '.' and '*' as path separators/wildcards; escape them so
	// arbitrary column names round-trip as single path segments.
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c == '.' || c == '*' || c == '?' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}

func compact(s string) string {
	var v any
	if json.Unmarshal([]byte(s), &v) != nil {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return s
	}
	return string(b)
}
