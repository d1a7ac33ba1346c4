package ext

import (
	"encoding/json"
	"strings"
)

// removeDuplicateKeyEncoding undoes a historical bug in one sync client SDK
// that JSON-encoded an oplog key's subkey segment (object_type/object_id/subkey)
// instead of leaving it as a plain string. It returns ok == false when key
// does not look double-encoded, so callers can fall back to the original.
func removeDuplicateKeyEncoding(key string) (string, bool) {
	if !strings.HasSuffix(key, `"`) {
		return "", false
	}

	for i := len(key) - 2; i >= 0; i-- {
		if key[i] != '"' {
			continue
		}
		backslashes := 0
		for j := i - 1; j >= 0 && key[j] == '\\'; j-- {
			backslashes++
		}
		if backslashes%2 != 0 {
			// escaped quote, not the start of the JSON string literal
			continue
		}

		var decoded string
		if err := json.Unmarshal([]byte(key[i:]), &decoded); err != nil {
			return "", false
		}
		return key[:i] + decoded, true
	}
	return "", false
}

// powersyncRemoveDuplicateKeyEncoding wraps removeDuplicateKeyEncoding as a
// SQLite scalar function, returning a nil *string (SQL NULL) when key is
// unaffected.
func powersyncRemoveDuplicateKeyEncoding(key string) (*string, error) {
	decoded, ok := removeDuplicateKeyEncoding(key)
	if !ok {
		return nil, nil
	}
	return &decoded, nil
}
