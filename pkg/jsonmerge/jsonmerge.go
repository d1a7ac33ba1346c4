// Package jsonmerge implements powersync_json_merge: concatenating several
// JSON object strings into one without parsing them (spec.md's
// SPEC_FULL.md domain stack addition, grounded on
// crates/core/src/json_merge.rs).
package jsonmerge

import (
	"strings"

	"github.com/cuemby/syncbase/pkg/syncerr"
)

// Merge concatenates args, each assumed to be a valid JSON object string
// with no duplicate keys across arguments, into a single JSON object by
// stripping each argument's outer braces and joining the remainders with
// commas. No JSON parsing or validation is performed beyond checking the
// outer brace shape.
func Merge(args []string) (string, error) {
	if len(args) == 0 {
		return "{}", nil
	}

	var b strings.Builder
	b.WriteByte('{')
	for _, arg := range args {
		if len(arg) < 2 || arg[0] != '{' || arg[len(arg)-1] != '}' {
			return "", syncerr.Argumentf("powersync_json_merge argument is not a JSON object: %q", arg)
		}
		inner := arg[1 : len(arg)-1]
		if strings.TrimSpace(inner) == "" {
			continue
		}
		if b.Len() > 1 {
			b.WriteByte(',')
		}
		b.WriteString(inner)
	}
	b.WriteByte('}')
	return b.String(), nil
}
