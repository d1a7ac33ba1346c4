// Package checksum implements the 32-bit wrapping checksum algebra used to
// validate bucket state against the server's reported checksums.
package checksum

import (
	"encoding/json"
	"fmt"
	"math"
)

// Checksum is a 32-bit value under wrapping addition/subtraction. It must
// never be treated as a signed integer for arithmetic purposes, even though
// the wire format frequently delivers it as one.
type Checksum uint32

// Zero is the additive identity.
const Zero Checksum = 0

// Add returns c + other under wrapping uint32 addition.
func (c Checksum) Add(other Checksum) Checksum {
	return c + other
}

// Sub returns c - other under wrapping uint32 subtraction.
func (c Checksum) Sub(other Checksum) Checksum {
	return c - other
}

// Negate returns the additive inverse of c under wrapping uint32 arithmetic.
func (c Checksum) Negate() Checksum {
	return 0 - c
}

// Uint32 returns the raw 32-bit value.
func (c Checksum) Uint32() uint32 {
	return uint32(c)
}

// FromInt64 builds a Checksum from a 32-bit value carried in a wider
// integer, reinterpreting negative values as their two's-complement
// unsigned bit pattern (spec.md §4.2: "accept ... signed (reinterpret as
// u32)").
func FromInt64(v int64) Checksum {
	return Checksum(uint32(int32(v)))
}

// UnmarshalJSON accepts a 32-bit unsigned integer, a 32-bit signed integer,
// or a whole-valued float64 — the three shapes the wire format's checksum
// fields can arrive in — and rejects fractional floats outright.
func (c *Checksum) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("checksum: not a number: %w", err)
	}
	if math.Trunc(f) != f {
		return fmt.Errorf("checksum: fractional value %v is not a valid checksum", f)
	}
	if f > math.MaxUint32 || f < math.MinInt32 {
		return fmt.Errorf("checksum: value %v out of range", f)
	}
	*c = FromInt64(int64(f))
	return nil
}

// MarshalJSON renders the checksum as an unsigned decimal number.
func (c Checksum) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint32(c))
}

// BucketSum models the pair of accumulators a bucket keeps (spec.md §3, §4.2):
// add_checksum (REMOVE/MOVE/CLEAR hashes and superseded PUT hashes) and
// op_checksum (hashes of currently-live PUT entries). Their wrapping sum
// must always equal the checksum the server reports for the bucket.
type BucketSum struct {
	Add Checksum
	Op  Checksum
}

// Total returns Add + Op under wrapping addition — the value compared
// against the server-reported bucket checksum during validation.
func (b BucketSum) Total() Checksum {
	return b.Add.Add(b.Op)
}

// ApplyPut adds hash to the live-PUT accumulator.
func (b *BucketSum) ApplyPut(hash Checksum) {
	b.Op = b.Op.Add(hash)
}

// ApplyRemoveOrMove adds hash to the add accumulator, matching REMOVE and
// MOVE entries, both of which never contribute to op_checksum.
func (b *BucketSum) ApplyRemoveOrMove(hash Checksum) {
	b.Add = b.Add.Add(hash)
}

// ApplySupersede moves hash from op_checksum to add_checksum: a PUT that
// used to be live is being replaced or removed, so its hash leaves the
// live-entry accumulator and joins the historical one. The wrapping sum
// is preserved by construction.
func (b *BucketSum) ApplySupersede(hash Checksum) {
	b.Op = b.Op.Sub(hash)
	b.Add = b.Add.Add(hash)
}

// ApplyClear resets op_checksum to zero and sets add_checksum to the
// CLEAR entry's own hash, per spec.md §4.2.
func (b *BucketSum) ApplyClear(hash Checksum) {
	b.Op = Zero
	b.Add = hash
}
