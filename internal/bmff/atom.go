// Package bmff marshals the ISO base-media-file-format boxes needed to emit
// CMAF movie fragments. Box contents are written into a caller-provided
// buffer and the 32-bit length prefix is patched once the size is known.
package bmff

import (
	"fmt"

	"github.com/nareix/joy4/utils/bits/pio"
)

// Tag is a four-character box type code.
type Tag uint32

func (t Tag) String() string {
	var b [4]byte
	pio.PutU32BE(b[:], uint32(t))
	return string(b[:])
}

const (
	MOOF = Tag(0x6d6f6f66)
	MFHD = Tag(0x6d666864)
	TRAF = Tag(0x74726166)
	TFHD = Tag(0x74666864)
	TFDT = Tag(0x74666474)
	TRUN = Tag(0x7472756e)
	MDAT = Tag(0x6d646174)
	STYP = Tag(0x73747970)
)

// Sample flag words used in tfhd/trun (dependency and sync bits).
const (
	SampleNoDependencies = uint32(0x02000000)
	SampleNonKeyframe    = uint32(0x01010000)
)

// ParseError reports a structural problem at a byte offset within a box.
type ParseError struct {
	Field  string
	Offset int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("bmff: invalid %s at offset %d", e.Field, e.Offset)
}

func parseErr(field string, offset int) error {
	return &ParseError{Field: field, Offset: offset}
}

func putTag(b []byte, tag Tag) {
	pio.PutU32BE(b[4:], uint32(tag))
}

func patchSize(b []byte, n int) {
	pio.PutU32BE(b, uint32(n))
}
