package bmff

import "github.com/nareix/joy4/utils/bits/pio"

// SegmentType is the styp box written at the head of each media segment.
type SegmentType struct {
	MajorBrand       uint32
	MinorVersion     uint32
	CompatibleBrands []uint32
}

// CMAFSegmentType returns the styp emitted for CMAF segments.
func CMAFSegmentType() SegmentType {
	return SegmentType{
		MajorBrand:       0x6d736468,           // msdh
		CompatibleBrands: []uint32{0x6d736978}, // msix
	}
}

func (a SegmentType) Len() int {
	return 16 + 4*len(a.CompatibleBrands)
}

func (a SegmentType) Marshal(b []byte) (n int) {
	putTag(b, STYP)
	pio.PutU32BE(b[8:], a.MajorBrand)
	pio.PutU32BE(b[12:], a.MinorVersion)
	n = 16
	for _, brand := range a.CompatibleBrands {
		pio.PutU32BE(b[n:], brand)
		n += 4
	}
	patchSize(b, n)
	return
}

// PutMDATHeader writes an mdat box header for a payload of the given size.
func PutMDATHeader(b []byte, payloadLen int) {
	pio.PutU32BE(b, uint32(8+payloadLen))
	pio.PutU32BE(b[4:], uint32(MDAT))
}
