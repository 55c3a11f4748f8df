package bmff

import (
	"testing"

	"github.com/nareix/joy4/utils/bits/pio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var containerTags = map[Tag]bool{
	MOOV: true, TRAK: true, MDIA: true, MINF: true,
	DINF: true, STBL: true, MVEX: true,
}

// collectTags walks the box tree and returns every tag encountered.
func collectTags(t *testing.T, b []byte) []Tag {
	t.Helper()
	var tags []Tag
	for pos := 0; pos < len(b); {
		require.LessOrEqual(t, pos+8, len(b))
		size := int(pio.U32BE(b[pos:]))
		require.GreaterOrEqual(t, size, 8)
		require.LessOrEqual(t, pos+size, len(b))
		tag := Tag(pio.U32BE(b[pos+4:]))
		tags = append(tags, tag)
		if containerTags[tag] {
			tags = append(tags, collectTags(t, b[pos+8:pos+size])...)
		}
		pos += size
	}
	return tags
}

func TestMarshalVideoInit(t *testing.T) {
	b, err := MarshalVideoInit(VideoInitConfig{
		TrackID:   1,
		TimeScale: 90000,
		Width:     1280,
		Height:    720,
		AVCConfig: []byte{0x01, 0x64, 0x00, 0x1f, 0xff},
	})
	require.NoError(t, err)

	tags := collectTags(t, b)
	for _, want := range []Tag{FTYP, MOOV, MVHD, TRAK, TKHD, MDIA, MDHD, HDLR, MINF, VMHD, DINF, STBL, STSD, STTS, STSC, STSZ, STCO, MVEX, TREX} {
		assert.Contains(t, tags, want, want.String())
	}
	assert.NotContains(t, tags, SMHD)
	// the decoder configuration record is carried verbatim
	assert.Contains(t, string(b), "avcC")
	assert.Contains(t, string(b), string([]byte{0x01, 0x64, 0x00, 0x1f, 0xff}))
}

func TestMarshalAudioInit(t *testing.T) {
	asc := []byte{0x11, 0x90}
	b, err := MarshalAudioInit(AudioInitConfig{
		TrackID:    2,
		TimeScale:  48000,
		SampleRate: 48000,
		Channels:   2,
		AACConfig:  asc,
	})
	require.NoError(t, err)

	tags := collectTags(t, b)
	for _, want := range []Tag{FTYP, MOOV, MVHD, TRAK, TKHD, MDIA, MDHD, HDLR, MINF, SMHD, DINF, STBL, STSD, MVEX, TREX} {
		assert.Contains(t, tags, want, want.String())
	}
	assert.NotContains(t, tags, VMHD)
	assert.Contains(t, string(b), "esds")
	assert.Contains(t, string(b), string(asc))
}

func TestMarshalInitRejectsIncomplete(t *testing.T) {
	_, err := MarshalVideoInit(VideoInitConfig{TrackID: 1, TimeScale: 90000})
	assert.Error(t, err)

	_, err = MarshalAudioInit(AudioInitConfig{TrackID: 2, TimeScale: 48000})
	assert.Error(t, err)

	_, err = MarshalVideoInit(VideoInitConfig{TimeScale: 90000, AVCConfig: []byte{1}})
	assert.Error(t, err)
}
