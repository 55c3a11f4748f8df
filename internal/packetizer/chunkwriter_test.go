package packetizer

import (
	"testing"

	"github.com/nareix/joy4/utils/bits/pio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmafpack/internal/bmff"
	"cmafpack/internal/media"
)

// parsedSample is one sample recovered from a segment payload.
type parsedSample struct {
	pts      int64
	duration uint32
	size     uint32
}

// parseSegment walks a segment payload (styp followed by moof+mdat pairs)
// and recovers the samples it describes.
func parseSegment(t *testing.T, b []byte) []parsedSample {
	t.Helper()
	var out []parsedSample
	for pos := 0; pos+8 <= len(b); {
		size := int(pio.U32BE(b[pos:]))
		require.GreaterOrEqual(t, size, 8)
		require.LessOrEqual(t, pos+size, len(b))
		tag := bmff.Tag(pio.U32BE(b[pos+4:]))
		if tag != bmff.MOOF {
			pos += size
			continue
		}
		var frag bmff.MovieFrag
		_, err := frag.Unmarshal(b[pos:pos+size], pos)
		require.NoError(t, err)
		pts := int64(frag.Track.DecodeTime.Time)
		for _, e := range frag.Track.Run.Entries {
			dur := e.Duration
			if frag.Track.Header.Flags&bmff.TrackFragDefaultDuration != 0 {
				dur = frag.Track.Header.DefaultDuration
			}
			sz := e.Size
			if frag.Track.Header.Flags&bmff.TrackFragDefaultSize != 0 {
				sz = frag.Track.Header.DefaultSize
			}
			out = append(out, parsedSample{pts: pts, duration: dur, size: sz})
			pts += int64(dur)
		}
		pos += size
	}
	return out
}

func videoSamples(n int, startPTS int64, dur uint32, size int) []media.Sample {
	samples := make([]media.Sample, n)
	pts := startPTS
	for i := range samples {
		samples[i] = media.Sample{
			Data:     make([]byte, size+i), // vary sizes
			PTS:      pts,
			Duration: dur,
			KeyFrame: i == 0,
		}
		pts += int64(dur)
	}
	return samples
}

func TestChunkWriterChunkedMode(t *testing.T) {
	w := NewChunkWriter(media.Video, 1, 1000, true)
	samples := videoSamples(5, 10000, 250, 64)

	var chunks [][]byte
	for _, s := range samples {
		chunk, err := w.AppendSample(s)
		require.NoError(t, err)
		require.NotNil(t, chunk, "chunked mode must emit a payload per sample")
		chunks = append(chunks, chunk)
	}
	assert.Equal(t, 5, w.SampleCount())
	assert.Equal(t, int64(10000), w.StartTimestamp())
	assert.Equal(t, int64(5*250), w.DurationTicks())
	assert.InDelta(t, 1.25, w.Duration(), 1e-9)

	seg := w.ChunkedSegment()
	var concat []byte
	for _, c := range chunks {
		concat = append(concat, c...)
	}
	assert.Equal(t, concat, seg, "segment must be the concatenation of emitted chunks")

	parsed := parseSegment(t, seg)
	require.Len(t, parsed, len(samples))
	for i, p := range parsed {
		assert.Equal(t, samples[i].PTS, p.pts, "sample %d", i)
		assert.Equal(t, samples[i].Duration, p.duration, "sample %d", i)
		assert.Equal(t, uint32(len(samples[i].Data)), p.size, "sample %d", i)
	}
}

func TestChunkWriterNonChunkedMode(t *testing.T) {
	w := NewChunkWriter(media.Audio, 2, 48000, false)
	samples := make([]media.Sample, 3)
	for i := range samples {
		samples[i] = media.Sample{
			Data:     make([]byte, 128),
			PTS:      int64(i) * 1024,
			Duration: 1024,
		}
		chunk, err := w.AppendSample(samples[i])
		require.NoError(t, err)
		assert.Nil(t, chunk, "non-chunked mode emits nothing until the segment is read")
	}

	seg := w.ChunkedSegment()
	parsed := parseSegment(t, seg)
	require.Len(t, parsed, 3)
	for i, p := range parsed {
		assert.Equal(t, samples[i].PTS, p.pts)
		assert.Equal(t, uint32(1024), p.duration)
		assert.Equal(t, uint32(128), p.size)
	}
}

func TestChunkWriterOrderContract(t *testing.T) {
	w := NewChunkWriter(media.Video, 1, 1000, true)
	_, err := w.AppendSample(media.Sample{Data: []byte{1}, PTS: 500, Duration: 100})
	require.NoError(t, err)

	_, err = w.AppendSample(media.Sample{Data: []byte{2}, PTS: 400, Duration: 100})
	assert.ErrorIs(t, err, ErrOutOfOrder)
	assert.Equal(t, 1, w.SampleCount(), "violating sample must not be admitted")

	// equal timestamps are allowed (non-decreasing order)
	_, err = w.AppendSample(media.Sample{Data: []byte{3}, PTS: 500, Duration: 100})
	assert.NoError(t, err)
}

func TestChunkWriterClear(t *testing.T) {
	w := NewChunkWriter(media.Video, 1, 1000, true)
	for _, s := range videoSamples(3, 0, 100, 32) {
		_, err := w.AppendSample(s)
		require.NoError(t, err)
	}
	firstSeg := w.ChunkedSegment()
	w.Clear()

	assert.Equal(t, 0, w.SampleCount())
	assert.Equal(t, int64(0), w.DurationTicks())
	assert.Nil(t, w.ChunkedSegment())

	// fragment sequence numbers keep increasing across segments
	chunk, err := w.AppendSample(media.Sample{Data: []byte{9}, PTS: 300, Duration: 100, KeyFrame: true})
	require.NoError(t, err)
	parsedOld := parseFirstSeq(t, firstSeg)
	parsedNew := parseFirstSeq(t, chunk)
	assert.Greater(t, parsedNew, parsedOld)
}

// parseFirstSeq returns the mfhd sequence number of the first moof found.
func parseFirstSeq(t *testing.T, b []byte) uint32 {
	t.Helper()
	for pos := 0; pos+8 <= len(b); {
		size := int(pio.U32BE(b[pos:]))
		require.GreaterOrEqual(t, size, 8)
		if bmff.Tag(pio.U32BE(b[pos+4:])) == bmff.MOOF {
			var frag bmff.MovieFrag
			_, err := frag.Unmarshal(b[pos:pos+size], pos)
			require.NoError(t, err)
			return frag.Header.SeqNum
		}
		pos += size
	}
	t.Fatal("no moof in payload")
	return 0
}

func TestChunkWriterSeqNumbersStrictlyIncrease(t *testing.T) {
	w := NewChunkWriter(media.Video, 1, 1000, true)
	var last uint32
	for i, s := range videoSamples(4, 0, 100, 16) {
		chunk, err := w.AppendSample(s)
		require.NoError(t, err)
		seq := parseFirstSeq(t, chunk)
		if i > 0 {
			assert.Equal(t, last+1, seq)
		}
		last = seq
	}
}
