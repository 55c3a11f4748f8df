package packetizer

import (
	"bytes"
	"errors"
	"fmt"

	"cmafpack/internal/bmff"
	"cmafpack/internal/media"
)

// ErrOutOfOrder is returned when a sample is appended with a timestamp
// earlier than the previous sample on the same track.
var ErrOutOfOrder = errors.New("sample timestamp out of order")

// ChunkWriter accumulates samples of one track into a single CMAF movie
// fragment. In chunked mode every appended sample is wrapped in its own
// moof+mdat pair and returned immediately so it can be delivered before the
// segment closes; the full segment is the concatenation of those chunks
// behind a leading styp. In non-chunked mode samples are queued and the
// fragment is built once when the segment is read out.
//
// Methods are not safe for concurrent use; the owning assembler serializes
// access per track.
type ChunkWriter struct {
	kind    media.TrackKind
	trackID uint32
	scale   uint32
	chunked bool
	styp    []byte

	// fragSeq is the mfhd sequence number. It increases for every fragment
	// written over the track's lifetime and survives Clear.
	fragSeq uint32

	startPTS int64
	lastPTS  int64
	count    int
	durTicks int64
	pending  []media.Sample
	buf      bytes.Buffer
}

// NewChunkWriter creates a writer for one track. trackID must match the
// track's ID in the initialization segment.
func NewChunkWriter(kind media.TrackKind, trackID, timeScale uint32, chunked bool) *ChunkWriter {
	styp := bmff.CMAFSegmentType()
	b := make([]byte, styp.Len())
	styp.Marshal(b)
	return &ChunkWriter{
		kind:    kind,
		trackID: trackID,
		scale:   timeScale,
		chunked: chunked,
		styp:    b,
	}
}

// AppendSample adds one sample to the open fragment. In chunked mode the
// returned slice is a self-contained chunk covering just this sample, ready
// to be pushed downstream; otherwise nil is returned until the segment is
// read out. Samples must arrive in non-decreasing timestamp order.
func (w *ChunkWriter) AppendSample(s media.Sample) ([]byte, error) {
	if w.count > 0 && s.PTS < w.lastPTS {
		return nil, fmt.Errorf("%s track: %w: %d after %d", w.kind, ErrOutOfOrder, s.PTS, w.lastPTS)
	}
	if w.count == 0 {
		w.startPTS = s.PTS
	}
	w.count++
	w.lastPTS = s.PTS
	w.durTicks += int64(s.Duration)
	if !w.chunked {
		w.pending = append(w.pending, s)
		return nil, nil
	}
	var chunk []byte
	if w.buf.Len() == 0 {
		// first chunk of the segment carries the styp
		chunk = make([]byte, 0, len(w.styp))
		chunk = append(chunk, w.styp...)
	}
	chunk = w.appendFragment(chunk, []media.Sample{s})
	w.buf.Write(chunk)
	return chunk, nil
}

// SampleCount returns how many samples the open fragment holds.
func (w *ChunkWriter) SampleCount() int { return w.count }

// StartTimestamp returns the timestamp of the first sample appended since
// the last Clear. Meaningless while SampleCount is zero.
func (w *ChunkWriter) StartTimestamp() int64 { return w.startPTS }

// DurationTicks returns the accumulated duration of the open fragment in
// track timescale units.
func (w *ChunkWriter) DurationTicks() int64 { return w.durTicks }

// Duration returns the accumulated duration of the open fragment in seconds.
func (w *ChunkWriter) Duration() float64 {
	return media.ToSeconds(w.durTicks, w.scale)
}

// ChunkedSegment returns the complete segment payload accumulated since the
// last Clear. The returned slice is owned by the caller.
func (w *ChunkWriter) ChunkedSegment() []byte {
	if w.chunked {
		if w.buf.Len() == 0 {
			return nil
		}
		out := make([]byte, w.buf.Len())
		copy(out, w.buf.Bytes())
		return out
	}
	if len(w.pending) == 0 {
		return nil
	}
	out := make([]byte, 0, len(w.styp))
	out = append(out, w.styp...)
	return w.appendFragment(out, w.pending)
}

// Clear resets the accumulated state so a new fragment can begin. The
// fragment sequence number is deliberately not reset.
func (w *ChunkWriter) Clear() {
	w.count = 0
	w.startPTS = 0
	w.lastPTS = 0
	w.durTicks = 0
	w.pending = w.pending[:0]
	w.buf.Reset()
}

// appendFragment marshals one moof+mdat covering the given samples and
// appends it to b.
func (w *ChunkWriter) appendFragment(b []byte, samples []media.Sample) []byte {
	w.fragSeq++
	defaultFlags := bmff.SampleNoDependencies
	if w.kind.IsVideo() {
		defaultFlags = bmff.SampleNonKeyframe
	}
	track := bmff.TrackFrag{
		Header: bmff.TrackFragHeader{
			Flags:   bmff.TrackFragDefaultBaseIsMOOF,
			TrackID: w.trackID,
		},
		DecodeTime: bmff.TrackFragDecodeTime{
			Time: uint64(samples[0].PTS),
		},
		Run: bmff.TrackFragRun{
			Flags:   bmff.TrackRunDataOffset,
			Entries: make([]bmff.RunEntry, 0, len(samples)),
		},
	}
	var mdatLen int
	for i, s := range samples {
		entry := bmff.RunEntry{
			Duration: s.Duration,
			Size:     uint32(len(s.Data)),
			Flags:    defaultFlags,
		}
		if s.KeyFrame {
			entry.Flags = bmff.SampleNoDependencies
		}
		if i == 0 {
			// Use the first sample's fields as defaults and fall back to
			// per-sample values if a later sample disagrees.
			track.Header.DefaultDuration = entry.Duration
			track.Header.DefaultSize = entry.Size
			track.Header.DefaultFlags = entry.Flags
			track.Run.FirstSampleFlags = entry.Flags
		} else {
			if entry.Duration != track.Header.DefaultDuration {
				track.Header.DefaultDuration = 0
			}
			if entry.Size != track.Header.DefaultSize {
				track.Header.DefaultSize = 0
			}
			// The first sample's flags can be carried separately, so the
			// default comes from the second sample onward.
			if i == 1 {
				track.Header.DefaultFlags = entry.Flags
			} else if entry.Flags != track.Header.DefaultFlags {
				track.Header.DefaultFlags = 0
			}
		}
		mdatLen += len(s.Data)
		track.Run.Entries = append(track.Run.Entries, entry)
	}
	if track.Header.DefaultSize != 0 {
		track.Header.Flags |= bmff.TrackFragDefaultSize
	} else {
		track.Run.Flags |= bmff.TrackRunSampleSize
	}
	if track.Header.DefaultDuration != 0 {
		track.Header.Flags |= bmff.TrackFragDefaultDuration
	} else {
		track.Run.Flags |= bmff.TrackRunSampleDuration
	}
	if track.Header.DefaultFlags != 0 {
		track.Header.Flags |= bmff.TrackFragDefaultFlags
		if track.Run.FirstSampleFlags != track.Header.DefaultFlags {
			track.Run.Flags |= bmff.TrackRunFirstSampleFlags
		}
	} else {
		track.Run.Flags |= bmff.TrackRunSampleFlags
	}
	moof := bmff.MovieFrag{
		Header: bmff.MovieFragHeader{SeqNum: w.fragSeq},
		Track:  track,
	}
	dataOffset := moof.Len() + 8
	moof.Track.Run.DataOffset = uint32(dataOffset)

	off := len(b)
	b = append(b, make([]byte, dataOffset)...)
	n := moof.Marshal(b[off:])
	bmff.PutMDATHeader(b[off+n:], mdatLen)
	for _, s := range samples {
		b = append(b, s.Data...)
	}
	return b
}
