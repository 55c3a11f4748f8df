// Package packetizer accumulates encoded frames into CMAF movie fragments,
// decides segment boundaries, and publishes the DASH manifest describing
// the current window.
package packetizer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"cmafpack/internal/media"
	"cmafpack/internal/platform/metrics"
)

// ErrClosed is returned once the assembler has been torn down.
var ErrClosed = errors.New("assembler is closed")

// boundary comparisons tolerate float rounding in tick-to-second conversion
const durationEpsilon = 1e-6

// Config carries the stream-level parameters the assembler is built with.
// Track descriptors are owned by the assembler once passed in.
type Config struct {
	AppID           string
	StreamID        string
	SegmentPrefix   string
	SegmentDuration float64 // seconds
	RetentionCount  int     // segments kept per track
	LowLatency      bool    // chunked delivery
	Video           *media.TrackDescriptor
	Audio           *media.TrackDescriptor
}

type trackState struct {
	mu      sync.Mutex
	desc    *media.TrackDescriptor
	writer  *ChunkWriter
	nextSeq uint32       // next segment sequence number, starts at 1
	lastPTS atomic.Int64 // most recent appended timestamp, -1 until first
}

// SegmentAssembler owns one ChunkWriter per configured track and
// orchestrates boundary decisions, sequence numbering, persistence and sink
// notification. AppendFrame may be called concurrently for different
// tracks.
type SegmentAssembler struct {
	cfg      Config
	video    *trackState
	audio    *trackState
	store    SegmentStore
	manifest *ManifestGenerator
	disp     *dispatcher
	log      *slog.Logger
	met      *metrics.Metrics
	closed   atomic.Bool

	initMu   sync.RWMutex
	initSegs map[media.TrackKind][]byte
}

// NewSegmentAssembler validates the configuration and builds the per-track
// writers. At least one track must be configured.
func NewSegmentAssembler(cfg Config, store SegmentStore, sink ChunkedTransferSink, log *slog.Logger, met *metrics.Metrics) (*SegmentAssembler, error) {
	if cfg.Video == nil && cfg.Audio == nil {
		return nil, errors.New("at least one track must be configured")
	}
	if cfg.SegmentDuration <= 0 {
		return nil, fmt.Errorf("invalid segment duration %v", cfg.SegmentDuration)
	}
	a := &SegmentAssembler{
		cfg:      cfg,
		store:    store,
		log:      log,
		met:      met,
		initSegs: make(map[media.TrackKind][]byte),
	}
	if cfg.Video != nil {
		if err := cfg.Video.Validate(); err != nil {
			return nil, err
		}
		a.video = newTrackState(cfg.Video, VideoTrackID, cfg.LowLatency)
	}
	if cfg.Audio != nil {
		if err := cfg.Audio.Validate(); err != nil {
			return nil, err
		}
		a.audio = newTrackState(cfg.Audio, AudioTrackID, cfg.LowLatency)
	}
	a.manifest = NewManifestGenerator(cfg.SegmentPrefix, cfg.SegmentDuration, cfg.Video, cfg.Audio, log)
	a.disp = newDispatcher(cfg.AppID, cfg.StreamID, sink, log, met)
	return a, nil
}

func newTrackState(desc *media.TrackDescriptor, trackID uint32, chunked bool) *trackState {
	ts := &trackState{
		desc:    desc,
		writer:  NewChunkWriter(desc.Kind, trackID, desc.TimeScale, chunked),
		nextSeq: 1,
	}
	ts.lastPTS.Store(-1)
	return ts
}

func (a *SegmentAssembler) track(kind media.TrackKind) *trackState {
	if kind.IsVideo() {
		return a.video
	}
	return a.audio
}

// AppendFrame routes one sample to its track's writer. Chunk payloads
// produced in low-latency mode are forwarded to the sink asynchronously.
// When the accumulated duration reaches the configured segment duration the
// segment is finalized before returning.
func (a *SegmentAssembler) AppendFrame(kind media.TrackKind, s media.Sample) error {
	if a.closed.Load() {
		return ErrClosed
	}
	ts := a.track(kind)
	if ts == nil {
		return fmt.Errorf("no %s track configured", kind)
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	chunk, err := ts.writer.AppendSample(s)
	if err != nil {
		return err
	}
	ts.lastPTS.Store(s.PTS)
	if chunk != nil {
		a.disp.push(sinkNotice{
			fileName: SegmentFileName(a.cfg.SegmentPrefix, ts.nextSeq, kind),
			isVideo:  kind.IsVideo(),
			payload:  chunk,
		})
		a.met.IncChunksPushed(kind.String())
	}
	if ts.writer.Duration() >= a.cfg.SegmentDuration-durationEpsilon {
		return a.finalizeLocked(kind, ts)
	}
	return nil
}

// FinalizeSegment flushes the track's open fragment as a finalized segment.
// With zero accumulated samples it is a logged no-op success.
func (a *SegmentAssembler) FinalizeSegment(kind media.TrackKind) error {
	if a.closed.Load() {
		return ErrClosed
	}
	ts := a.track(kind)
	if ts == nil {
		return fmt.Errorf("no %s track configured", kind)
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return a.finalizeLocked(kind, ts)
}

// finalizeLocked is called with the track mutex held.
func (a *SegmentAssembler) finalizeLocked(kind media.TrackKind, ts *trackState) error {
	if ts.writer.SampleCount() == 0 {
		a.log.Debug("no data to finalize", "kind", kind.String())
		return nil
	}
	name := SegmentFileName(a.cfg.SegmentPrefix, ts.nextSeq, kind)
	rec := SegmentRecord{
		Sequence:       ts.nextSeq,
		Name:           name,
		StartTimestamp: ts.writer.StartTimestamp(),
		DurationTicks:  ts.writer.DurationTicks(),
		Payload:        ts.writer.ChunkedSegment(),
	}
	// The writer is cleared before persistence is attempted: if the store
	// rejects the record the fragment is an accepted loss and the next
	// append starts fresh, keeping live delivery moving.
	ts.writer.Clear()
	if err := a.store.Add(kind, rec); err != nil {
		a.met.IncFinalizeFailures()
		return fmt.Errorf("persist segment %s: %w", name, err)
	}
	ts.nextSeq++
	var lastVideo, lastAudio int64 = -1, -1
	if a.video != nil {
		lastVideo = a.video.lastPTS.Load()
	}
	if a.audio != nil {
		lastAudio = a.audio.lastPTS.Load()
	}
	if err := a.manifest.SegmentPublished(kind, lastVideo, lastAudio); err != nil {
		a.log.Error("manifest update failed", "error", err)
	}
	a.disp.push(sinkNotice{
		complete: true,
		fileName: name,
		isVideo:  kind.IsVideo(),
	})
	a.met.IncSegments(kind.String(), len(rec.Payload))
	a.log.Info("segment finalized",
		"name", name,
		"kind", kind.String(),
		"start", rec.StartTimestamp,
		"bytes", len(rec.Payload))
	return nil
}

// Descriptor returns the configured descriptor for a track kind, or nil
// when the track is not configured.
func (a *SegmentAssembler) Descriptor(kind media.TrackKind) *media.TrackDescriptor {
	if ts := a.track(kind); ts != nil {
		return ts.desc
	}
	return nil
}

// SetCodecTag overrides the RFC 6381 codec string advertised for a track in
// the manifest. Called by the ingest layer once the encoder's actual codec
// parameters are known.
func (a *SegmentAssembler) SetCodecTag(kind media.TrackKind, tag string) error {
	if a.track(kind) == nil {
		return fmt.Errorf("no %s track configured", kind)
	}
	if tag == "" {
		return fmt.Errorf("%s codec tag is empty", kind)
	}
	a.manifest.SetCodec(kind, tag)
	return nil
}

// SetInitSegment stores an encoder-built initialization segment for the
// track; the delivery layer serves it under the fixed init file name.
func (a *SegmentAssembler) SetInitSegment(kind media.TrackKind, payload []byte) error {
	if a.track(kind) == nil {
		return fmt.Errorf("no %s track configured", kind)
	}
	if len(payload) == 0 {
		return fmt.Errorf("%s init segment is empty", kind)
	}
	a.initMu.Lock()
	a.initSegs[kind] = payload
	a.initMu.Unlock()
	return nil
}

// InitSegment returns the stored initialization segment for a track.
func (a *SegmentAssembler) InitSegment(kind media.TrackKind) ([]byte, bool) {
	a.initMu.RLock()
	defer a.initMu.RUnlock()
	b, ok := a.initSegs[kind]
	return b, ok
}

// GetManifest returns the current manifest text. It fails with
// ErrNotStarted until a segment has been finalized on some track.
func (a *SegmentAssembler) GetManifest() (string, error) {
	text, err := a.manifest.GetManifest()
	if err == nil {
		a.met.IncManifestRequests()
	}
	return text, err
}

// Close tears the assembler down. Subsequent Append and Finalize calls
// fail; queued sink notifications are delivered best-effort.
func (a *SegmentAssembler) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.disp.close()
}
