package packetizer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmafpack/internal/media"
	"cmafpack/internal/platform/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSink captures sink notifications for assertions.
type recordingSink struct {
	mu        sync.Mutex
	chunks    []string
	completed []string
}

func (r *recordingSink) OnChunkPush(appID, streamID, fileName string, isVideo bool, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, fileName)
}

func (r *recordingSink) OnSegmentComplete(appID, streamID, fileName string, isVideo bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, fileName)
}

func (r *recordingSink) completedNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.completed...)
}

func (r *recordingSink) chunkNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.chunks...)
}

// rejectingStore fails every Add.
type rejectingStore struct{}

func (rejectingStore) Add(media.TrackKind, SegmentRecord) error {
	return errors.New("storage rejected the record")
}

func (rejectingStore) Lookup(string) (SegmentRecord, bool) { return SegmentRecord{}, false }

func videoDescriptor() *media.TrackDescriptor {
	return &media.TrackDescriptor{
		Kind:        media.Video,
		TimeScale:   1000,
		FrameRate:   30,
		Bitrate:     2_000_000,
		Width:       1280,
		Height:      720,
		PixelAspect: "1:1",
	}
}

func audioDescriptor() *media.TrackDescriptor {
	return &media.TrackDescriptor{
		Kind:       media.Audio,
		TimeScale:  48000,
		SampleRate: 48000,
		Bitrate:    128_000,
		Channels:   2,
	}
}

func newTestAssembler(t *testing.T, cfg Config, store SegmentStore, sink ChunkedTransferSink) *SegmentAssembler {
	t.Helper()
	if store == nil {
		store = NewMemoryStore(10)
	}
	if sink == nil {
		sink = &recordingSink{}
	}
	a, err := NewSegmentAssembler(cfg, store, sink, testLogger(), metrics.New())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func defaultConfig() Config {
	return Config{
		AppID:           "app",
		StreamID:        "stream",
		SegmentPrefix:   "seg",
		SegmentDuration: 2,
		RetentionCount:  10,
		LowLatency:      true,
		Video:           videoDescriptor(),
		Audio:           audioDescriptor(),
	}
}

// appendVideo appends one 250ms video sample and returns the next PTS.
func appendVideo(t *testing.T, a *SegmentAssembler, pts int64) int64 {
	t.Helper()
	err := a.AppendFrame(media.Video, media.Sample{
		Data:     []byte{0, 1, 2, 3},
		PTS:      pts,
		Duration: 250,
		KeyFrame: pts == 0,
	})
	require.NoError(t, err)
	return pts + 250
}

func TestSegmentBoundaryAndNaming(t *testing.T) {
	store := NewMemoryStore(10)
	sink := &recordingSink{}
	a := newTestAssembler(t, defaultConfig(), store, sink)

	// segment duration 2s at timescale 1000: eight 250-tick samples cross
	// the boundary on the eighth append
	pts := int64(0)
	for i := 0; i < 7; i++ {
		pts = appendVideo(t, a, pts)
		_, ok := store.Lookup("seg_1_video.m4s")
		assert.False(t, ok, "no segment before the boundary (sample %d)", i+1)
	}
	pts = appendVideo(t, a, pts)

	rec, ok := store.Lookup("seg_1_video.m4s")
	require.True(t, ok, "crossing the boundary must finalize segment 1")
	assert.Equal(t, uint32(1), rec.Sequence)
	assert.Equal(t, int64(0), rec.StartTimestamp)
	assert.Equal(t, int64(2000), rec.DurationTicks)
	assert.NotEmpty(t, rec.Payload)

	// the next eight samples produce segment 2
	for i := 0; i < 8; i++ {
		pts = appendVideo(t, a, pts)
	}
	rec2, ok := store.Lookup("seg_2_video.m4s")
	require.True(t, ok)
	assert.Equal(t, uint32(2), rec2.Sequence)
	assert.Equal(t, int64(2000), rec2.StartTimestamp)

	require.Eventually(t, func() bool {
		names := sink.completedNames()
		return len(names) == 2 && names[0] == "seg_1_video.m4s" && names[1] == "seg_2_video.m4s"
	}, time.Second, 5*time.Millisecond, "sink must see both completions in order")
}

func TestChunkPushPerSample(t *testing.T) {
	sink := &recordingSink{}
	a := newTestAssembler(t, defaultConfig(), nil, sink)

	appendVideo(t, a, 0)
	appendVideo(t, a, 250)

	require.Eventually(t, func() bool {
		return len(sink.chunkNames()) == 2
	}, time.Second, 5*time.Millisecond)
	for _, name := range sink.chunkNames() {
		assert.Equal(t, "seg_1_video.m4s", name, "in-progress chunks carry the upcoming segment name")
	}
}

func TestFinalizeNoSamplesIsNoop(t *testing.T) {
	store := NewMemoryStore(10)
	a := newTestAssembler(t, defaultConfig(), store, nil)

	require.NoError(t, a.FinalizeSegment(media.Video))
	require.NoError(t, a.FinalizeSegment(media.Video))

	// sequence was not consumed: the first real segment is number 1
	pts := int64(0)
	for i := 0; i < 8; i++ {
		pts = appendVideo(t, a, pts)
	}
	_, ok := store.Lookup("seg_1_video.m4s")
	assert.True(t, ok)
}

func TestFinalizeFailureDoesNotAdvanceSequence(t *testing.T) {
	cfg := defaultConfig()
	a, err := NewSegmentAssembler(cfg, rejectingStore{}, &recordingSink{}, testLogger(), metrics.New())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	appendErr := a.AppendFrame(media.Video, media.Sample{Data: []byte{1}, PTS: 0, Duration: 100})
	require.NoError(t, appendErr)

	require.Error(t, a.FinalizeSegment(media.Video), "store rejection must surface")

	// the fragment is lost but the stream keeps moving: the next segment
	// reuses sequence number 1 on a working store
	assert.NoError(t, a.AppendFrame(media.Video, media.Sample{Data: []byte{2}, PTS: 100, Duration: 100}))
}

func TestOutOfOrderAppendFails(t *testing.T) {
	a := newTestAssembler(t, defaultConfig(), nil, nil)

	require.NoError(t, a.AppendFrame(media.Video, media.Sample{Data: []byte{1}, PTS: 1000, Duration: 100}))
	err := a.AppendFrame(media.Video, media.Sample{Data: []byte{2}, PTS: 900, Duration: 100})
	assert.ErrorIs(t, err, ErrOutOfOrder)
}

func TestManifestLifecycle(t *testing.T) {
	a := newTestAssembler(t, defaultConfig(), nil, nil)

	_, err := a.GetManifest()
	assert.ErrorIs(t, err, ErrNotStarted)

	pts := int64(0)
	for i := 0; i < 8; i++ {
		pts = appendVideo(t, a, pts)
	}
	text, err := a.GetManifest()
	require.NoError(t, err)
	assert.Contains(t, text, `type="dynamic"`)
	assert.Contains(t, text, "seg_$Number$_video.m4s")
	assert.NotContains(t, text, "audio/mp4", "audio has not published a segment yet")
}

func TestTracksAreIndependent(t *testing.T) {
	store := NewMemoryStore(10)
	a := newTestAssembler(t, defaultConfig(), store, nil)

	// audio: 2s at 48000 ticks/s in 1024-tick frames crosses at sample 94
	var pts int64
	for i := 0; i < 94; i++ {
		err := a.AppendFrame(media.Audio, media.Sample{Data: make([]byte, 8), PTS: pts, Duration: 1024})
		require.NoError(t, err)
		pts += 1024
	}
	_, ok := store.Lookup("seg_1_audio.m4s")
	assert.True(t, ok, "audio boundary crossed independently of video")
	_, ok = store.Lookup("seg_1_video.m4s")
	assert.False(t, ok)
}

func TestAppendAfterCloseFails(t *testing.T) {
	cfg := defaultConfig()
	a, err := NewSegmentAssembler(cfg, NewMemoryStore(10), &recordingSink{}, testLogger(), metrics.New())
	require.NoError(t, err)
	a.Close()

	err = a.AppendFrame(media.Video, media.Sample{Data: []byte{1}, PTS: 0, Duration: 100})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, a.FinalizeSegment(media.Video), ErrClosed)
}

func TestUnconfiguredTrack(t *testing.T) {
	cfg := defaultConfig()
	cfg.Video = nil
	a := newTestAssembler(t, cfg, nil, nil)

	err := a.AppendFrame(media.Video, media.Sample{Data: []byte{1}, PTS: 0, Duration: 100})
	assert.Error(t, err)
}

func TestInitSegments(t *testing.T) {
	a := newTestAssembler(t, defaultConfig(), nil, nil)

	require.NoError(t, a.SetInitSegment(media.Video, []byte("init-v")))
	b, ok := a.InitSegment(media.Video)
	require.True(t, ok)
	assert.Equal(t, []byte("init-v"), b)

	_, ok = a.InitSegment(media.Audio)
	assert.False(t, ok)

	assert.Error(t, a.SetInitSegment(media.Video, nil), "empty init payload rejected")
}

func TestConfigValidation(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"no tracks":          func(c *Config) { c.Video, c.Audio = nil, nil },
		"zero duration":      func(c *Config) { c.SegmentDuration = 0 },
		"bad video geometry": func(c *Config) { c.Video.Width = 0 },
		"bad audio channels": func(c *Config) { c.Audio.Channels = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := defaultConfig()
			mutate(&cfg)
			_, err := NewSegmentAssembler(cfg, NewMemoryStore(1), &recordingSink{}, testLogger(), metrics.New())
			assert.Error(t, err)
		})
	}
}

func TestConcurrentTracks(t *testing.T) {
	store := NewMemoryStore(100)
	a := newTestAssembler(t, defaultConfig(), store, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pts := int64(0)
		for i := 0; i < 64; i++ {
			err := a.AppendFrame(media.Video, media.Sample{Data: []byte{1}, PTS: pts, Duration: 250})
			if err != nil {
				t.Error(err)
				return
			}
			pts += 250
		}
	}()
	go func() {
		defer wg.Done()
		pts := int64(0)
		for i := 0; i < 200; i++ {
			err := a.AppendFrame(media.Audio, media.Sample{Data: []byte{2}, PTS: pts, Duration: 1024})
			if err != nil {
				t.Error(err)
				return
			}
			pts += 1024
		}
	}()
	wg.Wait()

	// 64 * 250 ticks = 16s of video at 2s per segment
	assert.Equal(t, 8, store.Count(media.Video))
	for seq := 1; seq <= 8; seq++ {
		_, ok := store.Lookup(fmt.Sprintf("seg_%d_video.m4s", seq))
		assert.True(t, ok, "segment %d", seq)
	}
}
