package packetizer

import (
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cmafpack/internal/dashmpd"
	"cmafpack/internal/media"
)

// ErrNotStarted is returned by GetManifest before any segment has been
// finalized on any track. A manifest must never describe a stream that has
// not started.
var ErrNotStarted = errors.New("stream has not started")

// Operationally fixed manifest timing constants.
const (
	timeShiftBufferDepth = 6 * time.Second
	minimumUpdatePeriod  = 30 * time.Second

	defaultVideoCodec = "avc1.42401f"
	defaultAudioCodec = "mp4a.40.2"

	// publishTimePlaceholder marks the spots in the cached manifest text
	// where the current UTC time is substituted on every retrieval.
	publishTimePlaceholder = "@UTC-NOW@"
)

// ManifestGenerator renders the publishable state into DASH manifest text.
// The document is re-rendered only when a segment is finalized; retrievals
// reuse the cached text with the publish time substituted per call.
type ManifestGenerator struct {
	prefix      string
	segDuration float64
	availStart  time.Time
	video       *media.TrackDescriptor
	audio       *media.TrackDescriptor
	log         *slog.Logger
	now         func() time.Time

	mu             sync.Mutex
	videoCodec     string
	audioCodec     string
	videoPublished uint32
	audioPublished uint32
	cached         string
}

// NewManifestGenerator creates a generator for the given tracks. Either
// descriptor may be nil for a single-track stream. The availability start
// time is fixed at construction, which coincides with stream start.
func NewManifestGenerator(prefix string, segDuration float64, video, audio *media.TrackDescriptor, log *slog.Logger) *ManifestGenerator {
	return &ManifestGenerator{
		prefix:      prefix,
		segDuration: segDuration,
		availStart:  time.Now(),
		video:       video,
		audio:       audio,
		log:         log,
		now:         time.Now,
		videoCodec:  defaultVideoCodec,
		audioCodec:  defaultAudioCodec,
	}
}

// SetCodec replaces the advertised codec string for a track. The cached
// document is re-rendered so an already-started stream picks it up.
func (g *ManifestGenerator) SetCodec(kind media.TrackKind, tag string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if kind.IsVideo() {
		g.videoCodec = tag
	} else {
		g.audioCodec = tag
	}
	if g.videoPublished > 0 || g.audioPublished > 0 {
		if err := g.renderLocked(); err != nil {
			g.log.Error("manifest render failed", "error", err)
		}
	}
}

// SegmentPublished records a successful finalize for a track and re-renders
// the cached manifest. lastVideoPTS and lastAudioPTS are the most recent
// appended timestamps per track (negative when the track has no samples
// yet); they feed the inter-track drift diagnostic.
func (g *ManifestGenerator) SegmentPublished(kind media.TrackKind, lastVideoPTS, lastAudioPTS int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if kind.IsVideo() {
		g.videoPublished++
	} else {
		g.audioPublished++
	}
	if err := g.renderLocked(); err != nil {
		return err
	}
	g.logDrift(lastVideoPTS, lastAudioPTS)
	return nil
}

// Started reports whether at least one segment has been published.
func (g *ManifestGenerator) Started() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.videoPublished > 0 || g.audioPublished > 0
}

// GetManifest returns the manifest text with the current UTC time filled
// into the publish-time fields. It fails with ErrNotStarted until the first
// segment has been finalized.
func (g *ManifestGenerator) GetManifest() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.videoPublished == 0 && g.audioPublished == 0 {
		return "", ErrNotStarted
	}
	now := dashmpd.UTCTime(g.now())
	return strings.ReplaceAll(g.cached, publishTimePlaceholder, now), nil
}

func (g *ManifestGenerator) renderLocked() error {
	mpd := dashmpd.MPD{
		Profiles:                   "urn:mpeg:dash:profile:isoff-live:2011",
		Type:                       "dynamic",
		MinimumUpdatePeriod:        dashmpd.Duration{Duration: minimumUpdatePeriod},
		PublishTime:                publishTimePlaceholder,
		AvailabilityStartTime:      dashmpd.UTCTime(g.availStart),
		TimeShiftBufferDepth:       dashmpd.Duration{Duration: timeShiftBufferDepth},
		SuggestedPresentationDelay: dashmpd.Seconds(g.segDuration),
		MinBufferTime:              dashmpd.Seconds(g.segDuration),
		Period:                     dashmpd.Period{ID: "0"},
		UTCTiming: dashmpd.UTCTiming{
			SchemeID: "urn:mpeg:dash:utc:direct:2014",
			Value:    publishTimePlaceholder,
		},
	}
	if g.video != nil && g.videoPublished > 0 {
		mpd.Period.AdaptationSet = append(mpd.Period.AdaptationSet, g.videoAdaptationSet())
	}
	if g.audio != nil && g.audioPublished > 0 {
		mpd.Period.AdaptationSet = append(mpd.Period.AdaptationSet, g.audioAdaptationSet())
	}
	blob, err := xml.MarshalIndent(mpd, "", "\t")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	g.cached = xml.Header + string(blob)
	return nil
}

func (g *ManifestGenerator) videoAdaptationSet() dashmpd.AdaptationSet {
	d := g.video
	return dashmpd.AdaptationSet{
		ID:               0,
		Group:            1,
		MimeType:         "video/mp4",
		Width:            d.Width,
		Height:           d.Height,
		PAR:              d.PixelAspect,
		FrameRate:        d.FrameRate,
		SegmentAlignment: true,
		StartWithSAP:     1,
		SubsegAlignment:  true,
		SubsegSAP:        1,
		SegmentTemplate: dashmpd.SegmentTemplate{
			Timescale:              d.TimeScale,
			Duration:               uint64(g.segDuration * float64(d.TimeScale)),
			AvailabilityTimeOffset: VideoAvailabilityOffset(g.segDuration, d.FrameRate),
			StartNumber:            1,
			Initialization:         VideoInitFileName,
			Media:                  g.prefix + "_$Number$" + VideoSegmentSuffix,
		},
		Representation: dashmpd.Representation{
			Codecs:    g.videoCodec,
			SAR:       "1:1",
			Bandwidth: d.Bitrate,
		},
	}
}

func (g *ManifestGenerator) audioAdaptationSet() dashmpd.AdaptationSet {
	d := g.audio
	return dashmpd.AdaptationSet{
		ID:               1,
		Group:            2,
		MimeType:         "audio/mp4",
		Lang:             "und",
		SegmentAlignment: true,
		StartWithSAP:     1,
		SubsegAlignment:  true,
		SubsegSAP:        1,
		AudioChannelConfiguration: &dashmpd.AudioChannelConfiguration{
			SchemeID: "urn:mpeg:dash:23003:3:audio_channel_configuration:2011",
			Value:    d.Channels,
		},
		SegmentTemplate: dashmpd.SegmentTemplate{
			Timescale:              d.TimeScale,
			Duration:               uint64(g.segDuration * float64(d.TimeScale)),
			AvailabilityTimeOffset: AudioAvailabilityOffset(g.segDuration, d.SampleRate),
			StartNumber:            1,
			Initialization:         AudioInitFileName,
			Media:                  g.prefix + "_$Number$" + AudioSegmentSuffix,
		},
		Representation: dashmpd.Representation{
			Codecs:            g.audioCodec,
			AudioSamplingRate: d.SampleRate,
			Bandwidth:         d.Bitrate,
		},
	}
}

// logDrift emits a diagnostic with the audio-video presentation time gap in
// milliseconds. Only meaningful once both tracks have seen samples.
func (g *ManifestGenerator) logDrift(lastVideoPTS, lastAudioPTS int64) {
	if g.video == nil || g.audio == nil || lastVideoPTS < 0 || lastAudioPTS < 0 {
		return
	}
	videoMS := media.ToMillis(lastVideoPTS, g.video.TimeScale)
	audioMS := media.ToMillis(lastAudioPTS, g.audio.TimeScale)
	g.log.Debug("track time difference",
		"av_drift_ms", audioMS-videoMS,
		"audio_ms", audioMS,
		"video_ms", videoMS)
}

// VideoAvailabilityOffset computes how much earlier than the nominal segment
// boundary video content becomes available due to chunked delivery: the
// segment duration less one frame interval. A zero frame rate claims no
// early availability.
func VideoAvailabilityOffset(segDuration, frameRate float64) float64 {
	if frameRate == 0 {
		return segDuration
	}
	return segDuration - 1/frameRate
}

// AudioAvailabilityOffset is the audio equivalent: the segment duration less
// one AAC frame (1024 samples) at the track's sample rate.
func AudioAvailabilityOffset(segDuration float64, sampleRate int) float64 {
	if sampleRate/1024 == 0 {
		return segDuration
	}
	return segDuration - 1024/float64(sampleRate)
}
