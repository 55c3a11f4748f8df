package media

import "fmt"

// TrackKind identifies the media type of a track. The set of kinds is
// closed: a track is either video or audio.
type TrackKind int

const (
	Video TrackKind = iota
	Audio
)

func (k TrackKind) String() string {
	switch k {
	case Video:
		return "video"
	case Audio:
		return "audio"
	}
	return fmt.Sprintf("TrackKind(%d)", int(k))
}

// IsVideo reports whether the kind is the video variant.
func (k TrackKind) IsVideo() bool { return k == Video }

// TrackDescriptor holds the static encoding parameters of one track. It is
// created once at stream start and never modified afterwards.
type TrackDescriptor struct {
	Kind      TrackKind
	TimeScale uint32 // ticks per second for this track's timestamps
	Bitrate   int

	// video only
	FrameRate   float64
	Width       int
	Height      int
	PixelAspect string

	// audio only
	SampleRate int
	Channels   int
}

// Validate checks that the descriptor is internally consistent for its kind.
func (d *TrackDescriptor) Validate() error {
	if d.TimeScale == 0 {
		return fmt.Errorf("%s track: timescale must be nonzero", d.Kind)
	}
	switch d.Kind {
	case Video:
		if d.Width <= 0 || d.Height <= 0 {
			return fmt.Errorf("video track: invalid geometry %dx%d", d.Width, d.Height)
		}
	case Audio:
		if d.Channels <= 0 {
			return fmt.Errorf("audio track: invalid channel count %d", d.Channels)
		}
	default:
		return fmt.Errorf("unknown track kind %d", int(d.Kind))
	}
	return nil
}
