package media

// Sample is a single encoded access unit queued for packetization.
// Timestamps and durations are expressed in the owning track's timescale.
// The payload is consumed when the sample is written into a fragment and
// must not be modified by the caller afterwards.
type Sample struct {
	Data     []byte
	PTS      int64
	Duration uint32
	KeyFrame bool
}
