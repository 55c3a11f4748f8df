package packetizer

import (
	"fmt"

	"cmafpack/internal/media"
)

// Fixed file name components shared by the assembler, the manifest and the
// delivery layer. Sequence-numbered media segments use the per-kind suffix;
// init segments have fixed names.
const (
	VideoSegmentSuffix = "_video.m4s"
	AudioSegmentSuffix = "_audio.m4s"
	VideoInitFileName  = "init_video.mp4"
	AudioInitFileName  = "init_audio.mp4"
)

// Track IDs used in fragment and initialization boxes. Fixed per kind so the
// init segment and the fragments always agree.
const (
	VideoTrackID = uint32(1)
	AudioTrackID = uint32(2)
)

// TrackID returns the box-level track ID for a kind.
func TrackID(kind media.TrackKind) uint32 {
	if kind.IsVideo() {
		return VideoTrackID
	}
	return AudioTrackID
}

// SegmentSuffix returns the media segment suffix for a track kind.
func SegmentSuffix(kind media.TrackKind) string {
	if kind.IsVideo() {
		return VideoSegmentSuffix
	}
	return AudioSegmentSuffix
}

// InitFileName returns the initialization segment name for a track kind.
func InitFileName(kind media.TrackKind) string {
	if kind.IsVideo() {
		return VideoInitFileName
	}
	return AudioInitFileName
}

// SegmentFileName builds the externally addressable name of the seq-th
// segment of a track.
func SegmentFileName(prefix string, seq uint32, kind media.TrackKind) string {
	return fmt.Sprintf("%s_%d%s", prefix, seq, SegmentSuffix(kind))
}
