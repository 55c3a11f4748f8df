// Package ingest adapts a joy4 encoder pipeline to the packetizer: codec
// descriptions select the configured tracks and packets become samples in
// the track timescale.
package ingest

import (
	"errors"
	"fmt"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/codec/aacparser"
	"github.com/nareix/joy4/codec/h264parser"

	"cmafpack/internal/bmff"
	"cmafpack/internal/media"
	"cmafpack/internal/packetizer"
)

// Adapter implements the av muxer calling convention (WriteHeader then
// WritePacket) on top of a SegmentAssembler. Packet durations are derived
// by holding back one packet per track until its successor arrives.
type Adapter struct {
	assembler *Assembler
	streams   []*streamRef
}

// Assembler is the subset of the packetizer the adapter drives.
type Assembler = packetizer.SegmentAssembler

type streamRef struct {
	kind    media.TrackKind
	scale   uint32
	nominal uint32 // fallback duration in ticks when no successor is known
	tail    *media.Sample
}

// New creates an adapter feeding the given assembler.
func New(a *Assembler) *Adapter {
	return &Adapter{assembler: a}
}

// WriteHeader matches pipeline streams to configured tracks, derives codec
// strings for the manifest and builds the initialization segments. Every
// stream must correspond to a configured track of the same kind.
func (ad *Adapter) WriteHeader(streams []av.CodecData) error {
	if len(streams) == 0 {
		return errors.New("no streams")
	}
	ad.streams = make([]*streamRef, len(streams))
	for i, cd := range streams {
		var kind media.TrackKind
		switch cd.(type) {
		case h264parser.CodecData:
			kind = media.Video
		case aacparser.CodecData:
			kind = media.Audio
		default:
			return fmt.Errorf("stream %d: unsupported codec type %v", i, cd.Type())
		}
		desc := ad.assembler.Descriptor(kind)
		if desc == nil {
			return fmt.Errorf("stream %d: no %s track configured", i, kind)
		}
		if err := ad.announceTrack(cd, kind, desc); err != nil {
			return fmt.Errorf("stream %d: %w", i, err)
		}
		ref := &streamRef{kind: kind, scale: desc.TimeScale}
		switch kind {
		case media.Video:
			if desc.FrameRate > 0 {
				ref.nominal = uint32(float64(desc.TimeScale) / desc.FrameRate)
			}
		case media.Audio:
			// one AAC frame
			ref.nominal = 1024
		}
		ad.streams[i] = ref
	}
	return nil
}

// announceTrack publishes the codec string and initialization segment that
// the encoder's actual parameters call for.
func (ad *Adapter) announceTrack(cd av.CodecData, kind media.TrackKind, desc *media.TrackDescriptor) error {
	var tag string
	var init []byte
	var err error
	switch cd := cd.(type) {
	case h264parser.CodecData:
		tag = fmt.Sprintf("avc1.%02x%02x%02x",
			cd.RecordInfo.AVCProfileIndication,
			cd.RecordInfo.ProfileCompatibility,
			cd.RecordInfo.AVCLevelIndication)
		init, err = bmff.MarshalVideoInit(bmff.VideoInitConfig{
			TrackID:   packetizer.VideoTrackID,
			TimeScale: desc.TimeScale,
			Width:     cd.Width(),
			Height:    cd.Height(),
			AVCConfig: cd.AVCDecoderConfRecordBytes(),
		})
	case aacparser.CodecData:
		tag = fmt.Sprintf("mp4a.40.%d", cd.Config.ObjectType)
		init, err = bmff.MarshalAudioInit(bmff.AudioInitConfig{
			TrackID:    packetizer.AudioTrackID,
			TimeScale:  desc.TimeScale,
			SampleRate: cd.SampleRate(),
			Channels:   cd.ChannelLayout().Count(),
			AACConfig:  cd.MPEG4AudioConfigBytes(),
		})
	}
	if err != nil {
		return err
	}
	if err := ad.assembler.SetCodecTag(kind, tag); err != nil {
		return err
	}
	return ad.assembler.SetInitSegment(kind, init)
}

// WritePacket converts a packet to a sample and forwards its predecessor,
// whose duration is now known.
func (ad *Adapter) WritePacket(pkt av.Packet) error {
	if int(pkt.Idx) >= len(ad.streams) || ad.streams[pkt.Idx] == nil {
		return fmt.Errorf("packet for unknown stream %d", pkt.Idx)
	}
	ref := ad.streams[pkt.Idx]
	pts := media.ToScale(pkt.Time, ref.scale)
	sample := &media.Sample{
		Data:     pkt.Data,
		PTS:      pts,
		KeyFrame: pkt.IsKeyFrame,
	}
	if ref.tail != nil {
		dur := pts - ref.tail.PTS
		if dur <= 0 {
			dur = int64(ref.nominal)
		}
		ref.tail.Duration = uint32(dur)
		if err := ad.assembler.AppendFrame(ref.kind, *ref.tail); err != nil {
			return err
		}
	}
	ref.tail = sample
	return nil
}

// Flush forwards any held-back packets using the nominal duration. Called
// at stream teardown.
func (ad *Adapter) Flush() error {
	for _, ref := range ad.streams {
		if ref == nil || ref.tail == nil {
			continue
		}
		ref.tail.Duration = ref.nominal
		if err := ad.assembler.AppendFrame(ref.kind, *ref.tail); err != nil {
			return err
		}
		ref.tail = nil
	}
	return nil
}
