package bmff

import (
	"fmt"

	"github.com/nareix/joy4/utils/bits/pio"
)

// Box types used only by initialization segments.
const (
	FTYP = Tag(0x66747970)
	MOOV = Tag(0x6d6f6f76)
	MVHD = Tag(0x6d766864)
	TRAK = Tag(0x7472616b)
	TKHD = Tag(0x746b6864)
	MDIA = Tag(0x6d646961)
	MDHD = Tag(0x6d646864)
	HDLR = Tag(0x68646c72)
	MINF = Tag(0x6d696e66)
	VMHD = Tag(0x766d6864)
	SMHD = Tag(0x736d6864)
	DINF = Tag(0x64696e66)
	DREF = Tag(0x64726566)
	URL  = Tag(0x75726c20)
	STBL = Tag(0x7374626c)
	STSD = Tag(0x73747364)
	AVC1 = Tag(0x61766331)
	AVCC = Tag(0x61766343)
	MP4A = Tag(0x6d703461)
	ESDS = Tag(0x65736473)
	STTS = Tag(0x73747473)
	STSC = Tag(0x73747363)
	STSZ = Tag(0x7374737a)
	STCO = Tag(0x7374636f)
	MVEX = Tag(0x6d766578)
	TREX = Tag(0x74726578)
)

// VideoInitConfig describes an AVC track for MarshalVideoInit.
type VideoInitConfig struct {
	TrackID   uint32
	TimeScale uint32
	Width     int
	Height    int
	// AVCConfig is the AVCDecoderConfigurationRecord from the encoder.
	AVCConfig []byte
}

// AudioInitConfig describes an AAC track for MarshalAudioInit.
type AudioInitConfig struct {
	TrackID    uint32
	TimeScale  uint32
	SampleRate int
	Channels   int
	// AACConfig is the AudioSpecificConfig from the encoder.
	AACConfig []byte
}

// MarshalVideoInit builds a single-track CMAF initialization segment
// (ftyp+moov) for an AVC video track.
func MarshalVideoInit(c VideoInitConfig) ([]byte, error) {
	if len(c.AVCConfig) == 0 {
		return nil, fmt.Errorf("video track %d: missing decoder configuration", c.TrackID)
	}
	if c.TrackID == 0 || c.TimeScale == 0 {
		return nil, fmt.Errorf("video track %d: invalid track parameters", c.TrackID)
	}
	w := &initWriter{}
	w.ftyp()
	moov := w.begin(MOOV)
	w.mvhd(c.TrackID)
	trak := w.begin(TRAK)
	w.tkhd(c.TrackID, uint32(c.Width)<<16, uint32(c.Height)<<16, 0)
	mdia := w.begin(MDIA)
	w.mdhd(c.TimeScale)
	w.hdlr("vide", "VideoHandler")
	minf := w.begin(MINF)
	w.fullBox(VMHD, 1, func() {
		w.zero(8) // graphics mode, opcolor
	})
	w.dinf()
	stbl := w.begin(STBL)
	stsd := w.fullBoxOpen(STSD, 0)
	w.u32(1) // entry count
	entry := w.begin(AVC1)
	w.zero(6)
	w.u16(1) // data reference index
	w.zero(16)
	w.u16(uint16(c.Width))
	w.u16(uint16(c.Height))
	w.u32(0x00480000) // 72dpi
	w.u32(0x00480000)
	w.zero(4)
	w.u16(1) // frame count
	w.zero(32)
	w.u16(24)     // depth
	w.u16(0xffff) // color table
	avcc := w.begin(AVCC)
	w.bytes(c.AVCConfig)
	w.end(avcc)
	w.end(entry)
	w.end(stsd)
	w.emptySampleTables()
	w.end(stbl)
	w.end(minf)
	w.end(mdia)
	w.end(trak)
	w.mvex(c.TrackID)
	w.end(moov)
	return w.b, nil
}

// MarshalAudioInit builds a single-track CMAF initialization segment
// (ftyp+moov) for an AAC audio track.
func MarshalAudioInit(c AudioInitConfig) ([]byte, error) {
	if len(c.AACConfig) == 0 {
		return nil, fmt.Errorf("audio track %d: missing decoder configuration", c.TrackID)
	}
	if c.TrackID == 0 || c.TimeScale == 0 {
		return nil, fmt.Errorf("audio track %d: invalid track parameters", c.TrackID)
	}
	w := &initWriter{}
	w.ftyp()
	moov := w.begin(MOOV)
	w.mvhd(c.TrackID)
	trak := w.begin(TRAK)
	w.tkhd(c.TrackID, 0, 0, 0x0100)
	mdia := w.begin(MDIA)
	w.mdhd(c.TimeScale)
	w.hdlr("soun", "SoundHandler")
	minf := w.begin(MINF)
	w.fullBox(SMHD, 0, func() {
		w.zero(4) // balance, reserved
	})
	w.dinf()
	stbl := w.begin(STBL)
	stsd := w.fullBoxOpen(STSD, 0)
	w.u32(1) // entry count
	entry := w.begin(MP4A)
	w.zero(6)
	w.u16(1) // data reference index
	w.zero(8)
	w.u16(uint16(c.Channels))
	w.u16(16) // sample size
	w.zero(4)
	w.u32(uint32(c.SampleRate) << 16)
	w.esds(c.TrackID, c.AACConfig)
	w.end(entry)
	w.end(stsd)
	w.emptySampleTables()
	w.end(stbl)
	w.end(minf)
	w.end(mdia)
	w.end(trak)
	w.mvex(c.TrackID)
	w.end(moov)
	return w.b, nil
}

// initWriter appends nested boxes, patching each length prefix on end.
type initWriter struct {
	b []byte
}

func (w *initWriter) begin(tag Tag) int {
	off := len(w.b)
	w.b = append(w.b, make([]byte, 8)...)
	pio.PutU32BE(w.b[off+4:], uint32(tag))
	return off
}

func (w *initWriter) end(off int) {
	pio.PutU32BE(w.b[off:], uint32(len(w.b)-off))
}

func (w *initWriter) u16(v uint16) {
	off := len(w.b)
	w.b = append(w.b, 0, 0)
	pio.PutU16BE(w.b[off:], v)
}

func (w *initWriter) u32(v uint32) {
	off := len(w.b)
	w.b = append(w.b, 0, 0, 0, 0)
	pio.PutU32BE(w.b[off:], v)
}

func (w *initWriter) bytes(d []byte) {
	w.b = append(w.b, d...)
}

func (w *initWriter) zero(n int) {
	w.b = append(w.b, make([]byte, n)...)
}

// fullBoxOpen begins a box with a version-and-flags word; the caller ends it.
func (w *initWriter) fullBoxOpen(tag Tag, flags uint32) int {
	off := w.begin(tag)
	w.u32(flags)
	return off
}

func (w *initWriter) fullBox(tag Tag, flags uint32, body func()) {
	off := w.fullBoxOpen(tag, flags)
	body()
	w.end(off)
}

func (w *initWriter) ftyp() {
	off := w.begin(FTYP)
	w.u32(0x69736f36) // iso6
	w.u32(0)
	w.u32(0x69736f36) // iso6
	w.u32(0x636d6663) // cmfc
	w.u32(0x64617368) // dash
	w.end(off)
}

var identityMatrix = [9]uint32{
	0x00010000, 0, 0,
	0, 0x00010000, 0,
	0, 0, 0x40000000,
}

func (w *initWriter) mvhd(trackID uint32) {
	w.fullBox(MVHD, 0, func() {
		w.u32(0)    // creation time
		w.u32(0)    // modification time
		w.u32(1000) // movie timescale
		w.u32(0)    // duration, unknown for live
		w.u32(0x00010000)
		w.u16(0x0100)
		w.zero(10)
		for _, v := range identityMatrix {
			w.u32(v)
		}
		w.zero(24)
		w.u32(trackID + 1) // next track id
	})
}

func (w *initWriter) tkhd(trackID, width, height uint32, volume uint16) {
	// flags: track enabled, in movie
	w.fullBox(TKHD, 0x3, func() {
		w.u32(0)
		w.u32(0)
		w.u32(trackID)
		w.zero(4)
		w.u32(0) // duration
		w.zero(8)
		w.u16(0) // layer
		w.u16(0) // alternate group
		w.u16(volume)
		w.zero(2)
		for _, v := range identityMatrix {
			w.u32(v)
		}
		w.u32(width)
		w.u32(height)
	})
}

func (w *initWriter) mdhd(timeScale uint32) {
	w.fullBox(MDHD, 0, func() {
		w.u32(0)
		w.u32(0)
		w.u32(timeScale)
		w.u32(0)
		w.u16(0x55c4) // "und"
		w.u16(0)
	})
}

func (w *initWriter) hdlr(handler, name string) {
	w.fullBox(HDLR, 0, func() {
		w.zero(4)
		w.bytes([]byte(handler))
		w.zero(12)
		w.bytes([]byte(name))
		w.zero(1)
	})
}

func (w *initWriter) dinf() {
	dinf := w.begin(DINF)
	w.fullBox(DREF, 0, func() {
		w.u32(1) // entry count
		// self-contained data reference
		url := w.fullBoxOpen(URL, 1)
		w.end(url)
	})
	w.end(dinf)
}

// emptySampleTables writes the zero-entry stts/stsc/stsz/stco required in a
// fragmented movie, where all sample information lives in the fragments.
func (w *initWriter) emptySampleTables() {
	w.fullBox(STTS, 0, func() { w.u32(0) })
	w.fullBox(STSC, 0, func() { w.u32(0) })
	w.fullBox(STSZ, 0, func() { w.u32(0); w.u32(0) })
	w.fullBox(STCO, 0, func() { w.u32(0) })
}

func (w *initWriter) mvex(trackID uint32) {
	mvex := w.begin(MVEX)
	w.fullBox(TREX, 0, func() {
		w.u32(trackID)
		w.u32(1) // sample description index
		w.u32(0) // default duration
		w.u32(0) // default size
		w.u32(0) // default flags
	})
	w.end(mvex)
}

// MPEG-4 descriptor tags carried inside esds.
const (
	esDescriptor         = 0x03
	decoderConfig        = 0x04
	decoderSpecificInfo  = 0x05
	syncLayerConfig      = 0x06
	objectTypeAudioISO14 = 0x40
	streamTypeAudio      = 0x15
)

func (w *initWriter) esds(trackID uint32, config []byte) {
	dsiLen := 2 + len(config)
	dcdLen := 2 + 13 + dsiLen
	esLen := 3 + dcdLen + 2 + 1

	off := w.fullBoxOpen(ESDS, 0)
	w.b = append(w.b, esDescriptor, byte(esLen))
	w.u16(uint16(trackID)) // ES_ID
	w.b = append(w.b, 0)   // stream priority and flags
	w.b = append(w.b, decoderConfig, byte(dcdLen-2))
	w.b = append(w.b, objectTypeAudioISO14, streamTypeAudio)
	w.zero(3) // buffer size
	w.u32(0)  // max bitrate
	w.u32(0)  // average bitrate
	w.b = append(w.b, decoderSpecificInfo, byte(len(config)))
	w.bytes(config)
	w.b = append(w.b, syncLayerConfig, 1, 0x02)
	w.end(off)
}
