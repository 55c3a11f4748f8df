package bmff

import "github.com/nareix/joy4/utils/bits/pio"

// MovieFrag is a moof box holding exactly one track fragment, the shape
// every CMAF chunk emitted by this module uses.
type MovieFrag struct {
	Header MovieFragHeader
	Track  TrackFrag
}

func (a *MovieFrag) Len() int {
	return 8 + a.Header.Len() + a.Track.Len()
}

func (a *MovieFrag) Marshal(b []byte) (n int) {
	putTag(b, MOOF)
	n = 8
	n += a.Header.Marshal(b[n:])
	n += a.Track.Marshal(b[n:])
	patchSize(b, n)
	return
}

func (a *MovieFrag) Unmarshal(b []byte, offset int) (n int, err error) {
	if len(b) < 8 || Tag(pio.U32BE(b[4:])) != MOOF {
		return 0, parseErr("moof", offset)
	}
	size := int(pio.U32BE(b))
	if size < 8 || size > len(b) {
		return 0, parseErr("moof size", offset)
	}
	n = 8
	var gotHeader, gotTrack bool
	for n+8 <= size {
		childSize := int(pio.U32BE(b[n:]))
		if childSize < 8 || n+childSize > size {
			return 0, parseErr("moof child size", offset+n)
		}
		child := b[n : n+childSize]
		switch Tag(pio.U32BE(b[n+4:])) {
		case MFHD:
			if _, err = a.Header.Unmarshal(child, offset+n); err != nil {
				return 0, err
			}
			gotHeader = true
		case TRAF:
			if _, err = a.Track.Unmarshal(child, offset+n); err != nil {
				return 0, err
			}
			gotTrack = true
		}
		n += childSize
	}
	if !gotHeader || !gotTrack {
		return 0, parseErr("moof children", offset)
	}
	return size, nil
}

// MovieFragHeader is the mfhd box carrying the fragment sequence number.
type MovieFragHeader struct {
	SeqNum uint32
}

func (a *MovieFragHeader) Len() int { return 16 }

func (a *MovieFragHeader) Marshal(b []byte) (n int) {
	putTag(b, MFHD)
	pio.PutU32BE(b[8:], 0) // version and flags
	pio.PutU32BE(b[12:], a.SeqNum)
	patchSize(b, 16)
	return 16
}

func (a *MovieFragHeader) Unmarshal(b []byte, offset int) (int, error) {
	if len(b) < 16 {
		return 0, parseErr("mfhd", offset)
	}
	a.SeqNum = pio.U32BE(b[12:])
	return 16, nil
}

// TrackFrag is a traf box: header, base decode time and one sample run.
type TrackFrag struct {
	Header     TrackFragHeader
	DecodeTime TrackFragDecodeTime
	Run        TrackFragRun
}

func (a *TrackFrag) Len() int {
	return 8 + a.Header.Len() + a.DecodeTime.Len() + a.Run.Len()
}

func (a *TrackFrag) Marshal(b []byte) (n int) {
	putTag(b, TRAF)
	n = 8
	n += a.Header.Marshal(b[n:])
	n += a.DecodeTime.Marshal(b[n:])
	n += a.Run.Marshal(b[n:])
	patchSize(b, n)
	return
}

func (a *TrackFrag) Unmarshal(b []byte, offset int) (n int, err error) {
	if len(b) < 8 || Tag(pio.U32BE(b[4:])) != TRAF {
		return 0, parseErr("traf", offset)
	}
	size := int(pio.U32BE(b))
	if size < 8 || size > len(b) {
		return 0, parseErr("traf size", offset)
	}
	n = 8
	for n+8 <= size {
		childSize := int(pio.U32BE(b[n:]))
		if childSize < 8 || n+childSize > size {
			return 0, parseErr("traf child size", offset+n)
		}
		child := b[n : n+childSize]
		switch Tag(pio.U32BE(b[n+4:])) {
		case TFHD:
			if _, err = a.Header.Unmarshal(child, offset+n); err != nil {
				return 0, err
			}
		case TFDT:
			if _, err = a.DecodeTime.Unmarshal(child, offset+n); err != nil {
				return 0, err
			}
		case TRUN:
			if _, err = a.Run.Unmarshal(child, offset+n); err != nil {
				return 0, err
			}
		}
		n += childSize
	}
	return size, nil
}

// tfhd flag bits
const (
	TrackFragDefaultDuration   = uint32(0x000008)
	TrackFragDefaultSize       = uint32(0x000010)
	TrackFragDefaultFlags      = uint32(0x000020)
	TrackFragDefaultBaseIsMOOF = uint32(0x020000)
)

// TrackFragHeader is the tfhd box.
type TrackFragHeader struct {
	Flags           uint32
	TrackID         uint32
	DefaultDuration uint32
	DefaultSize     uint32
	DefaultFlags    uint32
}

func (a *TrackFragHeader) Len() (n int) {
	n = 16
	if a.Flags&TrackFragDefaultDuration != 0 {
		n += 4
	}
	if a.Flags&TrackFragDefaultSize != 0 {
		n += 4
	}
	if a.Flags&TrackFragDefaultFlags != 0 {
		n += 4
	}
	return
}

func (a *TrackFragHeader) Marshal(b []byte) (n int) {
	putTag(b, TFHD)
	pio.PutU32BE(b[8:], a.Flags&0x00ffffff)
	pio.PutU32BE(b[12:], a.TrackID)
	n = 16
	if a.Flags&TrackFragDefaultDuration != 0 {
		pio.PutU32BE(b[n:], a.DefaultDuration)
		n += 4
	}
	if a.Flags&TrackFragDefaultSize != 0 {
		pio.PutU32BE(b[n:], a.DefaultSize)
		n += 4
	}
	if a.Flags&TrackFragDefaultFlags != 0 {
		pio.PutU32BE(b[n:], a.DefaultFlags)
		n += 4
	}
	patchSize(b, n)
	return
}

func (a *TrackFragHeader) Unmarshal(b []byte, offset int) (n int, err error) {
	if len(b) < 16 {
		return 0, parseErr("tfhd", offset)
	}
	a.Flags = pio.U32BE(b[8:]) & 0x00ffffff
	a.TrackID = pio.U32BE(b[12:])
	n = 16
	if a.Flags&TrackFragDefaultDuration != 0 {
		if len(b) < n+4 {
			return 0, parseErr("tfhd default duration", offset+n)
		}
		a.DefaultDuration = pio.U32BE(b[n:])
		n += 4
	}
	if a.Flags&TrackFragDefaultSize != 0 {
		if len(b) < n+4 {
			return 0, parseErr("tfhd default size", offset+n)
		}
		a.DefaultSize = pio.U32BE(b[n:])
		n += 4
	}
	if a.Flags&TrackFragDefaultFlags != 0 {
		if len(b) < n+4 {
			return 0, parseErr("tfhd default flags", offset+n)
		}
		a.DefaultFlags = pio.U32BE(b[n:])
		n += 4
	}
	return
}

// TrackFragDecodeTime is the tfdt box. Version 1 (64-bit time) is always
// written so long-running streams never wrap.
type TrackFragDecodeTime struct {
	Time uint64
}

func (a *TrackFragDecodeTime) Len() int { return 20 }

func (a *TrackFragDecodeTime) Marshal(b []byte) int {
	putTag(b, TFDT)
	pio.PutU32BE(b[8:], 0x01000000) // version 1
	pio.PutU64BE(b[12:], a.Time)
	patchSize(b, 20)
	return 20
}

func (a *TrackFragDecodeTime) Unmarshal(b []byte, offset int) (int, error) {
	if len(b) < 12 {
		return 0, parseErr("tfdt", offset)
	}
	if b[8] != 0 {
		if len(b) < 20 {
			return 0, parseErr("tfdt time", offset)
		}
		a.Time = pio.U64BE(b[12:])
		return 20, nil
	}
	if len(b) < 16 {
		return 0, parseErr("tfdt time", offset)
	}
	a.Time = uint64(pio.U32BE(b[12:]))
	return 16, nil
}

// trun flag bits
const (
	TrackRunDataOffset       = uint32(0x000001)
	TrackRunFirstSampleFlags = uint32(0x000004)
	TrackRunSampleDuration   = uint32(0x000100)
	TrackRunSampleSize       = uint32(0x000200)
	TrackRunSampleFlags      = uint32(0x000400)
)

// RunEntry describes one sample within a trun.
type RunEntry struct {
	Duration uint32
	Size     uint32
	Flags    uint32
}

// TrackFragRun is the trun box listing per-sample metadata.
type TrackFragRun struct {
	Flags            uint32
	DataOffset       uint32
	FirstSampleFlags uint32
	Entries          []RunEntry
}

func (a *TrackFragRun) entryLen() (n int) {
	if a.Flags&TrackRunSampleDuration != 0 {
		n += 4
	}
	if a.Flags&TrackRunSampleSize != 0 {
		n += 4
	}
	if a.Flags&TrackRunSampleFlags != 0 {
		n += 4
	}
	return
}

func (a *TrackFragRun) Len() (n int) {
	n = 16
	if a.Flags&TrackRunDataOffset != 0 {
		n += 4
	}
	if a.Flags&TrackRunFirstSampleFlags != 0 {
		n += 4
	}
	n += len(a.Entries) * a.entryLen()
	return
}

func (a *TrackFragRun) Marshal(b []byte) (n int) {
	putTag(b, TRUN)
	pio.PutU32BE(b[8:], a.Flags&0x00ffffff)
	pio.PutU32BE(b[12:], uint32(len(a.Entries)))
	n = 16
	if a.Flags&TrackRunDataOffset != 0 {
		pio.PutU32BE(b[n:], a.DataOffset)
		n += 4
	}
	if a.Flags&TrackRunFirstSampleFlags != 0 {
		pio.PutU32BE(b[n:], a.FirstSampleFlags)
		n += 4
	}
	for _, e := range a.Entries {
		if a.Flags&TrackRunSampleDuration != 0 {
			pio.PutU32BE(b[n:], e.Duration)
			n += 4
		}
		if a.Flags&TrackRunSampleSize != 0 {
			pio.PutU32BE(b[n:], e.Size)
			n += 4
		}
		if a.Flags&TrackRunSampleFlags != 0 {
			pio.PutU32BE(b[n:], e.Flags)
			n += 4
		}
	}
	patchSize(b, n)
	return
}

func (a *TrackFragRun) Unmarshal(b []byte, offset int) (n int, err error) {
	if len(b) < 16 {
		return 0, parseErr("trun", offset)
	}
	a.Flags = pio.U32BE(b[8:]) & 0x00ffffff
	count := int(pio.U32BE(b[12:]))
	n = 16
	if a.Flags&TrackRunDataOffset != 0 {
		if len(b) < n+4 {
			return 0, parseErr("trun data offset", offset+n)
		}
		a.DataOffset = pio.U32BE(b[n:])
		n += 4
	}
	if a.Flags&TrackRunFirstSampleFlags != 0 {
		if len(b) < n+4 {
			return 0, parseErr("trun first sample flags", offset+n)
		}
		a.FirstSampleFlags = pio.U32BE(b[n:])
		n += 4
	}
	if len(b) < n+count*a.entryLen() {
		return 0, parseErr("trun entries", offset+n)
	}
	a.Entries = make([]RunEntry, count)
	for i := range a.Entries {
		e := &a.Entries[i]
		if a.Flags&TrackRunSampleDuration != 0 {
			e.Duration = pio.U32BE(b[n:])
			n += 4
		}
		if a.Flags&TrackRunSampleSize != 0 {
			e.Size = pio.U32BE(b[n:])
			n += 4
		}
		if a.Flags&TrackRunSampleFlags != 0 {
			e.Flags = pio.U32BE(b[n:])
			n += 4
		}
	}
	return
}
