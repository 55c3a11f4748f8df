// Package dashmpd models the subset of the DASH MPD schema emitted for
// live CMAF streams.
package dashmpd

import (
	"encoding/xml"
	"time"
)

type MPD struct {
	XMLName  xml.Name `xml:"urn:mpeg:dash:schema:mpd:2011 MPD"`
	Profiles string   `xml:"profiles,attr"`
	Type     string   `xml:"type,attr"`

	MinimumUpdatePeriod        Duration `xml:"minimumUpdatePeriod,attr"`
	PublishTime                string   `xml:"publishTime,attr"`
	AvailabilityStartTime      string   `xml:"availabilityStartTime,attr"`
	TimeShiftBufferDepth       Duration `xml:"timeShiftBufferDepth,attr"`
	SuggestedPresentationDelay Duration `xml:"suggestedPresentationDelay,attr"`
	MinBufferTime              Duration `xml:"minBufferTime,attr"`

	Period    Period    `xml:"Period"`
	UTCTiming UTCTiming `xml:"UTCTiming"`
}

type Period struct {
	ID    string   `xml:"id,attr"`
	Start Duration `xml:"start,attr"`

	AdaptationSet []AdaptationSet `xml:"AdaptationSet"`
}

type AdaptationSet struct {
	ID               int     `xml:"id,attr"`
	Group            int     `xml:"group,attr"`
	MimeType         string  `xml:"mimeType,attr"`
	Lang             string  `xml:"lang,attr,omitempty"`
	Width            int     `xml:"width,attr,omitempty"`
	Height           int     `xml:"height,attr,omitempty"`
	PAR              string  `xml:"par,attr,omitempty"`
	FrameRate        float64 `xml:"frameRate,attr,omitempty"`
	SegmentAlignment bool    `xml:"segmentAlignment,attr"`
	StartWithSAP     int     `xml:"startWithSAP,attr"`
	SubsegAlignment  bool    `xml:"subsegmentAlignment,attr"`
	SubsegSAP        int     `xml:"subsegmentStartsWithSAP,attr"`

	AudioChannelConfiguration *AudioChannelConfiguration `xml:"AudioChannelConfiguration,omitempty"`
	SegmentTemplate           SegmentTemplate            `xml:"SegmentTemplate"`
	Representation            Representation             `xml:"Representation"`
}

type SegmentTemplate struct {
	PresentationTimeOffset int     `xml:"presentationTimeOffset,attr"`
	Timescale              uint32  `xml:"timescale,attr"`
	Duration               uint64  `xml:"duration,attr"`
	AvailabilityTimeOffset float64 `xml:"availabilityTimeOffset,attr"`
	StartNumber            int     `xml:"startNumber,attr"`
	Initialization         string  `xml:"initialization,attr"`
	Media                  string  `xml:"media,attr"`
}

type Representation struct {
	ID                string `xml:"id,attr,omitempty"`
	Codecs            string `xml:"codecs,attr"`
	SAR               string `xml:"sar,attr,omitempty"`
	AudioSamplingRate int    `xml:"audioSamplingRate,attr,omitempty"`
	Bandwidth         int    `xml:"bandwidth,attr"`
}

type AudioChannelConfiguration struct {
	SchemeID string `xml:"schemeIdUri,attr"`
	Value    int    `xml:"value,attr"`
}

type UTCTiming struct {
	SchemeID string `xml:"schemeIdUri,attr"`
	Value    string `xml:"value,attr"`
}

// UTCTime formats a wall-clock time the way MPD timing attributes expect.
func UTCTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
