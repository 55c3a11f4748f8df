package dashmpd

import (
	"encoding/xml"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationMarshalText(t *testing.T) {
	for want, d := range map[string]Duration{
		"PT2S":     Seconds(2),
		"PT0.500S": Seconds(0.5),
		"PT30S":    {30 * time.Second},
		"PT6S":     {6 * time.Second},
		"PT1.500S": {1500 * time.Millisecond},
	} {
		b, err := d.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, want, string(b))
	}
}

func TestUTCTime(t *testing.T) {
	loc := time.FixedZone("plus2", 2*3600)
	got := UTCTime(time.Date(2024, 5, 1, 12, 30, 0, 250_000_000, loc))
	assert.Equal(t, "2024-05-01T10:30:00.250Z", got)
}

func TestMPDMarshal(t *testing.T) {
	doc := MPD{
		Profiles:            "urn:mpeg:dash:profile:isoff-live:2011",
		Type:                "dynamic",
		MinimumUpdatePeriod: Seconds(30),
		PublishTime:         "2024-05-01T10:30:00.000Z",
		Period: Period{
			ID: "0",
			AdaptationSet: []AdaptationSet{{
				MimeType: "video/mp4",
				SegmentTemplate: SegmentTemplate{
					Timescale:   1000,
					Duration:    2000,
					StartNumber: 1,
					Media:       "seg_$Number$_video.m4s",
				},
				Representation: Representation{Codecs: "avc1.42401f", Bandwidth: 2_000_000},
			}},
		},
	}
	b, err := xml.Marshal(doc)
	require.NoError(t, err)
	s := string(b)
	assert.Contains(t, s, `xmlns="urn:mpeg:dash:schema:mpd:2011"`)
	assert.Contains(t, s, `minimumUpdatePeriod="PT30S"`)
	assert.Contains(t, s, `media="seg_$Number$_video.m4s"`)
	assert.Contains(t, s, `codecs="avc1.42401f"`)
}
