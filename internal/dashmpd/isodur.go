package dashmpd

import (
	"strconv"
	"time"
)

// Duration marshals as an ISO-8601 duration attribute. Live MPD attributes
// only ever span seconds to minutes here, so the seconds form is always used.
type Duration struct {
	time.Duration
}

func Seconds(s float64) Duration {
	return Duration{time.Duration(s * float64(time.Second))}
}

func (d Duration) MarshalText() ([]byte, error) {
	b := []byte("PT")
	sec := d.Duration.Seconds()
	if float64(int64(sec)) == sec {
		b = strconv.AppendInt(b, int64(sec), 10)
	} else {
		b = strconv.AppendFloat(b, sec, 'f', 3, 64)
	}
	return append(b, 'S'), nil
}
