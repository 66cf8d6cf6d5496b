package timeseries

import (
	"fmt"
	"time"

	"trove-capacity-lab/internal/config"
)

// Granularity is the width of a timestamp bucket.
type Granularity string

// Supported granularities.
const (
	Day  Granularity = config.BucketDay
	Hour Granularity = config.BucketHour
	None Granularity = config.BucketNone // exact event timestamp
)

// ParseGranularity validates a configured bucket name.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(s); g {
	case Day, Hour, None:
		return g, nil
	case "":
		return Day, nil
	default:
		return "", fmt.Errorf("unknown bucket granularity %q", s)
	}
}

// Truncate maps a timestamp onto the start of its UTC bucket.
func (g Granularity) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch g {
	case Hour:
		return t.Truncate(time.Hour)
	case None:
		return t
	default:
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
}
