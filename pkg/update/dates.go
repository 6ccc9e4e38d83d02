package update

import (
	"fmt"
	"strings"
	"time"
)

// FeedLayouts are the publish-date layouts seen in RSS and Atom feeds.
var FeedLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC822Z,
	time.RFC822,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// WebLayouts are the human-readable date layouts used on agency pages,
// tried in order. Month-first wins over day-first for ambiguous dates.
var WebLayouts = []string{
	"January 2, 2006",
	"Jan 2, 2006",
	"2006-01-02",
	"01/02/2006",
	"02/01/2006",
}

// ISOLayouts are the ISO 8601 forms returned by agency JSON APIs.
var ISOLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999",
	"2006-01-02",
}

// ParseDate tries each layout in order and returns the first match in UTC.
func ParseDate(s string, layouts []string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return withKnownZone(t).UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date %q", s)
}

// US zone abbreviations used by agency feeds. time.Parse only knows the
// abbreviations of the local zone and gives the rest a zero offset.
var usZoneOffsets = map[string]int{
	"EST": -5 * 3600, "EDT": -4 * 3600,
	"CST": -6 * 3600, "CDT": -5 * 3600,
	"MST": -7 * 3600, "MDT": -6 * 3600,
	"PST": -8 * 3600, "PDT": -7 * 3600,
}

func withKnownZone(t time.Time) time.Time {
	name, offset := t.Zone()
	if offset != 0 {
		return t
	}
	want, ok := usZoneOffsets[name]
	if !ok {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(),
		time.FixedZone(name, want))
}
