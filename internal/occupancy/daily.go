package occupancy

import (
	"sort"
	"time"

	"entrytracker/internal/model"
)

// DaySummary aggregates one calendar day. Net may be negative when people who
// entered on an earlier day leave today.
type DaySummary struct {
	Date    string `json:"date"`
	Entries int    `json:"entries"`
	Exits   int    `json:"exits"`
	Net     int    `json:"net"`
}

// DayKey returns the calendar date of t in loc as YYYY-MM-DD.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(time.DateOnly)
}

// Daily partitions entries by calendar date in loc, newest day first.
func Daily(entries []model.Entry, loc *time.Location) []DaySummary {
	byDay := map[string]*DaySummary{}
	for _, e := range entries {
		key := DayKey(e.Timestamp, loc)
		d, ok := byDay[key]
		if !ok {
			d = &DaySummary{Date: key}
			byDay[key] = d
		}
		d.add(e.Type)
	}

	out := make([]DaySummary, 0, len(byDay))
	for _, d := range byDay {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out
}

// Today summarizes the calendar day containing now.
func Today(entries []model.Entry, now time.Time, loc *time.Location) DaySummary {
	key := DayKey(now, loc)
	d := DaySummary{Date: key}
	for _, e := range entries {
		if DayKey(e.Timestamp, loc) == key {
			d.add(e.Type)
		}
	}
	return d
}

func (d *DaySummary) add(t model.EntryType) {
	switch t {
	case model.EntryTypeEntry:
		d.Entries++
	case model.EntryTypeExit:
		d.Exits++
	}
	d.Net = d.Entries - d.Exits
}
