// Package timeparse canonicalizes arbitrary date/time evidence into the fixed
// operating timezone plus the display fragments the record keeps alongside it.
//
// Input formats are inconsistent across channels (ISO strings from providers,
// SQL strings from re-imports, dd.MM.yyyy from bank receipts, epochs from SMS
// relays), so parse strategies are attempted in a fixed order and the first
// valid result wins. When everything fails the resolver silently returns the
// current time in the operating zone; callers must not treat the result as
// authoritative for fraud-sensitive logic.
package timeparse

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// OperatingZone is the fixed timezone all records are canonicalized to.
const OperatingZone = "Asia/Tashkent"

var location = func() *time.Location {
	loc, err := time.LoadLocation(OperatingZone)
	if err != nil {
		// UTC+5, no DST.
		return time.FixedZone(OperatingZone, 5*3600)
	}
	return loc
}()

var explicitZoneRe = regexp.MustCompile(`(?:[zZ]|[+-]\d{2}:?\d{2})$`)

var weekdays = [...]string{"Вс", "Пн", "Вт", "Ср", "Чт", "Пт", "Сб"}

var months = [...]string{
	"янв", "фев", "мар", "апр", "май", "июн",
	"июл", "авг", "сен", "окт", "ноя", "дек",
}

// Layouts tried for strings carrying an explicit zone offset.
var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z07:00",
}

// Layouts tried for zone-less strings, interpreted in the operating zone.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"2006-01-02",
	"02.01.2006",
}

// Parts holds the canonical value and its display fragments.
type Parts struct {
	Time        time.Time
	Weekday     string
	DateDisplay string
	TimeDisplay string
	Formatted   string
}

// DB renders the canonical value in the SQL storage format.
func (p Parts) DB() string {
	return p.Time.Format("2006-01-02 15:04:05")
}

// Location returns the fixed operating timezone.
func Location() *time.Location {
	return location
}

// Resolve canonicalizes input into the operating timezone and derives the
// display fragments. Input may be a string, an epoch (seconds or millis), a
// time.Time, or nil.
func Resolve(input any) Parts {
	return partsOf(ResolveTime(input))
}

// ResolveTime is Resolve without the display fragments.
func ResolveTime(input any) time.Time {
	switch v := input.(type) {
	case nil:
		return time.Now().In(location)
	case time.Time:
		if v.IsZero() {
			return time.Now().In(location)
		}
		return v.In(location)
	case int64:
		return fromEpoch(v)
	case int:
		return fromEpoch(int64(v))
	case float64:
		return fromEpoch(int64(v))
	case string:
		return parseString(v)
	default:
		return parseString(fmt.Sprint(v))
	}
}

func fromEpoch(v int64) time.Time {
	if v <= 0 {
		return time.Now().In(location)
	}
	// Heuristic: values past the year 2200 in seconds are milliseconds.
	if v > 7e9 {
		return time.UnixMilli(v).In(location)
	}
	return time.Unix(v, 0).In(location)
}

func parseString(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Now().In(location)
	}

	if explicitZoneRe.MatchString(raw) {
		for _, layout := range zonedLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.In(location)
			}
		}
	}

	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, raw, location); err == nil {
			return t
		}
	}

	return time.Now().In(location)
}

func partsOf(t time.Time) Parts {
	return Parts{
		Time:        t,
		Weekday:     weekdays[int(t.Weekday())],
		DateDisplay: fmt.Sprintf("%d %s", t.Day(), months[int(t.Month())-1]),
		TimeDisplay: t.Format("15:04"),
		Formatted:   t.Format("02.01.2006 15:04"),
	}
}
