package quota

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Inclusive date range [Start, End]
// =============================================================================

// Period is an inclusive date range. All period math works at day precision;
// timestamps are normalized to UTC midnight.
type Period struct {
	Start time.Time
	End   time.Time
}

func NewPeriod(start, end time.Time) Period {
	return Period{Start: dateOf(start), End: dateOf(end)}
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Valid reports whether End is not before Start.
func (p Period) Valid() bool {
	return !p.End.Before(p.Start)
}

// Contains returns true if the date is within [Start, End].
func (p Period) Contains(t time.Time) bool {
	d := dateOf(t)
	return !d.Before(p.Start) && !d.After(p.End)
}

// Overlaps returns true if the two inclusive ranges intersect.
func (p Period) Overlaps(other Period) bool {
	return !p.Start.After(other.End) && !other.Start.After(p.End)
}

// Intersect clamps p to other. Only meaningful when they overlap.
func (p Period) Intersect(other Period) Period {
	start := p.Start
	if other.Start.After(start) {
		start = other.Start
	}
	end := p.End
	if other.End.Before(end) {
		end = other.End
	}
	return Period{Start: start, End: end}
}

// Days returns the inclusive day count of the range.
func (p Period) Days() int {
	return int(p.End.Sub(p.Start).Hours()/24) + 1
}

func (p Period) String() string {
	return fmt.Sprintf("[%s, %s]", p.Start.Format("2006-01-02"), p.End.Format("2006-01-02"))
}

// =============================================================================
// SUB-PERIOD SPLITTING
// =============================================================================

// Months splits the period into calendar-month slices. The first and last
// slice are clamped to the period bounds.
func (p Period) Months() []Period {
	var months []Period
	cur := time.Date(p.Start.Year(), p.Start.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cur.After(p.End) {
		monthEnd := cur.AddDate(0, 1, -1)
		months = append(months, Period{Start: cur, End: monthEnd}.Intersect(p))
		cur = cur.AddDate(0, 1, 0)
	}
	return months
}

// Quarters splits the period into calendar-quarter slices, clamped to bounds.
func (p Period) Quarters() []Period {
	var quarters []Period
	qStartMonth := time.Month(((int(p.Start.Month())-1)/3)*3 + 1)
	cur := time.Date(p.Start.Year(), qStartMonth, 1, 0, 0, 0, 0, time.UTC)
	for !cur.After(p.End) {
		qEnd := cur.AddDate(0, 3, -1)
		quarters = append(quarters, Period{Start: cur, End: qEnd}.Intersect(p))
		cur = cur.AddDate(0, 3, 0)
	}
	return quarters
}

// Years splits the period into calendar-year slices, clamped to bounds.
func (p Period) Years() []Period {
	var years []Period
	cur := time.Date(p.Start.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	for !cur.After(p.End) {
		yEnd := time.Date(cur.Year(), time.December, 31, 0, 0, 0, 0, time.UTC)
		years = append(years, Period{Start: cur, End: yEnd}.Intersect(p))
		cur = cur.AddDate(1, 0, 0)
	}
	return years
}

// QuarterLabel returns "Q1".."Q4" for the quarter containing the period start.
func (p Period) QuarterLabel() string {
	return fmt.Sprintf("Q%d", (int(p.Start.Month())-1)/3+1)
}

// MonthLabel returns the three-letter month abbreviation of the period start.
func (p Period) MonthLabel() string {
	return p.Start.Format("Jan")
}

// =============================================================================
// CALENDAR HELPERS
// =============================================================================

func StartOfMonth(year int, month time.Month) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

func EndOfMonth(year int, month time.Month) time.Time {
	return time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}

// MonthKey identifies one calendar month, used by aggregation dedup.
type MonthKey struct {
	Year  int
	Month time.Month
}

func (k MonthKey) Period() Period {
	return Period{Start: StartOfMonth(k.Year, k.Month), End: EndOfMonth(k.Year, k.Month)}
}

func (k MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", k.Year, int(k.Month))
}

// MonthKeys returns every calendar month the period touches.
func (p Period) MonthKeys() []MonthKey {
	var keys []MonthKey
	cur := time.Date(p.Start.Year(), p.Start.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cur.After(p.End) {
		keys = append(keys, MonthKey{Year: cur.Year(), Month: cur.Month()})
		cur = cur.AddDate(0, 1, 0)
	}
	return keys
}
