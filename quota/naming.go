/*
naming.go - Deterministic human-readable target names

PURPOSE:
  Derives a target name from a user and a period: INITIALS-PERIODCODE.
  The function is pure and re-derivable from stored fields, so creation
  and backfill/rename jobs always agree.

EXAMPLES:
  Alfie Ferris, quarterly, 2025-04-01  -> "AF-Q2-2025"
  Alfie Ferris, annual,    2025-01-01  -> "AF-ANNUAL-2025"
  Alfie Ferris, monthly,   2025-04-01  -> "AF-Apr-2025"
  Alfie Ferris, weekly,    2025-04-01  -> "AF-W14-2025"
  Alfie Ferris, custom,    2025-04-01..2025-05-15 -> "AF-4/1-5/15/2025"

SEE ALSO:
  - backfill.go: idempotent rename job built on this function
*/
package quota

import (
	"fmt"
	"strings"
	"time"
)

// TargetName derives the deterministic name for a user's target.
// end is only consulted for custom periods; pass the zero value otherwise.
func TargetName(user User, periodType PeriodType, start, end time.Time) string {
	return fmt.Sprintf("%s-%s", initials(user), periodCode(periodType, start, end))
}

func initials(user User) string {
	var b strings.Builder
	if user.FirstName != "" {
		b.WriteString(strings.ToUpper(user.FirstName[:1]))
	}
	if user.LastName != "" {
		b.WriteString(strings.ToUpper(user.LastName[:1]))
	}
	return b.String()
}

func periodCode(periodType PeriodType, start, end time.Time) string {
	switch periodType {
	case PeriodAnnual:
		return fmt.Sprintf("ANNUAL-%d", start.Year())

	case PeriodQuarterly:
		quarter := (int(start.Month())-1)/3 + 1
		return fmt.Sprintf("Q%d-%d", quarter, start.Year())

	case PeriodMonthly:
		return fmt.Sprintf("%s-%d", start.Format("Jan"), start.Year())

	case PeriodWeekly:
		year, week := start.ISOWeek()
		return fmt.Sprintf("W%d-%d", week, year)

	default:
		if end.IsZero() {
			end = start
		}
		return fmt.Sprintf("%d/%d-%d/%d/%d",
			int(start.Month()), start.Day(),
			int(end.Month()), end.Day(),
			start.Year())
	}
}

// ChildPeriodType maps a sub-period slice back to the period type used when
// naming child targets.
func ChildPeriodType(granularity SeasonalGranularity) PeriodType {
	if granularity == SeasonalQuarterly {
		return PeriodQuarterly
	}
	return PeriodMonthly
}
