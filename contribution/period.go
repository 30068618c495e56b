package contribution

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - A calendar month, keyed by its first day
// =============================================================================

// Period is a calendar month. Its Key is the first day of the month at
// midnight UTC, which is what storage persists.
//
// Month values outside 1..12 are not validated here; time.Date rolls them
// over into a neighbouring year. Callers that accept external input must
// check them first (see ParsePeriod).
type Period struct {
	Year  int
	Month time.Month
}

const periodKeyLayout = "2006-01-02"

func NewPeriod(year int, month time.Month) Period {
	return PeriodOf(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC))
}

// PeriodOf returns the period containing t, in t's location.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// Key returns the canonical date key of the period.
func (p Period) Key() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// KeyString is the storage form of Key.
func (p Period) KeyString() string { return p.Key().Format(periodKeyLayout) }

func (p Period) IsZero() bool { return p.Year == 0 && p.Month == 0 }

func (p Period) Equal(other Period) bool { return p.Key().Equal(other.Key()) }

func (p Period) Next() Period     { return PeriodOf(p.Key().AddDate(0, 1, 0)) }
func (p Period) Previous() Period { return PeriodOf(p.Key().AddDate(0, -1, 0)) }

// String formats the period as YYYY-MM.
func (p Period) String() string {
	if p.IsZero() {
		return ""
	}
	return p.Key().Format("2006-01")
}

// ParsePeriod accepts YYYY-MM or a YYYY-MM-DD key.
func ParsePeriod(s string) (Period, error) {
	for _, layout := range []string{"2006-01", periodKeyLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return PeriodOf(t), nil
		}
	}
	return Period{}, fmt.Errorf("%w: %q (use YYYY-MM)", ErrInvalidPeriod, s)
}

// PeriodFromParts validates an explicit year and month.
func PeriodFromParts(year, month int) (Period, error) {
	if year < 1 || month < 1 || month > 12 {
		return Period{}, fmt.Errorf("%w: year=%d month=%d", ErrInvalidPeriod, year, month)
	}
	return NewPeriod(year, time.Month(month)), nil
}
