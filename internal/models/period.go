package models

import (
	"fmt"
	"time"
)

const periodLayout = "2006-01"

// Period is a calendar month in UTC. Its key ("2025-03") identifies a ring.
type Period struct {
	Year  int
	Month time.Month
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return Period{Year: t.Year(), Month: t.Month()}
}

// ParsePeriod parses a period key of the form YYYY-MM.
func ParsePeriod(key string) (Period, error) {
	t, err := time.Parse(periodLayout, key)
	if err != nil {
		return Period{}, fmt.Errorf("period %q: %w", key, ErrInvalidArgument)
	}
	return PeriodOf(t), nil
}

func (p Period) Key() string {
	return p.Start().Format(periodLayout)
}

func (p Period) String() string { return p.Key() }

// Start is the first instant of the period.
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End is the first instant after the period.
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, 0)
}

func (p Period) Previous() Period {
	return PeriodOf(p.Start().AddDate(0, -1, 0))
}

func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start()) && t.Before(p.End())
}
