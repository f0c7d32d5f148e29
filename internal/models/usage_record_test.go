package models

import (
	"testing"
	"time"
)

func TestYearMonthOf(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"utc", time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC), "2026-10"},
		{"converted to utc", time.Date(2026, 11, 1, 1, 0, 0, 0, time.FixedZone("CET", 2*3600)), "2026-10"},
		{"january", time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), "2027-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := YearMonthOf(tt.at); got != tt.want {
				t.Errorf("YearMonthOf() = %q, want %q", got, tt.want)
			}
			rec := &UsageRecord{CreatedAt: tt.at}
			if got := rec.YearMonth(); got != tt.want {
				t.Errorf("YearMonth() = %q, want %q", got, tt.want)
			}
		})
	}
}
