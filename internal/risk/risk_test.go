package risk_test

import (
	"testing"
	"time"

	"clearline/internal/domain"
	"clearline/internal/risk"
)

func TestDaysPostEta(t *testing.T) {
	eta := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		now  time.Time
		want int
	}{
		{time.Date(2025, 3, 8, 12, 0, 0, 0, time.UTC), 0},
		{time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), 0},
		{time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC), 0},
		{time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), 1},
		{time.Date(2025, 3, 17, 6, 0, 0, 0, time.UTC), 7},
	}
	for _, c := range cases {
		if got := risk.DaysPostEta(c.now, eta); got != c.want {
			t.Errorf("DaysPostEta(%s) = %d, want %d", c.now, got, c.want)
		}
	}
}

func TestClassifyByElapsedDays(t *testing.T) {
	cases := []struct {
		days int
		want domain.RiskLevel
	}{
		{0, domain.RiskLow},
		{2, domain.RiskLow},
		{3, domain.RiskLow},
		{4, domain.RiskMedium},
		{5, domain.RiskHigh},
		{7, domain.RiskHigh},
		{8, domain.RiskHigh},
		{9, domain.RiskCritical},
		{30, domain.RiskCritical},
	}
	for _, c := range cases {
		got := risk.Classify(risk.Input{DaysPostEta: c.days})
		if got != c.want {
			t.Errorf("Classify(days=%d) = %s, want %s", c.days, got, c.want)
		}
	}
}

func TestClassifyOverdueSteps(t *testing.T) {
	if got := risk.Classify(risk.Input{DaysPostEta: 1, OverdueNonCritical: 2}); got != domain.RiskMedium {
		t.Errorf("overdue non-critical: got %s, want medium", got)
	}
	if got := risk.Classify(risk.Input{DaysPostEta: 1, OverdueCritical: 1}); got != domain.RiskHigh {
		t.Errorf("overdue critical: got %s, want high", got)
	}
	if got := risk.Classify(risk.Input{Blocked: true}); got != domain.RiskCritical {
		t.Errorf("blocked: got %s, want critical", got)
	}
}

func TestClassifyMonotonicInDays(t *testing.T) {
	prev := risk.Classify(risk.Input{DaysPostEta: 0})
	for d := 1; d <= 30; d++ {
		cur := risk.Classify(risk.Input{DaysPostEta: d})
		if !cur.AtLeast(prev) {
			t.Fatalf("risk dropped from %s to %s at day %d", prev, cur, d)
		}
		prev = cur
	}
}

func TestDemurrage(t *testing.T) {
	if got := risk.DemurrageOMR(0); got != 0 {
		t.Errorf("day 0: got %v", got)
	}
	if got := risk.DemurrageOMR(8); got != 0 {
		t.Errorf("day 8 still in grace: got %v", got)
	}
	if got := risk.DemurrageOMR(9); got != risk.DemurrageRatePerDayOMR {
		t.Errorf("day 9: got %v, want one day's rate", got)
	}
	if got := risk.DemurrageOMR(13); got != 5*risk.DemurrageRatePerDayOMR {
		t.Errorf("day 13: got %v, want five days' rate", got)
	}
}
