// Package risk derives shipment risk from workflow timing. All functions
// are pure over (shipment, step instances, now).
package risk

import (
	"time"

	"clearline/internal/domain"
)

// Escalation day thresholds post-ETA, from the clearance SOP alert windows.
const (
	mediumAfterDays   = 4
	highAfterDays     = 5
	criticalAfterDays = 9
)

// Demurrage accrues once cargo sits uncollected past the free window.
const (
	DemurrageRatePerDayOMR = 38.462
	demurrageGraceDays     = 8
)

// DaysPostEta returns whole days elapsed since the ETA, floored at zero.
func DaysPostEta(now time.Time, eta time.Time) int {
	d := int(now.Sub(eta).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// Input is everything the classifier inspects.
type Input struct {
	DaysPostEta        int
	OverdueNonCritical int
	OverdueCritical    int
	Blocked            bool
}

// Classify maps elapsed time and step lateness to a risk tier. The result is
// monotonic non-decreasing in DaysPostEta and in both overdue counts.
func Classify(in Input) domain.RiskLevel {
	switch {
	case in.Blocked || in.DaysPostEta >= criticalAfterDays:
		return domain.RiskCritical
	case in.OverdueCritical > 0 || in.DaysPostEta >= highAfterDays:
		return domain.RiskHigh
	case in.OverdueNonCritical > 0 || in.DaysPostEta >= mediumAfterDays:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// DemurrageOMR estimates accrued demurrage exposure for a shipment that has
// sat uncollected daysPostEta days. Informational only, never stored.
func DemurrageOMR(daysPostEta int) float64 {
	if daysPostEta <= demurrageGraceDays {
		return 0
	}
	return float64(daysPostEta-demurrageGraceDays) * DemurrageRatePerDayOMR
}
