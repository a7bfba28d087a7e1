package orchestrator

import (
	"fmt"

	"github.com/Linkavych/rOSac/internal/catalog"
	"github.com/Linkavych/rOSac/internal/evidence"
)

// Policy decides which entries may touch the device.
type Policy struct {
	AllowSideEffects bool
	// MaxRisk caps entry risk; empty allows every level.
	MaxRisk catalog.Risk
}

// skipReason returns a non-empty reason when e must be recorded as skipped
// instead of executed. done holds the statuses of earlier modules.
func (p Policy) skipReason(e catalog.Entry, done map[string]evidence.Status) string {
	if e.DependsOn != "" {
		st, ok := done[e.DependsOn]
		switch {
		case !ok:
			return fmt.Sprintf("prerequisite %s was not run", e.DependsOn)
		case st != evidence.StatusSuccess:
			return fmt.Sprintf("prerequisite %s finished %s", e.DependsOn, st)
		}
	}
	if e.SideEffects && !p.AllowSideEffects {
		return "side effects not allowed"
	}
	if e.Risk.Exceeds(p.MaxRisk) {
		return fmt.Sprintf("risk %s exceeds limit %s", e.Risk, p.MaxRisk)
	}
	return ""
}
