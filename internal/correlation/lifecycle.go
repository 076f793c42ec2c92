package correlation

import (
	"time"

	"github.com/quellhq/quell/internal/core/domain"
	"github.com/quellhq/quell/internal/metrics"
)

// sweepWorker runs the periodic lifecycle sweep until Stop is called.
func (e *Engine) sweepWorker() {
	defer close(e.sweepDone)

	ticker := time.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.sweep(time.Now().UTC())
		case <-e.stopCh:
			return
		}
	}
}

// sweep garbage-collects groups past their maximum age regardless of
// status, and resolved groups idle past the retention period. Ownership
// mappings are removed together with the group, ending the late-attribution
// grace period.
func (e *Engine) sweep(now time.Time) {
	start := time.Now()
	e.mu.Lock()

	var removed []*domain.AlertGroup
	for id, group := range e.groups {
		expired := now.Sub(group.CreatedAt) > e.config.MaxGroupAge
		retired := group.Status == domain.GroupStatusResolved &&
			now.Sub(group.UpdatedAt) > e.config.ResolvedRetention
		if !expired && !retired {
			continue
		}
		delete(e.groups, id)
		for _, alert := range group.Alerts {
			delete(e.alertToGroup, alert.ID)
		}
		removed = append(removed, group)
	}
	active := len(e.groups)
	e.mu.Unlock()

	if len(removed) == 0 {
		return
	}
	metrics.SetActiveGroups(active)

	// Best-effort cache cleanup; entries also expire via TTL.
	if e.deps.Cache != nil {
		for _, group := range removed {
			op := persistOp{key: groupKeyPrefix + group.ID, delete: true}
			select {
			case e.persistCh <- op:
			default:
			}
		}
	}

	e.logger.WithDuration(time.Since(start)).Debug("Lifecycle sweep completed",
		"removed", len(removed),
		"active_groups", active)
}
