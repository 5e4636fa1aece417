package notify

// Event types emitted by the position engine. Operators list a subset of
// these in the notify configuration to choose which alerts they receive.
const (
	EventPositionOpened        = "position_opened"
	EventPositionAdjusted      = "position_adjusted"
	EventPositionStopTriggered = "position_stop_triggered"
	EventPositionClosed        = "position_closed"
	EventPositionOrphaned      = "position_orphaned"
	EventPositionResolved      = "position_resolved"
	EventReconcileFailed       = "reconcile_failed"
)

// DefaultEvents is the alert set used when the configuration names none:
// everything that requires operator attention, without the per-trade noise.
func DefaultEvents() []string {
	return []string{
		EventPositionOrphaned,
		EventPositionResolved,
		EventReconcileFailed,
	}
}
