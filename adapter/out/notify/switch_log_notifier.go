// Package notify implements SwitchNotifier delivery adapters.
package notify

import (
	"context"
	"sync"

	"switch_server/core/domain"
	"switch_server/core/port/out"
	"switch_server/pkg/logger"
)

// LogNotifier records state transitions in the structured log. It stands in
// for a device transport and only reports transitions, not every tick.
type LogNotifier struct {
	log *logger.Logger

	mu         sync.Mutex
	lastActive map[string]bool
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{
		log:        logger.Default(),
		lastActive: make(map[string]bool),
	}
}

func (n *LogNotifier) NotifyState(_ context.Context, state domain.SwitchState) error {
	n.mu.Lock()
	prev, seen := n.lastActive[state.SwitchID]
	n.lastActive[state.SwitchID] = state.IsActive
	n.mu.Unlock()

	if seen && prev == state.IsActive {
		return nil
	}

	if state.IsActive {
		n.log.WithSwitch(state.SwitchID).Info("[Notifier] Switch ON (%d active events)", state.ActiveCount)
	} else {
		n.log.WithSwitch(state.SwitchID).Info("[Notifier] Switch OFF")
	}
	return nil
}

// Ensure interface compliance
var _ out.SwitchNotifier = (*LogNotifier)(nil)
