package coordination

import (
	"context"
	"log"

	"github.com/sitewatch/presence-agent/store"
)

// SelfHeartbeat periodically touches the system heartbeat row. Its only
// purpose is to let the OutageDetector measure how long the agent was dead
// after a crash or power loss.
type SelfHeartbeat struct {
	store store.Store
}

func NewSelfHeartbeat(s store.Store) *SelfHeartbeat {
	return &SelfHeartbeat{store: s}
}

// Beat writes the heartbeat row. Failures are logged and dropped; the next
// beat retries.
func (h *SelfHeartbeat) Beat(ctx context.Context) error {
	if err := h.store.TouchSystemHeartbeat(ctx); err != nil {
		log.Printf("SelfHeartbeat: failed to touch heartbeat: %v", err)
		return err
	}
	return nil
}
