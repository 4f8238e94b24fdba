// Package alert posts operational notices, such as expired queue leases, to
// chat platforms. Delivery is best effort: callers log failures and move on.
package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentfloor/agentfloor/internal/models"
)

// maxListed caps how many items one notice names.
const maxListed = 10

// Notifier is told about queue items whose lease expired before a response.
type Notifier interface {
	LeaseExpired(ctx context.Context, items []models.QueueItem) error
}

// Nop discards every notice.
type Nop struct{}

// LeaseExpired does nothing.
func (Nop) LeaseExpired(context.Context, []models.QueueItem) error { return nil }

// Multi delivers each notice to every notifier and joins their errors.
type Multi []Notifier

// LeaseExpired forwards items to each notifier in turn.
func (m Multi) LeaseExpired(ctx context.Context, items []models.QueueItem) error {
	var errs []error
	for _, n := range m {
		if err := n.LeaseExpired(ctx, items); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FormatLeaseExpired renders the notice text for expired items.
func FormatLeaseExpired(items []models.QueueItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "agentfloor: %d queue item(s) timed out waiting for a relay response", len(items))
	for i, it := range items {
		if i == maxListed {
			fmt.Fprintf(&b, "\n... and %d more", len(items)-maxListed)
			break
		}
		fmt.Fprintf(&b, "\n- %s (agent %s, conversation %s)", it.ID, it.AgentID, it.ConversationID)
	}
	return b.String()
}
