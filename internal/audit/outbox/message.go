package outbox

import (
	"encoding/json"
	"fmt"

	"fundops/internal/audit"
)

// FromEvent builds the outbox row for a committed audit event. Messages are
// keyed by fund so each fund's events stay ordered on the bus.
func FromEvent(seq int64, e *audit.Event) (Message, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return Message{}, fmt.Errorf("marshal audit event: %w", err)
	}
	return Message{
		Seq:       seq,
		Key:       e.FundID.String(),
		EventType: string(e.Action),
		Payload:   payload,
		CreatedAt: e.OccurredAt,
	}, nil
}
