package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	id "fundops/pkg/domain"
)

// GenesisHash is the previous-hash of the first event of every fund.
var GenesisHash = strings.Repeat("0", 64)

// ChainHead is the last link of a fund's chain.
type ChainHead struct {
	FundID   id.FundID
	Sequence int64
	Hash     string
}

// hashInput is everything covered by an event hash: the whole event except
// the hash itself.
type hashInput struct {
	ID            string          `json:"id"`
	FundID        string          `json:"fund_id"`
	Category      Category        `json:"category"`
	AccessLevel   string          `json:"access_level"`
	ActorID       string          `json:"actor_id"`
	ActorRoles    []string        `json:"actor_roles"`
	Action        Action          `json:"action"`
	EntityType    string          `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	Before        json.RawMessage `json:"before"`
	After         json.RawMessage `json:"after"`
	ChangedFields []string        `json:"changed_fields"`
	RequestID     string          `json:"request_id"`
	Sequence      int64           `json:"sequence"`
	PrevHash      string          `json:"prev_hash"`
	OccurredAt    string          `json:"occurred_at"`
}

func nullIfEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

// ComputeHash returns hex(sha256(canonical(event without hash))). Snapshots
// are re-canonicalized so storage that reformats JSON does not break the chain.
func ComputeHash(e *Event) (string, error) {
	roles := e.ActorRoles
	if roles == nil {
		roles = []string{}
	}
	changed := e.ChangedFields
	if changed == nil {
		changed = []string{}
	}
	in := hashInput{
		ID:            e.ID.String(),
		FundID:        e.FundID.String(),
		Category:      e.Category,
		AccessLevel:   e.AccessLevel,
		ActorID:       e.ActorID,
		ActorRoles:    roles,
		Action:        e.Action,
		EntityType:    e.EntityType,
		EntityID:      e.EntityID,
		Before:        nullIfEmpty(e.Before),
		After:         nullIfEmpty(e.After),
		ChangedFields: changed,
		RequestID:     e.RequestID,
		Sequence:      e.Sequence,
		PrevHash:      e.PrevHash,
		OccurredAt:    e.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	canonical, err := Snapshot(in)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Link stamps e as the successor of head and computes its hash.
func Link(head ChainHead, e *Event) error {
	e.Sequence = head.Sequence + 1
	e.PrevHash = head.Hash
	if e.PrevHash == "" {
		e.PrevHash = GenesisHash
	}
	h, err := ComputeHash(e)
	if err != nil {
		return err
	}
	e.Hash = h
	return nil
}

// Verification is the result of walking a fund's chain.
type Verification struct {
	Valid    bool   `json:"valid"`
	Checked  int    `json:"checked"`
	BrokenAt int64  `json:"broken_at,omitempty"`
	Problem  string `json:"problem,omitempty"`
}

// VerifyChain checks sequence continuity, linkage and every hash. events must
// be the full chain ordered by sequence.
func VerifyChain(events []Event) Verification {
	prev := GenesisHash
	for i := range events {
		e := &events[i]
		want := int64(i + 1)
		broken := func(problem string) Verification {
			return Verification{Checked: i, BrokenAt: e.Sequence, Problem: problem}
		}
		if e.Sequence != want {
			return broken("sequence gap")
		}
		if e.PrevHash != prev {
			return broken("previous hash mismatch")
		}
		h, err := ComputeHash(e)
		if err != nil {
			return broken("unhashable event: " + err.Error())
		}
		if h != e.Hash {
			return broken("hash mismatch")
		}
		prev = e.Hash
	}
	return Verification{Valid: true, Checked: len(events)}
}
