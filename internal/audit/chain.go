package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bhulekhchain/title-registry/internal/adapter"
	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/store/schema"
)

// hashedFields is every entry field except the two hash fields.
// Canonicalization sorts the keys, so field order here does not matter.
type hashedFields struct {
	ID           string `json:"id"`
	ResourceType string `json:"resource_type"`
	Sequence     int64  `json:"sequence"`
	Timestamp    string `json:"timestamp"`
	ActorHash    string `json:"actor_hash"`
	ActorRole    string `json:"actor_role"`
	Action       string `json:"action"`
	ResourceID   string `json:"resource_id"`
	BeforeHash   string `json:"before_hash"`
	AfterHash    string `json:"after_hash"`
}

// NormalizeTimestamp truncates to the precision the mirror stores so a
// persisted entry rehashes to the same value
func NormalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// EntryHash computes SHA-256(previousHash ‖ canonical(entry without hash fields)) as hex
func EntryHash(j adapter.JSON, previousHash string, e *schema.AuditEntry) (string, error) {
	canonical, err := j.Canonicalize(hashedFields{
		ID:           e.ID,
		ResourceType: string(e.ResourceType),
		Sequence:     e.ScopeSequence,
		Timestamp:    NormalizeTimestamp(e.Timestamp).Format(time.RFC3339Nano),
		ActorHash:    e.ActorHash,
		ActorRole:    string(e.ActorRole),
		Action:       string(e.Action),
		ResourceID:   e.ResourceID,
		BeforeHash:   e.BeforeHash,
		AfterHash:    e.AfterHash,
	})
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize audit entry: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(previousHash))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashState returns the hex SHA-256 of the canonical JSON of v. Audit entries
// carry these digests of before/after state instead of the state itself.
func HashState(j adapter.JSON, v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	canonical, err := j.Canonicalize(v)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize state: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Violation is a broken link found by Verify. It matches domain.ErrChainIntegrityViolation.
type Violation struct {
	// Position is the zero-based index of the offending entry in the verified slice
	Position int
	EntryID  string
	Sequence int64
	Reason   string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: entry %s (position %d, sequence %d): %s",
		domain.CodeChainIntegrityViolation, v.EntryID, v.Position, v.Sequence, v.Reason)
}

func (v *Violation) Is(target error) bool {
	return domain.ErrChainIntegrityViolation.Is(target)
}

// Verify replays a scope's chain from genesis, oldest entry first
func Verify(j adapter.JSON, entries []schema.AuditEntry) error {
	_, err := VerifyFrom(j, domain.GenesisHash, entries)
	return err
}

// VerifyFrom replays entries that follow previousHash and returns the hash of
// the last entry so a long chain can be verified page by page.
// A mismatch is reported, never repaired.
func VerifyFrom(j adapter.JSON, previousHash string, entries []schema.AuditEntry) (string, error) {
	for i := range entries {
		e := &entries[i]
		if e.PreviousEntryHash != previousHash {
			return "", &Violation{
				Position: i,
				EntryID:  e.ID,
				Sequence: e.ScopeSequence,
				Reason:   fmt.Sprintf("previous hash %s does not match prior entry hash %s", e.PreviousEntryHash, previousHash),
			}
		}

		expected, err := EntryHash(j, e.PreviousEntryHash, e)
		if err != nil {
			return "", err
		}
		if expected != e.EntryHash {
			return "", &Violation{
				Position: i,
				EntryID:  e.ID,
				Sequence: e.ScopeSequence,
				Reason:   fmt.Sprintf("stored hash %s does not match recomputed %s", e.EntryHash, expected),
			}
		}
		previousHash = e.EntryHash
	}
	return previousHash, nil
}
