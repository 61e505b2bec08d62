package services

import (
	"context"
	"fmt"
	"strings"
)

const patientKeySeparator = "::patient-"

// ReportKeyStore answers idempotency lookups against persisted clinic reports.
type ReportKeyStore interface {
	ExistsByMessageID(ctx context.Context, key string) (bool, error)
	// SourceProgress counts the stored reports of a source and the report count its first run recorded.
	SourceProgress(ctx context.Context, sourceID string) (stored int, expected int, err error)
}

// SourceState is what earlier runs left behind for one source.
type SourceState struct {
	Stored   int
	Expected int
}

// Complete means every report of the source is stored and it need not be extracted again.
func (s SourceState) Complete() bool {
	return s.Stored > 0 && s.Stored >= s.Expected
}

// Partial means an earlier run stored some reports and failed on the rest.
func (s SourceState) Partial() bool {
	return s.Stored > 0 && s.Stored < s.Expected
}

// IdempotencyKey derives the unique report key of the index-th patient of a source.
// A source that reports a single patient keeps its bare id.
func IdempotencyKey(sourceID string, index, total int) string {
	if total <= 1 {
		return sourceID
	}
	return fmt.Sprintf("%s%s%d", sourceID, patientKeySeparator, index)
}

// SourceIDFromKey strips the per-patient suffix from a report key.
func SourceIDFromKey(key string) string {
	if i := strings.Index(key, patientKeySeparator); i >= 0 {
		return key[:i]
	}
	return key
}

type Deduplicator struct {
	store ReportKeyStore
}

func NewDeduplicator(store ReportKeyStore) *Deduplicator {
	return &Deduplicator{store: store}
}

// IsDuplicate reports whether a report with exactly this key was already persisted.
func (d *Deduplicator) IsDuplicate(ctx context.Context, key string) (bool, error) {
	exists, err := d.store.ExistsByMessageID(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to check report key %s: %w", key, err)
	}
	return exists, nil
}

// Source reports how far earlier runs got with a source, whatever its patient count was.
func (d *Deduplicator) Source(ctx context.Context, sourceID string) (SourceState, error) {
	stored, expected, err := d.store.SourceProgress(ctx, sourceID)
	if err != nil {
		return SourceState{}, fmt.Errorf("failed to check source %s: %w", sourceID, err)
	}
	return SourceState{Stored: stored, Expected: expected}, nil
}
