// Package dedup classifies fetched postings as new or already seen by
// checking their fingerprints against the durable store.
package dedup

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/placementwatch/tnp-monitor/internal/monitor"
)

// Classifier splits a batch of postings into new and seen.
type Classifier struct {
	store  monitor.SeenStore
	clock  monitor.Clock
	logger *zap.Logger
}

// New builds a Classifier on top of a seen store.
func New(store monitor.SeenStore, clock monitor.Clock, logger *zap.Logger) *Classifier {
	return &Classifier{store: store, clock: clock, logger: logger}
}

// Result is the outcome of classifying one batch.
type Result struct {
	// New holds postings whose fingerprints were absent from the store,
	// in input order, one entry per distinct fingerprint.
	New []monitor.Posting
	// Seen counts postings whose fingerprints were already stored.
	Seen int
	// Duplicates counts postings collapsed within the batch itself
	// (same fingerprint appearing more than once in one fetch).
	Duplicates int
}

// Classify checks the batch against the store. Within the batch, later
// postings with a fingerprint already in the batch are collapsed, so a
// page that lists the same item twice produces one notification.
func (c *Classifier) Classify(ctx context.Context, postings []monitor.Posting) (Result, error) {
	var result Result
	if len(postings) == 0 {
		return result, nil
	}

	fps := make([]monitor.Fingerprint, 0, len(postings))
	inBatch := make(map[monitor.Fingerprint]bool, len(postings))
	for _, p := range postings {
		fp := monitor.FingerprintOf(p)
		if inBatch[fp] {
			continue
		}
		inBatch[fp] = true
		fps = append(fps, fp)
	}

	seen, err := c.store.FilterSeen(ctx, fps)
	if err != nil {
		return Result{}, fmt.Errorf("filter seen fingerprints: %w", err)
	}

	emitted := make(map[monitor.Fingerprint]bool, len(postings))
	for _, p := range postings {
		fp := monitor.FingerprintOf(p)
		if emitted[fp] {
			result.Duplicates++
			continue
		}
		emitted[fp] = true
		if seen[fp] {
			result.Seen++
			continue
		}
		result.New = append(result.New, p)
	}

	c.logger.Debug("batch classified",
		zap.Int("fetched", len(postings)),
		zap.Int("new", len(result.New)),
		zap.Int("seen", result.Seen),
		zap.Int("batch_duplicates", result.Duplicates),
	)
	return result, nil
}

// Records builds the seen records for the given postings, stamped with
// the current time. The runner persists these after delivery attempts.
func (c *Classifier) Records(postings []monitor.Posting) []monitor.SeenRecord {
	now := c.clock.Now().UTC()
	records := make([]monitor.SeenRecord, 0, len(postings))
	for _, p := range postings {
		records = append(records, monitor.SeenRecord{
			Fingerprint: monitor.FingerprintOf(p),
			Category:    p.Category,
			FirstSeenAt: now,
		})
	}
	return records
}
