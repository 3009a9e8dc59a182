package monitor

import "context"

// SessionProvider obtains an authenticated session against the portal.
// Acquire returns *AuthError when the portal rejects the credentials;
// any other error is transient and the caller may retry next cycle.
type SessionProvider interface {
	Acquire(ctx context.Context) (*Session, error)
}

// Fetcher retrieves the current set of postings from the portal using an
// authenticated session. A single malformed record is skipped and counted
// in the result, never fatal; only total transport failure returns an error.
type Fetcher interface {
	FetchPostings(ctx context.Context, session *Session) (FetchResult, error)
}

// SeenStore is the durable dedup store keyed by fingerprint.
type SeenStore interface {
	// FilterSeen reports which of the given fingerprints already exist.
	FilterSeen(ctx context.Context, fps []Fingerprint) (map[Fingerprint]bool, error)
	// MarkSeen inserts the records, ignoring fingerprints already present.
	MarkSeen(ctx context.Context, records []SeenRecord) error
	// Count returns the number of fingerprints in the store.
	Count(ctx context.Context) (int64, error)
	Close()
}

// Notifier delivers new postings to the messaging channel. Notify never
// fails the cycle: per-posting failures are recorded in the report.
type Notifier interface {
	Notify(ctx context.Context, postings []Posting) DeliveryReport
	// Alert sends an operational message (e.g. a failed-cycle notice)
	// through the same channel, best effort.
	Alert(ctx context.Context, message string) error
	Close() error
}

// SnapshotStore archives raw listing pages for debugging. Implementations
// back onto GCS or the local filesystem.
type SnapshotStore interface {
	Save(ctx context.Context, objectName string, data []byte) error
}

// NoopNotifier discards notifications. Useful for dry runs where postings
// are fetched and classified but nothing is delivered.
type NoopNotifier struct{}

// Notify marks every posting as delivered without sending anything.
func (NoopNotifier) Notify(_ context.Context, postings []Posting) DeliveryReport {
	report := DeliveryReport{Results: make([]DeliveryResult, 0, len(postings))}
	for _, p := range postings {
		report.Results = append(report.Results, DeliveryResult{Posting: p, Delivered: true, Attempts: 1})
	}
	return report
}

// Alert for NoopNotifier does nothing.
func (NoopNotifier) Alert(_ context.Context, _ string) error { return nil }

// Close for NoopNotifier does nothing.
func (NoopNotifier) Close() error { return nil }

// NoopSnapshotStore discards snapshots.
type NoopSnapshotStore struct{}

// Save for NoopSnapshotStore does nothing and always returns nil.
func (NoopSnapshotStore) Save(_ context.Context, _ string, _ []byte) error { return nil }
