// Package monitor defines the core domain types and contracts for the
// TNP portal monitor: postings, fingerprints, the dedup store, the
// notifier, and the error taxonomy shared by the cycle pipeline.
package monitor
