package monitor

import (
	"net/http"
	"time"
)

// Category distinguishes the two kinds of postings the portal publishes.
type Category string

// Posting categories.
const (
	CategoryJob    Category = "job"
	CategoryNotice Category = "notice"
)

// Posting is one item discovered on the portal during a fetch cycle.
// Postings are transient: they exist only for the duration of a cycle,
// and only their fingerprint survives in the dedup store.
type Posting struct {
	Category    Category
	Title       string
	Summary     string
	SourceURL   string
	PublishedAt time.Time // best effort; zero when the portal omits it
}

// SeenRecord is the persisted tuple that marks a posting as processed.
type SeenRecord struct {
	Fingerprint Fingerprint
	Category    Category
	FirstSeenAt time.Time
}

// PageSnapshot is the raw HTML of one listing page as fetched, kept for
// snapshot archiving and parser debugging.
type PageSnapshot struct {
	Name string
	Body []byte
}

// FetchResult is the output of one content fetch: the postings parsed
// from the listing pages, a count of rows that could not be parsed, and
// the raw pages for optional archiving.
type FetchResult struct {
	Postings    []Posting
	ParseErrors int
	// PageErrors counts listing pages that failed at the transport
	// level while at least one other page succeeded. All pages failing
	// is a cycle-level FetchError instead.
	PageErrors int
	Pages      []PageSnapshot
}

// DeliveryResult records the final fate of one posting's notification.
type DeliveryResult struct {
	Posting   Posting
	Delivered bool
	Attempts  int
	Err       error
}

// DeliveryReport aggregates per-posting delivery results for a cycle.
// Every posting handed to the notifier appears exactly once, whether
// delivery succeeded or permanently failed.
type DeliveryReport struct {
	Results []DeliveryResult
}

// Delivered returns the number of postings that were delivered.
func (r DeliveryReport) Delivered() int {
	n := 0
	for _, res := range r.Results {
		if res.Delivered {
			n++
		}
	}
	return n
}

// Failed returns the number of postings whose delivery permanently failed.
func (r DeliveryReport) Failed() int {
	return len(r.Results) - r.Delivered()
}

// Outcome is the terminal state of one monitor cycle.
type Outcome string

// Cycle outcomes.
const (
	OutcomeNeverRun        Outcome = "never_run"
	OutcomeSucceeded       Outcome = "succeeded"
	OutcomePartiallyFailed Outcome = "partially_failed"
	OutcomeFailed          Outcome = "failed"
)

// RunState is the process-wide status of the monitor job. It is owned by
// the runner and exposed read-only through the status endpoint. Counters
// are cumulative for the process lifetime; everything else describes the
// most recent cycle.
type RunState struct {
	LastRunAt         time.Time `json:"last_run_at"`
	LastOutcome       Outcome   `json:"last_run_outcome"`
	LastError         string    `json:"last_error,omitempty"`
	ConsecutiveErrors int       `json:"consecutive_error_count"`
	TotalNotified     int64     `json:"total_notifications_sent"`
	TotalCycles       int64     `json:"total_cycles"`
	IsRunning         bool      `json:"is_running"`
}

// CycleStats summarizes what one cycle did, for logging and metrics.
type CycleStats struct {
	Fetched     int
	New         int
	Seen        int
	Delivered   int
	Failed      int
	ParseErrors int
	PageErrors  int
	Duration    time.Duration
}

// Session is an authenticated portal session handle. The cookies carry
// the authentication state; Close releases the browser resources that
// produced them and must be called on every exit path of a cycle.
type Session struct {
	Cookies []*http.Cookie

	closeFn func()
}

// NewSession builds a Session from exported cookies and a release hook.
func NewSession(cookies []*http.Cookie, closeFn func()) *Session {
	return &Session{Cookies: cookies, closeFn: closeFn}
}

// Close releases the resources backing the session. Safe to call on a
// nil session and idempotent callers are expected to defer it.
func (s *Session) Close() {
	if s == nil || s.closeFn == nil {
		return
	}
	s.closeFn()
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}
