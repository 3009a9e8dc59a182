// Package portal fetches and parses the portal's listing pages using an
// authenticated session's cookies.
package portal

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/placementwatch/tnp-monitor/internal/monitor"
)

// Config controls listing-page retrieval.
type Config struct {
	BaseURL     string
	NoticesPath string
	JobsPath    string
	UserAgent   string
	Timeout     time.Duration
	// Lookback is the recency window: rows older than now-Lookback are
	// skipped before dedup ever sees them.
	Lookback time.Duration
	Timezone string
}

// Fetcher implements monitor.Fetcher using a Colly collector seeded with
// the session's cookies.
type Fetcher struct {
	cfg    Config
	base   *url.URL
	loc    *time.Location
	clock  monitor.Clock
	logger *zap.Logger
}

// New builds a Fetcher. The portal timezone must resolve; listing dates
// are published in local portal time.
func New(cfg Config, clock monitor.Clock, logger *zap.Logger) (*Fetcher, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid portal base URL %q", cfg.BaseURL)
	}
	tz := cfg.Timezone
	if tz == "" {
		tz = "Asia/Kolkata"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load portal timezone %q: %w", tz, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 24 * time.Hour
	}
	return &Fetcher{cfg: cfg, base: base, loc: loc, clock: clock, logger: logger}, nil
}

// pageResult accumulates what one listing page produced.
type pageResult struct {
	mu          sync.Mutex
	postings    []monitor.Posting
	parseErrors int
	body        []byte
}

// FetchPostings retrieves the notices and jobs pages and parses their
// tables. A malformed row is skipped and counted; a single page failing
// at the transport level is counted in PageErrors; both pages failing
// returns a *monitor.FetchError.
func (f *Fetcher) FetchPostings(ctx context.Context, session *monitor.Session) (monitor.FetchResult, error) {
	cutoff := f.clock.Now().In(f.loc).Add(-f.cfg.Lookback)

	pages := []struct {
		name  string
		path  string
		parse func(*colly.Collector, *pageResult)
	}{
		{name: "notices", path: f.cfg.NoticesPath, parse: f.collectNotices},
		{name: "jobs", path: f.cfg.JobsPath, parse: f.collectJobs},
	}

	result := monitor.FetchResult{}
	var firstErr error
	failed := 0

	for _, page := range pages {
		pr := &pageResult{}
		err := f.fetchPage(ctx, session, page.path, pr, page.parse)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = &monitor.FetchError{Page: page.name, Err: err}
			}
			f.logger.Warn("listing page fetch failed",
				zap.String("page", page.name),
				zap.Error(err),
			)
			continue
		}
		kept, skippedOld := filterByCutoff(pr.postings, cutoff)
		result.Postings = append(result.Postings, kept...)
		result.ParseErrors += pr.parseErrors
		result.Pages = append(result.Pages, monitor.PageSnapshot{Name: page.name, Body: pr.body})
		f.logger.Debug("listing page parsed",
			zap.String("page", page.name),
			zap.Int("rows", len(pr.postings)),
			zap.Int("kept", len(kept)),
			zap.Int("skipped_old", skippedOld),
			zap.Int("parse_errors", pr.parseErrors),
		)
	}

	if failed == len(pages) {
		return monitor.FetchResult{}, firstErr
	}
	result.PageErrors = failed
	return result, nil
}

func (f *Fetcher) fetchPage(
	ctx context.Context,
	session *monitor.Session,
	path string,
	pr *pageResult,
	register func(*colly.Collector, *pageResult),
) error {
	c := colly.NewCollector()
	c.IgnoreRobotsTxt = true
	c.SetRequestTimeout(f.cfg.Timeout)
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	if session != nil && len(session.Cookies) > 0 {
		if err := c.SetCookies(f.base.String(), session.Cookies); err != nil {
			return fmt.Errorf("seed session cookies: %w", err)
		}
	}

	var fetchErr error
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})
	c.OnResponse(func(r *colly.Response) {
		pr.mu.Lock()
		pr.body = append([]byte(nil), r.Body...)
		pr.mu.Unlock()
	})
	register(c, pr)

	pageURL := strings.TrimRight(f.base.String(), "/") + path

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(pageURL)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("page fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return err
		}
		if fetchErr != nil {
			return fetchErr
		}
		return nil
	}
}

func (f *Fetcher) collectNotices(c *colly.Collector, pr *pageResult) {
	c.OnHTML("table#newsevents tbody tr", func(e *colly.HTMLElement) {
		posting, err := parseNoticeRow(e.DOM, f.base, f.loc)
		pr.mu.Lock()
		defer pr.mu.Unlock()
		if err != nil {
			pr.parseErrors++
			f.logger.Debug("skipping malformed notice row", zap.Error(err))
			return
		}
		pr.postings = append(pr.postings, posting)
	})
}

func (f *Fetcher) collectJobs(c *colly.Collector, pr *pageResult) {
	c.OnHTML("table#job-listings tbody tr", func(e *colly.HTMLElement) {
		posting, err := parseJobRow(e.DOM, f.base, f.loc)
		pr.mu.Lock()
		defer pr.mu.Unlock()
		if err != nil {
			pr.parseErrors++
			f.logger.Debug("skipping malformed job row", zap.Error(err))
			return
		}
		pr.postings = append(pr.postings, posting)
	})
}

// filterByCutoff drops rows older than the lookback window. Rows without
// a parsed date never reach here (they are parse errors), so zero times
// do not occur.
func filterByCutoff(postings []monitor.Posting, cutoff time.Time) ([]monitor.Posting, int) {
	kept := postings[:0:0]
	skipped := 0
	for _, p := range postings {
		if p.PublishedAt.Before(cutoff) {
			skipped++
			continue
		}
		kept = append(kept, p)
	}
	return kept, skipped
}
