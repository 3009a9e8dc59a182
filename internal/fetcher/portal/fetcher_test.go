package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/placementwatch/tnp-monitor/internal/monitor"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func mustSelection(t *testing.T, html, selector string) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	sel := doc.Find(selector).First()
	require.Positive(t, sel.Length(), "selector %q matched nothing", selector)
	return sel
}

func testBase(t *testing.T) *url.URL {
	t.Helper()
	base, err := url.Parse("https://portal.example.edu")
	require.NoError(t, err)
	return base
}

func TestParseNoticeRow_DataOrder(t *testing.T) {
	t.Parallel()

	html := `<table><tbody><tr>
		<td><h6><a href="/notice/42">Pre-placement talk</a></h6><small>Venue: CAT Hall, 5 PM</small></td>
		<td data-order="2026/08/23 18:30:00">23/08/2026 18:30 IST</td>
	</tr></tbody></table>`

	posting, err := parseNoticeRow(mustSelection(t, html, "tr"), testBase(t), time.UTC)
	require.NoError(t, err)
	require.Equal(t, monitor.CategoryNotice, posting.Category)
	require.Equal(t, "Pre-placement talk", posting.Title)
	require.Equal(t, "Venue: CAT Hall, 5 PM", posting.Summary)
	require.Equal(t, "https://portal.example.edu/notice/42", posting.SourceURL)
	require.Equal(t, time.Date(2026, 8, 23, 18, 30, 0, 0, time.UTC), posting.PublishedAt)
}

func TestParseNoticeRow_VisibleDateFallback(t *testing.T) {
	t.Parallel()

	html := `<table><tbody><tr>
		<td><h6><a href="notice/7">Results declared</a></h6></td>
		<td>23/08/2026 09:15 IST</td>
	</tr></tbody></table>`

	posting, err := parseNoticeRow(mustSelection(t, html, "tr"), testBase(t), time.UTC)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 8, 23, 9, 15, 0, 0, time.UTC), posting.PublishedAt)
	require.Equal(t, "https://portal.example.edu/notice/7", posting.SourceURL)
	require.Empty(t, posting.Summary)
}

func TestParseNoticeRow_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		html string
	}{
		{
			name: "too few cells",
			html: `<table><tbody><tr><td>only one</td></tr></tbody></table>`,
		},
		{
			name: "no title link",
			html: `<table><tbody><tr><td>x</td><td data-order="2026/08/23 10:00:00"></td></tr></tbody></table>`,
		},
		{
			name: "garbage date",
			html: `<table><tbody><tr><td><h6><a href="/n">T</a></h6></td><td data-order="soon"></td></tr></tbody></table>`,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := parseNoticeRow(mustSelection(t, tt.html, "tr"), testBase(t), time.UTC)
			require.Error(t, err)
		})
	}
}

func TestParseJobRow(t *testing.T) {
	t.Parallel()

	html := `<table><tbody><tr>
		<td>Acme Corp</td>
		<td data-order="2026/08/23">23/08/2026</td>
		<td><a href="/job/detail/9">Details</a> <a href="/job/apply/9">Apply Now</a></td>
	</tr></tbody></table>`

	posting, err := parseJobRow(mustSelection(t, html, "tr"), testBase(t), time.UTC)
	require.NoError(t, err)
	require.Equal(t, monitor.CategoryJob, posting.Category)
	require.Equal(t, "Acme Corp", posting.Title)
	require.Equal(t, "https://portal.example.edu/job/apply/9", posting.SourceURL)
	require.Equal(t, time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC), posting.PublishedAt)
}

func TestParseJobRow_NoApplyLink(t *testing.T) {
	t.Parallel()

	html := `<table><tbody><tr>
		<td>Globex Inc</td>
		<td data-order="2026/08/23 00:00:00"></td>
	</tr></tbody></table>`

	posting, err := parseJobRow(mustSelection(t, html, "tr"), testBase(t), time.UTC)
	require.NoError(t, err)
	require.Equal(t, "Globex Inc", posting.Title)
	require.Empty(t, posting.SourceURL)
}

func noticesPage(rows ...string) string {
	return fmt.Sprintf(
		`<html><body><table id="newsevents"><tbody>%s</tbody></table></body></html>`,
		strings.Join(rows, ""),
	)
}

func jobsPage(rows ...string) string {
	return fmt.Sprintf(
		`<html><body><table id="job-listings"><tbody>%s</tbody></table></body></html>`,
		strings.Join(rows, ""),
	)
}

func noticeRow(title, order string) string {
	return fmt.Sprintf(
		`<tr><td><h6><a href="/notice/x">%s</a></h6></td><td data-order="%s"></td></tr>`,
		title, order,
	)
}

func newTestFetcher(t *testing.T, serverURL string, now time.Time) *Fetcher {
	t.Helper()
	f, err := New(Config{
		BaseURL:     serverURL,
		NoticesPath: "/newsevents",
		JobsPath:    "/index",
		Timeout:     5 * time.Second,
		Lookback:    24 * time.Hour,
		Timezone:    "UTC",
	}, fixedClock{now: now}, zap.NewNop())
	require.NoError(t, err)
	return f
}

func TestFetchPostings_ParsesBothPages(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	var gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("ci_session"); err == nil {
			gotCookie = c.Value
		}
		switch r.URL.Path {
		case "/newsevents":
			fmt.Fprint(w, noticesPage(
				noticeRow("Fresh notice", "2026/08/24 09:00:00"),
				noticeRow("Stale notice", "2026/08/20 09:00:00"),
			))
		case "/index":
			fmt.Fprint(w, jobsPage(
				`<tr><td>Acme Corp</td><td data-order="2026/08/24"></td><td><a href="/apply/1">Apply</a></td></tr>`,
			))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL, now)
	session := monitor.NewSession([]*http.Cookie{{Name: "ci_session", Value: "tok123"}}, nil)

	result, err := f.FetchPostings(context.Background(), session)
	require.NoError(t, err)
	require.Equal(t, "tok123", gotCookie, "session cookie must reach the portal")
	require.Len(t, result.Postings, 2, "stale notice must be dropped by the lookback window")
	require.Equal(t, "Fresh notice", result.Postings[0].Title)
	require.Equal(t, monitor.CategoryJob, result.Postings[1].Category)
	require.Zero(t, result.ParseErrors)
	require.Zero(t, result.PageErrors)
	require.Len(t, result.Pages, 2)
}

func TestFetchPostings_MalformedRowIsolated(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/newsevents":
			fmt.Fprint(w, noticesPage(
				noticeRow("Good one", "2026/08/24 09:00:00"),
				`<tr><td>malformed, single cell</td></tr>`,
				noticeRow("Another good one", "2026/08/24 10:00:00"),
			))
		case "/index":
			fmt.Fprint(w, jobsPage())
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL, now)
	result, err := f.FetchPostings(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, result.Postings, 2)
	require.Equal(t, 1, result.ParseErrors)
}

func TestFetchPostings_OnePageDown(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/newsevents":
			fmt.Fprint(w, noticesPage(noticeRow("Still works", "2026/08/24 09:00:00")))
		default:
			http.Error(w, "upstream down", http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL, now)
	result, err := f.FetchPostings(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, result.Postings, 1)
	require.Equal(t, 1, result.PageErrors)
}

func TestFetchPostings_AllPagesDown(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL, now)
	_, err := f.FetchPostings(context.Background(), nil)
	require.Error(t, err)
	var fetchErr *monitor.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, "notices", fetchErr.Page)
}
