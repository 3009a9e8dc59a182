package portal

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/placementwatch/tnp-monitor/internal/monitor"
)

// Date layouts used by the portal's listing tables. The machine-readable
// data-order attribute is preferred; the visible cell text is a fallback
// for notice rows that omit it.
const (
	noticeOrderLayout   = "2006/01/02 15:04:05"
	noticeVisibleLayout = "02/01/2006 15:04"
	jobOrderLayout      = "2006/01/02"
)

// parseNoticeRow extracts one notice posting from a table#newsevents row.
func parseNoticeRow(row *goquery.Selection, base *url.URL, loc *time.Location) (monitor.Posting, error) {
	cells := row.Find("td")
	if cells.Length() < 2 {
		return monitor.Posting{}, fmt.Errorf("notice row has %d cells, need 2", cells.Length())
	}

	publishedAt, err := parseNoticeDate(cells.Eq(1), loc)
	if err != nil {
		return monitor.Posting{}, err
	}

	link := row.Find("h6 a").First()
	if link.Length() == 0 {
		return monitor.Posting{}, fmt.Errorf("notice row has no title link")
	}
	title := strings.TrimSpace(link.Text())
	if title == "" {
		return monitor.Posting{}, fmt.Errorf("notice row has empty title")
	}
	href, _ := link.Attr("href")

	return monitor.Posting{
		Category:    monitor.CategoryNotice,
		Title:       title,
		Summary:     strings.TrimSpace(row.Find("small").First().Text()),
		SourceURL:   absolutize(base, href),
		PublishedAt: publishedAt,
	}, nil
}

// parseJobRow extracts one job posting from a table#job-listings row.
func parseJobRow(row *goquery.Selection, base *url.URL, loc *time.Location) (monitor.Posting, error) {
	cells := row.Find("td")
	if cells.Length() < 2 {
		return monitor.Posting{}, fmt.Errorf("job row has %d cells, need 2", cells.Length())
	}

	order, ok := cells.Eq(1).Attr("data-order")
	if !ok {
		return monitor.Posting{}, fmt.Errorf("job row has no data-order date")
	}
	publishedAt, err := parseJobDate(order, loc)
	if err != nil {
		return monitor.Posting{}, err
	}

	company := strings.TrimSpace(cells.Eq(0).Text())
	if company == "" {
		return monitor.Posting{}, fmt.Errorf("job row has empty company cell")
	}

	applyLink := ""
	row.Find("a").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if strings.Contains(strings.ToLower(sel.Text()), "apply") {
			href, _ := sel.Attr("href")
			applyLink = absolutize(base, href)
			return false
		}
		return true
	})

	return monitor.Posting{
		Category:    monitor.CategoryJob,
		Title:       company,
		Summary:     applyLink,
		SourceURL:   applyLink,
		PublishedAt: publishedAt,
	}, nil
}

// parseNoticeDate reads the date cell, preferring the data-order
// attribute and falling back to the visible text (with its trailing
// " IST" suffix stripped).
func parseNoticeDate(cell *goquery.Selection, loc *time.Location) (time.Time, error) {
	if order, ok := cell.Attr("data-order"); ok {
		t, err := time.ParseInLocation(noticeOrderLayout, order, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse notice data-order %q: %w", order, err)
		}
		return t, nil
	}

	visible := strings.TrimSpace(cell.Text())
	visible = strings.TrimSpace(strings.TrimSuffix(visible, "IST"))
	t, err := time.ParseInLocation(noticeVisibleLayout, visible, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse notice date %q: %w", visible, err)
	}
	return t, nil
}

// parseJobDate accepts both the date-only and the full timestamp form
// the job table has been observed to emit.
func parseJobDate(order string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(jobOrderLayout, order, loc); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(noticeOrderLayout, order, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse job data-order %q: %w", order, err)
	}
	return t, nil
}

func absolutize(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
