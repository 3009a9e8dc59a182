// Package snapshot archives raw listing pages fetched during a cycle so
// parser regressions can be debugged against the HTML that caused them.
package snapshot

import (
	"fmt"
	"strings"
	"time"
)

// ObjectName builds the archive key for one listing page, partitioned by
// fetch date so buckets stay browsable.
func ObjectName(prefix, page string, fetchedAt time.Time) string {
	name := fmt.Sprintf("%s/%s-%s.html",
		fetchedAt.UTC().Format("2006/01/02"),
		page,
		fetchedAt.UTC().Format("150405"),
	)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
