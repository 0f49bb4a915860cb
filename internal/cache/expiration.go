package cache

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var expiryDateRe = regexp.MustCompile(`expiry-date="(.*)GMT"`)

// Expired reports whether an x-amz-expiration header value, e.g.
// `expiry-date="Fri, 23 Dec 2012 00:00:00 GMT", rule-id="picture"`, lies before now.
func Expired(header string, now time.Time) (bool, error) {
	m := expiryDateRe.FindStringSubmatch(header)
	if m == nil {
		return false, fmt.Errorf("no expiry-date in %q", header)
	}

	date := m[1]
	if i := strings.Index(date, ","); i >= 0 {
		date = date[i+1:]
	}

	expiry, err := time.Parse("02 Jan 2006 15:04:05", strings.TrimSpace(date))
	if err != nil {
		return false, fmt.Errorf("invalid expiry-date in %q: %w", header, err)
	}
	return !now.UTC().Before(expiry), nil
}
