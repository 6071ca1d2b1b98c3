package presence

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const minAppIDLength = 18

var (
	// ErrEmptyURL is returned for blank button URLs
	ErrEmptyURL = errors.New("url is empty")
	// ErrIncompleteURL is returned when a URL lacks a scheme or host
	ErrIncompleteURL = errors.New("url needs a scheme and a host")
)

// ValidAppID reports whether id looks like an application snowflake:
// ASCII digits only, at least 18 of them
func ValidAppID(id string) bool {
	if len(id) < minAppIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}

// NormalizeURL trims raw, prefixes https:// when no scheme is present and
// checks that the result has both a scheme and a host. Any scheme is
// accepted.
func NormalizeURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrEmptyURL
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", ErrIncompleteURL
	}
	return s, nil
}
