// Package pagination provides the page-size rules and cursor token codec
// shared by the HTTP handlers and the Firestore repositories.
package pagination

import (
	"errors"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is the fallback used when a caller supplies no default.
	DefaultPageSize = 20
	// MaxPageSize caps page sizes to prevent unbounded queries.
	MaxPageSize = 100
)

// ErrInvalidPageSize reports a page_size value that is not an integer.
var ErrInvalidPageSize = errors.New("page_size must be an integer")

// ParsePageSize interprets a raw page_size query value. Empty and
// non-positive values fall back to the default; oversized requests are capped
// at max. Only a non-numeric value is an error.
func ParsePageSize(raw string, fallback, max int) (int, error) {
	if max <= 0 {
		max = MaxPageSize
	}
	if fallback <= 0 {
		fallback = DefaultPageSize
	}
	if fallback > max {
		fallback = max
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}

	size, err := strconv.Atoi(raw)
	if err != nil {
		return 0, ErrInvalidPageSize
	}
	switch {
	case size <= 0:
		return fallback, nil
	case size > max:
		return max, nil
	default:
		return size, nil
	}
}
