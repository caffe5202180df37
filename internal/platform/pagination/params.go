package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Listing endpoints (products, orders, reviews, users) return newest first in pages of
// DefaultPageSize unless the client asks for another size, never more than DefaultMaxPageSize.
const (
	DefaultPageSize    = 20
	DefaultMaxPageSize = 100
)

// Params is the page request decoded from ?pageSize=&pageToken=. Keyset is the decoded
// (created_at, id) position the previous page ended at; it is zero for the first page.
type Params struct {
	PageSize  int
	PageToken string
	Keyset    Keyset
}

// Options overrides the package limits for one listing.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// FromRequest reads the page request from the query string of r.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse decodes pageSize and pageToken. An oversized pageSize is clamped; a non-numeric or
// non-positive one is ErrInvalidPageSize, and a token that does not decode is ErrInvalidPageToken.
func Parse(values url.Values, opts Options) (Params, error) {
	defSize, maxSize := opts.limits()

	size := defSize
	if raw := strings.TrimSpace(values.Get("pageSize")); raw != "" {
		n, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			return Params{}, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
		case n <= 0:
			return Params{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
		case n > maxSize:
			n = maxSize
		}
		size = n
	}

	params := Params{PageSize: size}
	if token := strings.TrimSpace(values.Get("pageToken")); token != "" {
		keyset, err := DecodeToken(token)
		if err != nil {
			return Params{}, err
		}
		params.PageToken, params.Keyset = token, keyset
	}
	return params, nil
}

// Normalize is the repository-side guard for page sizes that did not come through Parse.
func Normalize(pageSize int) int {
	switch {
	case pageSize <= 0:
		return DefaultPageSize
	case pageSize > DefaultMaxPageSize:
		return DefaultMaxPageSize
	}
	return pageSize
}

func (o Options) limits() (defSize, maxSize int) {
	maxSize = o.MaxPageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxPageSize
	}
	defSize = o.DefaultPageSize
	if defSize <= 0 {
		defSize = DefaultPageSize
	}
	return min(defSize, maxSize), maxSize
}
