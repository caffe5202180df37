package postgres

import (
	"time"

	"github.com/myshop/api/internal/domain"
	"github.com/myshop/api/internal/platform/pagination"
)

// pageWindow decodes the page token and returns the limit to query, one past the page size.
func pageWindow(pager domain.Pagination) (pagination.Keyset, int, int, error) {
	keyset, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return pagination.Keyset{}, 0, 0, err
	}
	size := pagination.Normalize(pager.PageSize)
	return keyset, size, size + 1, nil
}

// trimPage cuts the extra lookahead row and encodes the token pointing after the last kept row.
func trimPage[T any](items []T, size int, key func(T) (time.Time, string)) (domain.CursorPage[T], error) {
	if len(items) <= size {
		return domain.CursorPage[T]{Items: items}, nil
	}
	items = items[:size]
	createdAt, id := key(items[len(items)-1])
	token, err := pagination.EncodeToken(pagination.Keyset{CreatedAt: createdAt, ID: id})
	if err != nil {
		return domain.CursorPage[T]{}, err
	}
	return domain.CursorPage[T]{Items: items, NextPageToken: token}, nil
}
