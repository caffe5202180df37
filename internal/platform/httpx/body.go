package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultBodyLimit = 64 * 1024

var (
	// ErrEmptyBody is returned when the request carries no payload.
	ErrEmptyBody = errors.New("httpx: request body is empty")
	// ErrBodyTooLarge is returned when the payload exceeds the allowed size.
	ErrBodyTooLarge = errors.New("httpx: request body too large")
	// ErrInvalidJSON is returned when the payload cannot be decoded.
	ErrInvalidJSON = errors.New("httpx: invalid JSON payload")
)

// ReadLimitedBody reads at most limit bytes from the request body.
func ReadLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, ErrEmptyBody
	}
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, ErrEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

// DecodeJSON reads and decodes a JSON request body into dst.
func DecodeJSON(r *http.Request, limit int64, dst any) error {
	body, err := ReadLimitedBody(r, limit)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}

// WriteBodyError maps body decoding failures onto the error envelope.
func WriteBodyError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, ErrEmptyBody):
		WriteError(ctx, w, NewError("invalid_request", "request body is required", http.StatusBadRequest))
	case errors.Is(err, ErrBodyTooLarge):
		WriteError(ctx, w, NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, ErrInvalidJSON):
		WriteError(ctx, w, NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
	default:
		WriteError(ctx, w, NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}
