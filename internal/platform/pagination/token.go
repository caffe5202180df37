package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Keyset is the position after which the next page starts. Lists ordered by creation time use
// both fields; lists ordered by id alone leave CreatedAt zero.
type Keyset struct {
	CreatedAt time.Time `json:"t,omitempty"`
	ID        string    `json:"id"`
}

// IsZero reports whether the keyset marks the first page.
func (k Keyset) IsZero() bool {
	return k.ID == "" && k.CreatedAt.IsZero()
}

// EncodeToken serialises the keyset into a base64 URL-safe page token.
func EncodeToken(keyset Keyset) (string, error) {
	if keyset.IsZero() {
		return "", nil
	}
	data, err := json.Marshal(keyset)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses the page token produced by EncodeToken back into a keyset.
func DecodeToken(token string) (Keyset, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Keyset{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Keyset{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var keyset Keyset
	if err := json.Unmarshal(decoded, &keyset); err != nil {
		return Keyset{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if strings.TrimSpace(keyset.ID) == "" {
		return Keyset{}, fmt.Errorf("%w: missing id", ErrInvalidPageToken)
	}
	return keyset, nil
}
