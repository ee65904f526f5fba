// Package artifact stores serialized model artifacts under per-user keys.
package artifact

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

// KeyPrefix precedes the escaped user identifier in every model key.
const KeyPrefix = "autoencoderModel_"

// ErrNotFound is returned by Load when no artifact exists for the key.
var ErrNotFound = errors.New("artifact: not found")

// Store is a key/value sink for model artifacts.
type Store interface {
	Save(ctx context.Context, key string, data []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// componentEscaper undoes the differences between url.QueryEscape and
// JavaScript's encodeURIComponent so keys written by older clients match.
var componentEscaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// ModelKey returns the storage key for a user's model.
func ModelKey(userID string) string {
	return KeyPrefix + componentEscaper.Replace(url.QueryEscape(userID))
}
