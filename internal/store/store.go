// Package store is the persistence port used by the session engine: a
// tab-scoped key/value store that survives reloads of the same tab.
package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the key holds no value.
var ErrNotFound = errors.New("store: key not found")

// Store is the narrow key/value interface every adapter implements.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// PutJSON serializes v and writes it under key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Put(ctx, key, raw)
}

// GetJSON reads key and decodes it into v.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// PutBlob writes a binary payload in its durable (base64 text) encoding.
func PutBlob(ctx context.Context, s Store, key string, payload []byte) error {
	enc := make([]byte, base64.StdEncoding.EncodedLen(len(payload)))
	base64.StdEncoding.Encode(enc, payload)
	return s.Put(ctx, key, enc)
}

// GetBlob reads a payload written by PutBlob and decodes it back to binary.
func GetBlob(ctx context.Context, s Store, key string) ([]byte, error) {
	enc, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	dec := make([]byte, base64.StdEncoding.DecodedLen(len(enc)))
	n, err := base64.StdEncoding.Decode(dec, enc)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return dec[:n], nil
}
