package cache

import (
	"context"
	"encoding/json"

	"github.com/Keksclan/dishsync/cachekey"
)

// Encode returns the JSON payload for v.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode parses a JSON payload into T.
func Decode[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

// ReadAs reads and decodes the value stored under k. The boolean is false on
// a miss or when the entry holds no data.
func ReadAs[T any](c *Cache, k cachekey.Key) (T, bool, error) {
	var zero T
	e, ok := c.Read(k)
	if !ok || e.Data == nil {
		return zero, false, nil
	}
	v, err := Decode[T](e.Data)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// GetAs is the typed form of Cache.Get.
func GetAs[T any](ctx context.Context, c *Cache, k cachekey.Key, fetch Fetcher) (T, error) {
	var zero T
	data, err := c.Get(ctx, k, fetch)
	if err != nil {
		return zero, err
	}
	return Decode[T](data)
}
