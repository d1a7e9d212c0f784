package exception

import "errors"

var (
	ErrCacheDuplicate     = errors.New("cache: entity already exists")
	ErrCacheMissing       = errors.New("cache: entity not found")
	ErrCacheInvalidKey    = errors.New("cache: invalid key")
	ErrCacheUnknownRecord = errors.New("cache: unknown record kind")
)
