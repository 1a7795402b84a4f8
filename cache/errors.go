package cache

import "errors"

// ErrNotPreloaded is returned by GetOrDecode when the cache is in
// preloaded (lock-bypass, append-only) mode and the requested handle was
// never part of the preload set.
var ErrNotPreloaded = errors.New("cache: handle not present in preloaded cache")
