// Package cache implements the process-local running-data cache (spec.md
// §4.7): a map from module name to (data tree, version), read-preferring
// and invalidated per-module on version bump.
//
// Grounded on pkg/security/ca.go's certCache (a sync.RWMutex-guarded
// map[string]*CachedCert layered over a storage.Store reader): the same
// shape generalized from certificates to data trees, with eviction handed
// to github.com/hashicorp/golang-lru/v2 per the spec's own "LRU-equivalent
// cache" phrasing (§2.8) rather than a bare map.
package cache
