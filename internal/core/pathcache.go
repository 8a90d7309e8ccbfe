package core

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// PathCache memoizes OverridePath computations for popular override/flavor
// combinations. It only caches the derived string; DocumentMetadata's
// OverrideByKey map stays the source of truth, so an eviction never loses
// data, only a lookup shortcut (spec §3's document_metadata.referenced_by
// reverse lookup is the informal description this follows).
type PathCache struct {
	cache *lru.Cache[string, string]
}

// defaultPathCacheSize bounds memory for namespaces with many distinct
// override/flavor combinations without needing a per-namespace tuning knob.
const defaultPathCacheSize = 4096

// NewPathCache creates a PathCache. size <= 0 falls back to
// defaultPathCacheSize.
func NewPathCache(size int) *PathCache {
	if size <= 0 {
		size = defaultPathCacheSize
	}
	c, _ := lru.New[string, string](size)
	return &PathCache{cache: c}
}

// OverridePath returns OverridePath(override, flavors), serving from cache
// when this exact (override, flavor-order) pair was seen before.
func (p *PathCache) OverridePath(override string, flavors []string) string {
	key := rawKey(override, flavors)
	if v, ok := p.cache.Get(key); ok {
		return v
	}
	v := OverridePath(override, flavors)
	p.cache.Add(key, v)
	return v
}

func rawKey(override string, flavors []string) string {
	if len(flavors) == 0 {
		return override
	}
	return override + "\x00" + strings.Join(flavors, ",")
}
