// Package kindcache infers an object's Kind from its ID prefix, optionally
// validating that the referenced file exists, and caches validated results
// keyed by the captured file mtime so a subsequent filesystem edit
// invalidates the entry (§4.3, §9).
package kindcache

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/trellis-mcp/trellis/internal/object"
	"github.com/trellis-mcp/trellis/internal/resolver"
)

// DefaultCapacity is the default LRU capacity (§4.3: "default ≈ 1,000 entries").
const DefaultCapacity = 1000

// HierarchicalTTL is the short fallback expiration for hierarchical tasks
// whose mtime can't be cheaply recaptured without parent context (§9).
const HierarchicalTTL = 60 * time.Second

// entry holds a cached, validated kind-inference result.
type entry struct {
	kind      object.Kind
	path      string
	mtime     time.Time
	cachedAt  time.Time
	isHierarchical bool
}

// Result is the outcome of InferWithValidation.
type Result struct {
	InferredKind object.Kind
	FilePath     string
	FileModTime  time.Time
	Err          error
}

// Cache is a thread-safe, mtime-invalidated LRU cache of kind-inference
// results. Zero value is not usable; construct with New.
type Cache struct {
	mu       sync.Mutex
	lru      *lru.Cache[string, entry]
	resolver *resolver.Resolver
}

// New creates a Cache with the given capacity (DefaultCapacity if <= 0) and
// resolver used to locate files for validated lookups.
func New(capacity int, res *resolver.Resolver) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l, err := lru.New[string, entry](capacity)
	if err != nil {
		// capacity is always > 0 here, so lru.New cannot fail.
		panic(err)
	}
	return &Cache{lru: l, resolver: res}
}

// InferKind returns the kind implied by id's prefix alone, with no
// filesystem access and no caching. This matches §4.3's "validate=false"
// path: pattern matching only, constant-time against pre-compiled patterns.
func InferKind(id string) (object.Kind, error) {
	kind, _, err := resolver.SplitID(id)
	return kind, err
}

// normalize produces the cache key for an ID: kind-prefixed IDs and the
// "task-" alias both normalize to the same key so a validated lookup under
// either spelling hits the same entry.
func normalize(id string) (object.Kind, string, error) {
	return resolver.SplitID(id)
}

// InferWithValidation infers the kind and resolves the object to a file,
// consulting the cache first. A cache hit requires the file's current
// mtime to equal the mtime captured at cache time; otherwise the entry is
// evicted and recomputed (§4.3, §9). Unvalidated results are never stored
// here — every entry in this cache was produced by a validated lookup.
func (c *Cache) InferWithValidation(id, root string) Result {
	kind, bareID, err := normalize(id)
	if err != nil {
		return Result{Err: err}
	}

	key := string(kind) + ":" + bareID + "@" + root

	c.mu.Lock()
	if cached, ok := c.lru.Get(key); ok {
		if c.stillValid(cached) {
			c.mu.Unlock()
			return Result{InferredKind: cached.kind, FilePath: cached.path, FileModTime: cached.mtime}
		}
		c.lru.Remove(key)
	}
	c.mu.Unlock()

	path, err := c.resolver.IDToPath(kind, bareID, root)
	if err != nil {
		return Result{InferredKind: kind, Err: err}
	}

	info, err := os.Stat(path)
	if err != nil {
		return Result{InferredKind: kind, Err: err}
	}

	e := entry{
		kind:           kind,
		path:           path,
		mtime:          info.ModTime(),
		cachedAt:       time.Now(),
		isHierarchical: kind != object.KindTask || isHierarchicalPath(path),
	}

	c.mu.Lock()
	c.lru.Add(key, e)
	c.mu.Unlock()

	return Result{InferredKind: kind, FilePath: path, FileModTime: info.ModTime()}
}

// stillValid checks whether a cached entry remains usable: the file's
// current mtime must still equal what was captured, and hierarchical
// entries additionally expire once HierarchicalTTL has elapsed since they
// were cached.
func (c *Cache) stillValid(e entry) bool {
	info, err := os.Stat(e.path)
	if err != nil {
		return false
	}
	if !info.ModTime().Equal(e.mtime) {
		return false
	}
	if e.isHierarchical && time.Since(e.cachedAt) >= HierarchicalTTL {
		return false
	}
	return true
}

// isHierarchicalPath reports whether a resolved path lives under the
// project hierarchy rather than a standalone tasks directory.
func isHierarchicalPath(path string) bool {
	return !(hasComponent(path, "tasks-open") || hasComponent(path, "tasks-done")) ||
		hasComponent(path, "features")
}

func hasComponent(path, name string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == name {
			return true
		}
	}
	return false
}

// Len reports the number of entries currently cached (test/debug use).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Purge clears the cache.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
