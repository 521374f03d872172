package vm

import (
	"hash/fnv"
	"sync"

	"duskmoo/db"
	"duskmoo/types"

	"github.com/elastic/go-freelru"
)

// verbCacheKey identifies a verb dispatch decision: "starting from this
// object, resolve this verb name".
type verbCacheKey struct {
	objID types.ObjID
	verb  string
}

func hashVerbCacheKey(k verbCacheKey) uint32 {
	h := fnv.New32a()
	h.Write([]byte(k.verb))
	id := uint64(k.objID)
	h.Write([]byte{byte(id), byte(id >> 8), byte(id >> 16), byte(id >> 24)})
	return h.Sum32()
}

type verbCacheEntry struct {
	verb  *db.Verb
	defID types.ObjID
}

// VerbCache is a bounded LRU in front of Accessor.FindVerb, keyed by
// (starting object, verb name). Entries are tagged with the store's
// CacheGeneration() at insertion time; any verb-graph mutation
// (add_verb/delete_verb/set_verb_info/chparent/chparents/recycle) bumps
// the generation via NoteVerbCacheClear(), which this cache treats as a
// signal to drop everything rather than track fine-grained dependencies.
type VerbCache struct {
	mu         sync.Mutex
	lru        *freelru.LRU[verbCacheKey, verbCacheEntry]
	generation int64
}

// globalVerbCache backs bytecode verb-call dispatch across every VM
// instance and task; a single process serves one object graph, so one
// cache (rather than one per VM) is what actually gets reused across calls.
var globalVerbCache = NewVerbCache(8192)

// OnVerbCacheHit and OnVerbCacheMiss, when set, are invoked on every cache
// lookup outcome. The server package wires these to its Prometheus
// counters; vm itself has no metrics dependency.
var (
	OnVerbCacheHit  func()
	OnVerbCacheMiss func()
)

// NewVerbCache builds a cache holding up to capacity resolved verb lookups.
func NewVerbCache(capacity uint32) *VerbCache {
	lru, err := freelru.New[verbCacheKey, verbCacheEntry](capacity, hashVerbCacheKey)
	if err != nil {
		// Capacity is always a small compile-time constant here; a
		// construction failure means the library's invariants changed.
		panic(err)
	}
	return &VerbCache{lru: lru}
}

// FindVerb resolves objID:verbName, consulting the cache first and falling
// back to store.FindVerb on a miss or after an invalidating mutation.
func (c *VerbCache) FindVerb(store db.Accessor, objID types.ObjID, verbName string) (*db.Verb, types.ObjID, error) {
	gen := store.CacheGeneration()
	key := verbCacheKey{objID: objID, verb: verbName}

	c.mu.Lock()
	if gen != c.generation {
		c.lru.Purge()
		c.generation = gen
	} else if entry, ok := c.lru.Get(key); ok {
		c.mu.Unlock()
		if OnVerbCacheHit != nil {
			OnVerbCacheHit()
		}
		return entry.verb, entry.defID, nil
	}
	c.mu.Unlock()

	verb, defID, err := store.FindVerb(objID, verbName)
	store.NoteVerbCacheMiss()
	if OnVerbCacheMiss != nil {
		OnVerbCacheMiss()
	}
	if err != nil {
		return nil, defID, err
	}

	c.mu.Lock()
	c.lru.Add(key, verbCacheEntry{verb: verb, defID: defID})
	c.mu.Unlock()

	return verb, defID, nil
}
