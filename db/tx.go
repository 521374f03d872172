package db

import (
	"duskmoo/types"
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// ErrConflict is returned by Commit when the transaction's read set overlaps
// with writes committed by another transaction since this one's snapshot was
// taken (first-committer-wins, per spec.md §4.5/§5). The scheduler is
// responsible for re-running the whole task against a fresh Tx.
var ErrConflict = errors.New("db: transaction conflict")

// Tx is a snapshot-isolated view of a Store. All reads observe the object
// graph exactly as it was at Begin(); all writes land in a private overlay
// and are invisible outside the Tx until Commit succeeds.
//
// Tx exposes the same method set db.Store does (Get, Add, Recycle, FindVerb,
// ...) so callers written against *Store — which is every builtin, the VM,
// and the scheduler — only need their parameter type changed from *Store to
// *Tx; the call sites are untouched.
type Tx struct {
	store    *Store
	snapshot int64 // store.seq at Begin()

	reads     map[types.ObjID]int64   // id -> version observed at first touch
	overlay   map[types.ObjID]*Object // id -> tx-local clone (touched, dirty, or newly created)
	created   map[types.ObjID]bool    // ids Add()-ed within this tx
	originals map[types.ObjID]*Object // id -> store's object as of first touch, for dirty-checking at commit

	localHighWater types.ObjID
	localMaxObj    types.ObjID
	haveLocalHigh  bool
}

// recordRead remembers the version an object was at when first observed by
// this transaction, for validation at commit.
func (tx *Tx) recordRead(id types.ObjID, version int64) {
	if _, seen := tx.reads[id]; !seen {
		tx.reads[id] = version
	}
}

// Get mirrors Store.Get: returns nil for missing/recycled/invalid objects.
// The returned pointer is a tx-private clone safe to mutate in place.
func (tx *Tx) Get(id types.ObjID) *Object {
	if obj, ok := tx.overlay[id]; ok {
		if obj.Recycled || obj.Flags.Has(FlagInvalid) {
			return nil
		}
		return obj
	}

	tx.store.mu.RLock()
	base, ok := tx.store.objects[id]
	version := tx.store.versionOf(id)
	tx.store.mu.RUnlock()

	if !ok || base.Recycled || base.Flags.Has(FlagInvalid) {
		tx.recordRead(id, version)
		return nil
	}

	clone := base.Clone()
	tx.overlay[id] = clone
	tx.originals[id] = base
	tx.recordRead(id, version)
	return clone
}

// GetUnsafe mirrors Store.GetUnsafe: returns the object even if recycled.
func (tx *Tx) GetUnsafe(id types.ObjID) *Object {
	if obj, ok := tx.overlay[id]; ok {
		return obj
	}

	tx.store.mu.RLock()
	base, ok := tx.store.objects[id]
	version := tx.store.versionOf(id)
	tx.store.mu.RUnlock()

	if !ok {
		tx.recordRead(id, version)
		return nil
	}

	clone := base.Clone()
	tx.overlay[id] = clone
	tx.originals[id] = base
	tx.recordRead(id, version)
	return clone
}

// Add mirrors Store.Add: registers a brand new object, local to this tx
// until commit.
func (tx *Tx) Add(obj *Object) error {
	if _, exists := tx.overlay[obj.ID]; exists {
		return fmt.Errorf("object #%d already exists", obj.ID)
	}
	tx.store.mu.RLock()
	_, existsInStore := tx.store.objects[obj.ID]
	tx.store.mu.RUnlock()
	if existsInStore {
		return fmt.Errorf("object #%d already exists", obj.ID)
	}

	tx.overlay[obj.ID] = obj
	tx.created[obj.ID] = true

	if obj.ID > tx.localHighWater || !tx.haveLocalHigh {
		tx.localHighWater = obj.ID
		tx.haveLocalHigh = true
	}
	if !obj.Anonymous && obj.ID > tx.localMaxObj {
		tx.localMaxObj = obj.ID
	}
	return nil
}

// NextID mirrors Store.NextID, accounting for objects created earlier in
// this same transaction.
func (tx *Tx) NextID() types.ObjID {
	hw := tx.store.highWaterIDSnapshot()
	if tx.haveLocalHigh && tx.localHighWater > hw {
		hw = tx.localHighWater
	}
	return hw + 1
}

// MaxObject mirrors Store.MaxObject.
func (tx *Tx) MaxObject() types.ObjID {
	m := tx.store.maxObjectSnapshot()
	if tx.localMaxObj > m {
		m = tx.localMaxObj
	}
	return m
}

// Valid mirrors Store.Valid.
func (tx *Tx) Valid(id types.ObjID) bool {
	if id < 0 {
		return false
	}
	if obj, ok := tx.overlay[id]; ok {
		return !obj.Recycled && !obj.Flags.Has(FlagInvalid)
	}
	return tx.store.Valid(id)
}

// IsRecycled mirrors Store.IsRecycled.
func (tx *Tx) IsRecycled(id types.ObjID) bool {
	if id < 0 {
		return false
	}
	if obj, ok := tx.overlay[id]; ok {
		return obj.Recycled
	}
	return tx.store.IsRecycled(id)
}

// invalidateAnonymousChildren marks anonymous children under rootID as
// invalid, tx-locally — mirrors Store.invalidateAnonymousChildrenLocked but
// walks through tx.Get so it sees uncommitted edits from earlier in the same
// transaction.
func (tx *Tx) invalidateAnonymousChildren(rootID types.ObjID) {
	queue := []types.ObjID{rootID}
	visited := make(map[types.ObjID]bool)

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true

		obj := tx.GetUnsafe(current)
		if obj == nil || obj.Recycled {
			continue
		}

		for _, childID := range obj.AnonymousChildren {
			if child := tx.GetUnsafe(childID); child != nil && child.Anonymous {
				child.Flags = child.Flags.Set(FlagInvalid)
			}
		}
		obj.AnonymousChildren = nil

		queue = append(queue, obj.Children...)
	}
}

// Recycle mirrors Store.Recycle.
func (tx *Tx) Recycle(id types.ObjID) error {
	obj := tx.Get(id)
	if obj == nil {
		return fmt.Errorf("object #%d does not exist", id)
	}
	if obj.Recycled {
		return fmt.Errorf("object #%d already recycled", id)
	}

	tx.invalidateAnonymousChildren(id)

	obj.Recycled = true
	obj.Flags = obj.Flags.Set(FlagRecycled | FlagInvalid)
	return nil
}

// Recreate mirrors Store.Recreate.
func (tx *Tx) Recreate(id types.ObjID, parent types.ObjID, owner types.ObjID) error {
	obj := tx.GetUnsafe(id)
	if obj == nil {
		return fmt.Errorf("object #%d does not exist", id)
	}
	if !obj.Recycled {
		return fmt.Errorf("object #%d is not recycled", id)
	}

	fresh := NewObject(id, owner)
	fresh.Parents = []types.ObjID{parent}
	tx.overlay[id] = fresh
	return nil
}

// All mirrors Store.All: committed objects overlaid with this tx's local
// edits, excluding anything recycled (committed or locally).
func (tx *Tx) All() []*Object {
	seen := make(map[types.ObjID]bool)
	result := make([]*Object, 0, len(tx.overlay))

	for id, obj := range tx.overlay {
		seen[id] = true
		if !obj.Recycled {
			result = append(result, obj)
		}
	}

	for _, obj := range tx.store.All() {
		if seen[obj.ID] {
			continue
		}
		result = append(result, obj)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Players mirrors Store.Players.
func (tx *Tx) Players() []types.ObjID {
	result := []types.ObjID{}
	for _, obj := range tx.All() {
		if obj.Flags.Has(FlagUser) {
			result = append(result, obj.ID)
		}
	}
	return result
}

// GetAnonymousObjects mirrors Store.GetAnonymousObjects.
func (tx *Tx) GetAnonymousObjects() []*Object {
	result := []*Object{}
	for _, obj := range tx.All() {
		if obj.Anonymous {
			result = append(result, obj)
		}
	}
	return result
}

// LowestFreeID mirrors Store.LowestFreeID. Reads the committed store's view;
// good enough for the admin-only `recreate()` path this feeds, which is
// never hot and always re-validated against the live store at commit.
func (tx *Tx) LowestFreeID() types.ObjID {
	return tx.store.LowestFreeID()
}

// Renumber mirrors Store.Renumber, walking every live object through the tx
// overlay so all cross-references (Parents, Children, Location, Contents,
// Owner, ChparentChildren) are updated in the tx-local view.
func (tx *Tx) Renumber(oldID, newID types.ObjID) error {
	obj := tx.Get(oldID)
	if obj == nil {
		return fmt.Errorf("object #%d does not exist", oldID)
	}
	if oldID == newID {
		return nil
	}
	if existing := tx.Get(newID); existing != nil {
		return fmt.Errorf("object #%d already exists", newID)
	}

	tx.invalidateAnonymousChildren(oldID)

	obj.ID = newID
	tx.overlay[newID] = obj
	delete(tx.overlay, oldID)
	// The old slot becomes available again; record it as a tombstone so a
	// later Get(oldID) within this tx returns nil rather than falling
	// through to the (stale) committed object at that ID.
	tomb := &Object{ID: oldID, Recycled: true, Flags: FlagRecycled | FlagInvalid}
	tx.overlay[oldID] = tomb

	for _, other := range tx.All() {
		if other.ID == oldID || other.Recycled {
			continue
		}
		live := tx.Get(other.ID)
		if live == nil {
			continue
		}
		for i, pid := range live.Parents {
			if pid == oldID {
				live.Parents[i] = newID
			}
		}
		for i, cid := range live.Children {
			if cid == oldID {
				live.Children[i] = newID
			}
		}
		if live.ChparentChildren != nil && live.ChparentChildren[oldID] {
			delete(live.ChparentChildren, oldID)
			live.ChparentChildren[newID] = true
		}
		if live.Location == oldID {
			live.Location = newID
		}
		for i, cid := range live.Contents {
			if cid == oldID {
				live.Contents[i] = newID
			}
		}
		if live.Owner == oldID {
			live.Owner = newID
		}
	}

	return nil
}

// matchVerbName is shared with Store.FindVerb.
func txMatchVerbName(pattern, search string) bool { return matchVerbName(pattern, search) }

// FindVerb mirrors Store.FindVerb's breadth-first ancestor walk, but reads
// through tx.Get so it sees this transaction's own uncommitted edits and so
// every object it inspects enters the read set (an ancestor's verb table
// changing concurrently must conflict with this tx at commit).
func (tx *Tx) FindVerb(objID types.ObjID, verbName string) (*Verb, types.ObjID, error) {
	visited := make(map[types.ObjID]bool)
	queue := []types.ObjID{objID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true

		obj := tx.Get(current)
		if obj == nil {
			continue
		}

		if verb, ok := obj.Verbs[verbName]; ok {
			return verb, current, nil
		}
		if verb, ok := obj.Verbs[":"+verbName]; ok {
			return verb, current, nil
		}
		for _, verb := range obj.Verbs {
			for _, alias := range verb.Names {
				if txMatchVerbName(alias, verbName) {
					return verb, current, nil
				}
			}
		}

		queue = append(queue, obj.Parents...)
	}

	return nil, types.ObjNothing, fmt.Errorf("verb not found: %s", verbName)
}

// RegisterWaif, WaifCount, WaifCountByClass and the verb-cache counters
// track process-wide, advisory bookkeeping (garbage-collector and
// diagnostics state) rather than part of the transactional object graph —
// they apply immediately against the store and are not rolled back on
// conflict, matching the teacher's original (non-transactional) treatment.
func (tx *Tx) RegisterWaif(classID types.ObjID, waif *types.WaifValue) {
	tx.store.RegisterWaif(classID, waif)
}
func (tx *Tx) WaifCount() int                              { return tx.store.WaifCount() }
func (tx *Tx) WaifCountByClass() map[types.ObjID]int        { return tx.store.WaifCountByClass() }
func (tx *Tx) NoteVerbCacheClear()                          { tx.store.NoteVerbCacheClear() }
func (tx *Tx) NoteVerbCacheMiss()                           { tx.store.NoteVerbCacheMiss() }
func (tx *Tx) ConsumeVerbCacheStats() []int64               { return tx.store.ConsumeVerbCacheStats() }
func (tx *Tx) CacheGeneration() int64                       { return tx.store.CacheGeneration() }
func (tx *Tx) ResetMaxObject()                              { tx.store.ResetMaxObject() }
func (tx *Tx) InvalidateAnonymousChildren(parentID types.ObjID) {
	tx.invalidateAnonymousChildren(parentID)
}

// Conflicts reports whether this transaction's read set overlaps with
// writes committed after its snapshot was taken. Exposed so the scheduler
// can decide to retry before paying for a full Commit attempt, but Commit
// re-checks under the store lock regardless (TOCTOU-safe).
func (tx *Tx) Conflicts() bool {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	for id, seenVersion := range tx.reads {
		if tx.store.versions[id] > seenVersion {
			return true
		}
	}
	return false
}

// Commit validates the read set against the store's current state and, if
// nothing this transaction read has changed since its snapshot, installs
// the overlay atomically and bumps the commit sequence (first-committer-
// wins). Returns ErrConflict if validation fails; the store is left
// completely untouched in that case.
//
// Only overlay entries that were actually created or mutated are written
// back and version-bumped; an entry that was merely read via Get/GetUnsafe
// and never changed is dropped here. Otherwise every read would look like a
// write to other transactions' conflict checks, causing purely read-only
// transactions to spuriously abort concurrent readers of the same objects.
func (tx *Tx) Commit() error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	for id, seenVersion := range tx.reads {
		if tx.store.versions[id] > seenVersion {
			return ErrConflict
		}
	}

	tx.store.seq++
	newSeq := tx.store.seq

	for id, obj := range tx.overlay {
		if !tx.created[id] {
			if original, ok := tx.originals[id]; ok && objectsEqual(original, obj) {
				continue // read-only touch; nothing to install
			}
		}

		tx.store.objects[id] = obj
		tx.store.versions[id] = newSeq

		if obj.ID > tx.store.highWaterID {
			tx.store.highWaterID = obj.ID
		}
		if !obj.Anonymous && obj.ID > tx.store.maxObjID {
			tx.store.maxObjID = obj.ID
		}
		if obj.Recycled {
			tx.store.recycledID = appendIfMissing(tx.store.recycledID, id)
		}
	}

	return nil
}

// objectsEqual reports whether a transaction's overlay clone still matches
// the object as it stood in the store when first touched, i.e. whether the
// tx only read it rather than mutating it in place.
func objectsEqual(a, b *Object) bool {
	return reflect.DeepEqual(a, b)
}

// Abort discards the transaction. Since writes only ever lived in the
// overlay, there is nothing to undo in the store.
func (tx *Tx) Abort() {
	tx.overlay = nil
	tx.reads = nil
}

func appendIfMissing(ids []types.ObjID, id types.ObjID) []types.ObjID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// highWaterIDSnapshot and maxObjectSnapshot read Store's allocation
// high-water marks under lock, for Tx.NextID/MaxObject.
func (s *Store) highWaterIDSnapshot() types.ObjID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.highWaterID
}

func (s *Store) maxObjectSnapshot() types.ObjID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxObjID
}
