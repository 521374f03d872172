package db

import "duskmoo/types"

// Accessor is the object-graph read/write surface shared by Store (direct,
// single-writer access used for textdump load/import and by tests that
// don't care about concurrent tasks) and Tx (snapshot-isolated, used by the
// worker pool). Builtins and the VM code against this interface so the same
// call site runs unmodified whether a task is transactional or not.
type Accessor interface {
	Get(id types.ObjID) *Object
	GetUnsafe(id types.ObjID) *Object
	Add(obj *Object) error
	NextID() types.ObjID
	MaxObject() types.ObjID
	Valid(id types.ObjID) bool
	IsRecycled(id types.ObjID) bool
	Recycle(id types.ObjID) error
	Recreate(id, parent, owner types.ObjID) error
	All() []*Object
	Players() []types.ObjID
	GetAnonymousObjects() []*Object
	LowestFreeID() types.ObjID
	Renumber(oldID, newID types.ObjID) error
	FindVerb(objID types.ObjID, verbName string) (*Verb, types.ObjID, error)
	RegisterWaif(classID types.ObjID, waif *types.WaifValue)
	WaifCount() int
	WaifCountByClass() map[types.ObjID]int
	NoteVerbCacheClear()
	NoteVerbCacheMiss()
	ConsumeVerbCacheStats() []int64
	CacheGeneration() int64
	ResetMaxObject()
	InvalidateAnonymousChildren(parentID types.ObjID)
}

var _ Accessor = (*Store)(nil)
var _ Accessor = (*Tx)(nil)
