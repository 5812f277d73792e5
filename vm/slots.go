package vm

import "sync"

// ---------------------------------------------------------------------------
// Field indirection: storage for fields added after a type was loaded
// ---------------------------------------------------------------------------

// Slot boxes the value of one added field on one instance (or one static
// added field). Patched code holds stable *Slot references, so a slot is
// never replaced once created; reads and writes synchronize per slot.
type Slot struct {
	mu  sync.Mutex
	val Value
	set bool // an explicit store has happened

	// init produces the value the type's constructor would have
	// assigned, replayed on first read before any store.
	init func() Value
}

// Load returns the slot's value, applying the default initializer on
// first access without a prior store.
func (s *Slot) Load() Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		if s.init != nil {
			s.val = s.init()
		}
		s.set = true
	}
	return s.val
}

// Store writes the slot's value.
func (s *Slot) Store(v Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.val = v
	s.set = true
}

// SlotTable is the process-wide side table for added fields. Instance
// fields are keyed by object identity plus field name, so a slot's
// lifetime follows its instance; static fields are keyed by qualified
// name alone and live for the process.
//
// Slot creation is exactly-once under concurrent first access: the table
// lock guards the maps, and the returned *Slot is stable thereafter.
type SlotTable struct {
	mu       sync.Mutex
	instance map[*Object]map[string]*Slot
	static   map[string]*Slot
	defaults map[string]func() Value // "Type.field" → initializer
}

// NewSlotTable creates an empty slot table.
func NewSlotTable() *SlotTable {
	return &SlotTable{
		instance: make(map[*Object]map[string]*Slot),
		static:   make(map[string]*Slot),
		defaults: make(map[string]func() Value),
	}
}

// RegisterDefault records the constructor-literal initializer for an
// added field, keyed "Type.field". Registered when a patch module that
// declares the default is loaded.
func (t *SlotTable) RegisterDefault(typeName, field string, init func() Value) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.defaults[typeName+"."+field] = init
}

// Instance returns the slot for (obj, field), creating it on first
// touch with the field's registered default initializer.
func (t *SlotTable) Instance(obj *Object, field string) *Slot {
	t.mu.Lock()
	defer t.mu.Unlock()

	fields := t.instance[obj]
	if fields == nil {
		fields = make(map[string]*Slot)
		t.instance[obj] = fields
	}
	if s, ok := fields[field]; ok {
		return s
	}
	s := &Slot{init: t.defaults[obj.Class.Name+"."+field]}
	fields[field] = s
	return s
}

// Static returns the slot for a static added field, creating it on
// first touch.
func (t *SlotTable) Static(typeName, field string) *Slot {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := typeName + "." + field
	if s, ok := t.static[key]; ok {
		return s
	}
	s := &Slot{init: t.defaults[key]}
	t.static[key] = s
	return s
}

// Release drops all slots belonging to an instance. The interpreter does
// not call this; it exists for hosts that track instance death.
func (t *SlotTable) Release(obj *Object) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.instance, obj)
}
