package vm

import "sync"

// InternTable is the VM-wide string literal pool: at most one string
// object per distinct content.
type InternTable struct {
	mu   sync.Mutex
	pool map[string]*Object
}

func newInternTable() *InternTable {
	return &InternTable{pool: make(map[string]*Object)}
}

// Intern returns the canonical string object for the content, creating
// it on first use.
func (vm *VM) Intern(s string) *Object {
	it := vm.interner
	it.mu.Lock()
	defer it.mu.Unlock()

	if obj, ok := it.pool[s]; ok {
		return obj
	}
	obj := vm.heap.AllocateString(vm.builtin.stringClass, s)
	it.pool[s] = obj
	return obj
}

// NewString creates a fresh, non-interned string object.
func (vm *VM) NewString(s string) *Object {
	return vm.heap.AllocateString(vm.builtin.stringClass, s)
}

// ForEachInterned visits every interned string; the collector treats
// them as roots.
func (it *InternTable) ForEachInterned(fn func(*Object)) {
	it.mu.Lock()
	defer it.mu.Unlock()
	for _, obj := range it.pool {
		fn(obj)
	}
}
