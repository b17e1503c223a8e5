package vm

import (
	"sync"
)

// Object is a heap-resident instance. Arrays are objects whose class
// has array kind and whose element region is populated instead of the
// field region.
type Object struct {
	class *Class

	// monitor is created lazily on first synchronization.
	monitorOnce sync.Once
	monitor     *Monitor

	// fields is the instance field region, offsets in value slots.
	fields []Value

	// Arrays.
	length   int32
	elements []Value

	// str mirrors the Go form of builtin string instances so the
	// intern table and natives avoid char-array round trips.
	str string

	// mirrorOf backs java/lang/Class instances with the runtime class
	// they reflect.
	mirrorOf *Class

	hash int32
	mark bool

	// next links the object into the heap list.
	next *Object
}

func (o *Object) Class() *Class { return o.class }

// Monitor returns the object's monitor, creating it on first use.
func (o *Object) Monitor() *Monitor {
	o.monitorOnce.Do(func() {
		o.monitor = NewMonitor()
	})
	return o.monitor
}

// IdentityHash returns the object's identity hash code, stable for its
// lifetime.
func (o *Object) IdentityHash() int32 { return o.hash }

// Length returns an array's length.
func (o *Object) Length() int32 { return o.length }

// IsArray reports whether the object is an array instance.
func (o *Object) IsArray() bool { return o.class.IsArray() }

// FieldValue reads the instance field region at a field's offset.
func (o *Object) FieldValue(f *Field) Value {
	return o.fields[f.Offset]
}

// SetFieldValue writes the instance field region at a field's offset.
func (o *Object) SetFieldValue(f *Field, v Value) {
	o.fields[f.Offset] = v
	if v.Kind.IsCategory2() {
		o.fields[f.Offset+1] = padValue()
	}
}

// Element reads the array element at the given index. The caller has
// already bounds-checked.
func (o *Object) Element(index int32) Value {
	return o.elements[index*o.class.Component.SlotSize()]
}

// SetElement writes the array element at the given index.
func (o *Object) SetElement(index int32, v Value) {
	base := index * o.class.Component.SlotSize()
	o.elements[base] = v
	if v.Kind.IsCategory2() {
		o.elements[base+1] = padValue()
	}
}

// GoString returns the Go form of a builtin string instance.
func (o *Object) GoString() string { return o.str }

// ThrowableMessage returns the detail message of a throwable instance,
// or "".
func (o *Object) ThrowableMessage() string {
	if o == nil {
		return ""
	}
	f := o.class.LookupField("detailMessage", "Ljava/lang/String;")
	if f == nil || f.IsStatic() {
		return ""
	}
	msg := o.FieldValue(f).Ref()
	if msg == nil {
		return ""
	}
	return msg.GoString()
}

// Heap tracks every live object so the collector can find them. The
// layout discipline that matters is tracking, not placement: objects
// are ordinary Go allocations threaded onto a list.
type Heap struct {
	mu    sync.Mutex
	head  *Object
	count int

	// seq feeds identity hash codes.
	seq int32
}

func NewHeap() *Heap {
	return &Heap{}
}

// AllocateObject creates a zero-initialized instance of the class and
// links it at the head of the heap list.
func (h *Heap) AllocateObject(c *Class) *Object {
	o := &Object{
		class:  c,
		fields: make([]Value, c.InstanceSlots),
	}
	zeroFieldRegion(c, o.fields)
	h.adopt(o)
	return o
}

// AllocateArray creates a zero-initialized array of the class with the
// given length and links it at the head of the heap list.
func (h *Heap) AllocateArray(c *Class, length int32) *Object {
	stride := c.Component.SlotSize()
	o := &Object{
		class:    c,
		length:   length,
		elements: make([]Value, length*stride),
	}
	zero := valueOfType(c.Component.Descriptor())
	for i := int32(0); i < length; i++ {
		o.elements[i*stride] = zero
		if stride == 2 {
			o.elements[i*stride+1] = padValue()
		}
	}
	h.adopt(o)
	return o
}

// AllocateString creates a builtin string instance without interning.
func (h *Heap) AllocateString(stringClass *Class, s string) *Object {
	o := &Object{
		class:  stringClass,
		fields: make([]Value, stringClass.InstanceSlots),
		str:    s,
	}
	zeroFieldRegion(stringClass, o.fields)
	h.adopt(o)
	return o
}

func (h *Heap) adopt(o *Object) {
	h.mu.Lock()
	h.seq++
	o.hash = h.seq & 0x7FFFFFFF
	o.next = h.head
	h.head = o
	h.count++
	h.mu.Unlock()
}

// Release drops the object's payload. The object has already been
// unlinked from the heap list by the sweep phase.
func (h *Heap) Release(o *Object) {
	o.fields = nil
	o.elements = nil
	o.str = ""
	o.next = nil
}

// Count returns the number of objects on the heap list.
func (h *Heap) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// ForEach calls fn for every object on the heap list.
func (h *Heap) ForEach(fn func(*Object)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for o := h.head; o != nil; o = o.next {
		fn(o)
	}
}

// SweepUnmarked unlinks every unmarked object from the heap list and
// returns them. Runs with all mutators suspended.
func (h *Heap) SweepUnmarked() []*Object {
	h.mu.Lock()
	defer h.mu.Unlock()

	var swept []*Object
	link := &h.head
	for *link != nil {
		o := *link
		if !o.mark {
			*link = o.next
			o.next = nil
			h.count--
			swept = append(swept, o)
		} else {
			link = &o.next
		}
	}
	return swept
}

// ClearMarks resets every object's mark bit before a collection.
func (h *Heap) ClearMarks() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for o := h.head; o != nil; o = o.next {
		o.mark = false
	}
}

// DrainAll unlinks every object from the heap list, used at VM exit.
func (h *Heap) DrainAll() []*Object {
	h.mu.Lock()
	defer h.mu.Unlock()

	var all []*Object
	for o := h.head; o != nil; {
		next := o.next
		o.next = nil
		all = append(all, o)
		o = next
	}
	h.head = nil
	h.count = 0
	return all
}

// Clone produces a field-for-field (or element-for-element) copy of
// the object as a new heap allocation.
func (h *Heap) Clone(o *Object) *Object {
	var dup *Object
	if o.IsArray() {
		dup = h.AllocateArray(o.class, o.length)
		copy(dup.elements, o.elements)
	} else {
		dup = h.AllocateObject(o.class)
		copy(dup.fields, o.fields)
		dup.str = o.str
	}
	return dup
}

// zeroFieldRegion writes type-appropriate zero values into a field
// region using the class's declared layout.
func zeroFieldRegion(c *Class, region []Value) {
	for cur := c; cur != nil; cur = cur.Super {
		for _, f := range cur.DeclaredFields {
			if f.IsStatic() {
				continue
			}
			region[f.Offset] = valueOfType(f.Descriptor)
		}
	}
}
