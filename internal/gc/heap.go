package gc

import (
	"os"
	"strconv"

	"falcon/internal/bytecode"
)

// Initial collection threshold and the growth applied after each cycle.
const (
	initialNextGC  = 1024 * 1024
	heapGrowFactor = 2
)

// Rooter is anything that can contribute roots to a collection. The VM and
// the active compiler chain both register themselves: a collection can fire
// mid-compile, so half-built functions must be reachable too.
type Rooter interface {
	MarkRoots(h *Heap)
}

// Heap owns every object the interpreter allocates. Objects are threaded on
// a single list through their headers; the sweep phase is the only place
// they leave it.
type Heap struct {
	objects bytecode.Obj
	strings bytecode.Table // intern table, weak: cleaned before sweep

	greyStack []bytecode.Obj
	roots     []Rooter

	bytesAllocated int
	nextGC         int
	maxHeap        int // 0 = unlimited

	// Stress forces a collection on every allocation. Indispensable for
	// verifying that every allocation site keeps intermediates reachable.
	Stress bool

	// OnOutOfMemory runs when maxHeap is exceeded even after collecting.
	// The CLI installs a handler that exits with the memory error code.
	OnOutOfMemory func(bytes int)
}

func NewHeap() *Heap {
	h := &Heap{nextGC: initialNextGC}
	if os.Getenv("FALCON_STRESS_GC") == "1" {
		h.Stress = true
	}
	if v := os.Getenv("FALCON_MAX_HEAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			h.maxHeap = n
		}
	}
	return h
}

// SetMaxHeap caps the heap at n bytes. Zero removes the cap.
func (h *Heap) SetMaxHeap(n int) { h.maxHeap = n }

func (h *Heap) BytesAllocated() int { return h.bytesAllocated }

func (h *Heap) AddRoots(r Rooter) {
	h.roots = append(h.roots, r)
}

func (h *Heap) RemoveRoots(r Rooter) {
	for i, root := range h.roots {
		if root == r {
			h.roots = append(h.roots[:i], h.roots[i+1:]...)
			return
		}
	}
}

// NewString returns the interned string for chars, allocating only when no
// string with those bytes exists yet.
func (h *Heap) NewString(chars string) *bytecode.String {
	hash := bytecode.HashString(chars)
	if interned := h.strings.FindString(chars, hash); interned != nil {
		return interned
	}
	s := &bytecode.String{Chars: chars, Hash: hash}
	h.allocate(s, sizeString+len(chars))
	h.strings.Set(s, bytecode.NullVal())
	return s
}

func (h *Heap) NewFunction() *bytecode.Function {
	f := &bytecode.Function{Chunk: bytecode.NewChunk()}
	h.allocate(f, sizeFunction)
	return f
}

func (h *Heap) NewUpvalue(slot int) *bytecode.Upvalue {
	u := &bytecode.Upvalue{Slot: slot, Closed: bytecode.NullVal()}
	h.allocate(u, sizeUpvalue)
	return u
}

func (h *Heap) NewClosure(function *bytecode.Function) *bytecode.Closure {
	c := &bytecode.Closure{
		Function: function,
		Upvalues: make([]*bytecode.Upvalue, function.UpvalueCount),
	}
	h.allocate(c, sizeClosure+sizePointer*function.UpvalueCount)
	return c
}

func (h *Heap) NewClass(name *bytecode.String) *bytecode.Class {
	c := &bytecode.Class{Name: name}
	h.allocate(c, sizeClass)
	return c
}

func (h *Heap) NewInstance(class *bytecode.Class) *bytecode.Instance {
	i := &bytecode.Instance{Class: class}
	h.allocate(i, sizeInstance)
	return i
}

func (h *Heap) NewBoundMethod(receiver bytecode.Value, method *bytecode.Closure) *bytecode.BoundMethod {
	b := &bytecode.BoundMethod{Receiver: receiver, Method: method}
	h.allocate(b, sizeBoundMethod)
	return b
}

// NewList copies elements, so callers may pass a window of the VM stack:
// the values stay rooted there until the allocation is done.
func (h *Heap) NewList(elements []bytecode.Value) *bytecode.List {
	l := &bytecode.List{Elements: append([]bytecode.Value(nil), elements...)}
	h.allocate(l, sizeList+sizeValue*len(elements))
	return l
}

func (h *Heap) NewMap() *bytecode.Map {
	m := &bytecode.Map{}
	h.allocate(m, sizeMap)
	return m
}

func (h *Heap) NewNative(name string, fn bytecode.NativeFn) *bytecode.Native {
	n := &bytecode.Native{Name: name, Fn: fn}
	h.allocate(n, sizeNative)
	return n
}

// allocate runs the collector if due, then links the object onto the heap.
// The object must not be reachable yet; anything it references must be.
func (h *Heap) allocate(obj bytecode.Obj, size int) {
	if h.Stress || h.bytesAllocated+size > h.nextGC {
		h.Collect()
	}
	if h.maxHeap > 0 && h.bytesAllocated+size > h.maxHeap {
		h.Collect()
		if h.bytesAllocated+size > h.maxHeap {
			if h.OnOutOfMemory != nil {
				h.OnOutOfMemory(h.bytesAllocated + size)
			}
			panic("falcon: out of memory")
		}
	}
	header := obj.Header()
	header.Next = h.objects
	h.objects = obj
	h.bytesAllocated += size
}

// Rough per-object cost used for collection pacing. Go does not expose the
// allocator's real numbers, so these mirror the struct layouts.
const (
	sizePointer     = 8
	sizeValue       = 40
	sizeString      = 56
	sizeFunction    = 96
	sizeUpvalue     = 80
	sizeClosure     = 56
	sizeClass       = 80
	sizeInstance    = 72
	sizeBoundMethod = 72
	sizeList        = 48
	sizeMap         = 64
	sizeNative      = 48
)

func objSize(obj bytecode.Obj) int {
	switch o := obj.(type) {
	case *bytecode.String:
		return sizeString + len(o.Chars)
	case *bytecode.Function:
		return sizeFunction
	case *bytecode.Upvalue:
		return sizeUpvalue
	case *bytecode.Closure:
		return sizeClosure + sizePointer*len(o.Upvalues)
	case *bytecode.Class:
		return sizeClass
	case *bytecode.Instance:
		return sizeInstance
	case *bytecode.BoundMethod:
		return sizeBoundMethod
	case *bytecode.List:
		return sizeList + sizeValue*len(o.Elements)
	case *bytecode.Map:
		return sizeMap
	case *bytecode.Native:
		return sizeNative
	}
	return 0
}
