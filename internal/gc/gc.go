package gc

import "falcon/internal/bytecode"

// Collect runs a full mark-and-sweep cycle: mark the registered roots,
// trace the grey worklist until empty, drop unmarked strings from the
// intern table, then sweep the object list.
func (h *Heap) Collect() {
	for _, r := range h.roots {
		r.MarkRoots(h)
	}
	h.traceReferences()
	h.strings.RemoveWhite()
	h.sweep()

	h.nextGC = h.bytesAllocated * heapGrowFactor
	if h.nextGC < initialNextGC {
		h.nextGC = initialNextGC
	}
}

// MarkValue marks the object a value references, if any.
func (h *Heap) MarkValue(v bytecode.Value) {
	if v.IsObj() {
		h.MarkObject(v.Obj)
	}
}

// MarkObject greys an object. Tracing happens later, off the worklist, so
// deep object graphs cannot overflow the Go stack.
func (h *Heap) MarkObject(obj bytecode.Obj) {
	if obj == nil || obj.Header().Marked {
		return
	}
	obj.Header().Marked = true
	h.greyStack = append(h.greyStack, obj)
}

// MarkTable marks every key and value of a table.
func (h *Heap) MarkTable(t *bytecode.Table) {
	t.Range(func(key *bytecode.String, value bytecode.Value) bool {
		h.MarkObject(key)
		h.MarkValue(value)
		return true
	})
}

func (h *Heap) traceReferences() {
	for len(h.greyStack) > 0 {
		obj := h.greyStack[len(h.greyStack)-1]
		h.greyStack = h.greyStack[:len(h.greyStack)-1]
		h.blacken(obj)
	}
}

// blacken marks everything an object references. Strings and natives have
// no outgoing edges.
func (h *Heap) blacken(obj bytecode.Obj) {
	switch o := obj.(type) {
	case *bytecode.Function:
		if o.Name != nil {
			h.MarkObject(o.Name)
		}
		for _, constant := range o.Chunk.Constants {
			h.MarkValue(constant)
		}
	case *bytecode.Upvalue:
		h.MarkValue(o.Closed)
	case *bytecode.Closure:
		h.MarkObject(o.Function)
		for _, upvalue := range o.Upvalues {
			if upvalue != nil {
				h.MarkObject(upvalue)
			}
		}
	case *bytecode.Class:
		h.MarkObject(o.Name)
		h.MarkTable(&o.Methods)
	case *bytecode.Instance:
		h.MarkObject(o.Class)
		h.MarkTable(&o.Fields)
	case *bytecode.BoundMethod:
		h.MarkValue(o.Receiver)
		h.MarkObject(o.Method)
	case *bytecode.List:
		for _, element := range o.Elements {
			h.MarkValue(element)
		}
	case *bytecode.Map:
		h.MarkTable(&o.Entries)
	}
}

// sweep unlinks and un-accounts every unmarked object, clearing the mark
// bit on survivors for the next cycle.
func (h *Heap) sweep() {
	var prev bytecode.Obj
	obj := h.objects
	for obj != nil {
		header := obj.Header()
		if header.Marked {
			header.Marked = false
			prev = obj
			obj = header.Next
			continue
		}
		unreached := obj
		obj = header.Next
		if prev == nil {
			h.objects = obj
		} else {
			prev.Header().Next = obj
		}
		h.bytesAllocated -= objSize(unreached)
		unreached.Header().Next = nil
	}
}

// CountObjects walks the object list; test support.
func (h *Heap) CountObjects() int {
	n := 0
	for obj := h.objects; obj != nil; obj = obj.Header().Next {
		n++
	}
	return n
}
