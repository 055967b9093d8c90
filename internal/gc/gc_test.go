package gc_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"falcon/internal/bytecode"
	"falcon/internal/compiler"
	"falcon/internal/gc"
	"falcon/internal/stdlib"
	"falcon/internal/vm"
)

// pinned roots a fixed set of objects for a test.
type pinned struct {
	objects []bytecode.Obj
}

func (p *pinned) MarkRoots(h *gc.Heap) {
	for _, obj := range p.objects {
		h.MarkObject(obj)
	}
}

func TestStringInterning(t *testing.T) {
	heap := gc.NewHeap()
	a := heap.NewString("hello")
	b := heap.NewString("hello")
	c := heap.NewString("world")

	assert.Same(t, a, b, "equal content must be the same object")
	assert.NotSame(t, a, c)
	assert.Equal(t, bytecode.HashString("hello"), a.Hash)
}

func TestCollectReclaimsUnreachable(t *testing.T) {
	heap := gc.NewHeap()
	for i := 0; i < 100; i++ {
		heap.NewString(fmt.Sprintf("garbage-%d", i))
	}
	require.Equal(t, 100, heap.CountObjects())

	heap.Collect()
	assert.Equal(t, 0, heap.CountObjects(), "nothing was rooted")
	assert.Equal(t, 0, heap.BytesAllocated())
}

func TestCollectKeepsRooted(t *testing.T) {
	heap := gc.NewHeap()
	keep := heap.NewString("keep")
	heap.NewString("drop")

	roots := &pinned{objects: []bytecode.Obj{keep}}
	heap.AddRoots(roots)
	defer heap.RemoveRoots(roots)

	heap.Collect()
	assert.Equal(t, 1, heap.CountObjects())

	// The survivor is still interned: same identity on re-creation.
	assert.Same(t, keep, heap.NewString("keep"))
}

// Dead strings leave the intern table before sweep, so a fresh allocation
// with the same content gets a fresh object rather than a dangling entry.
func TestInternTableIsWeak(t *testing.T) {
	heap := gc.NewHeap()
	first := heap.NewString("transient")
	heap.Collect()

	second := heap.NewString("transient")
	assert.NotSame(t, first, second)
	assert.Equal(t, 1, heap.CountObjects())
}

func TestCollectTracesObjectGraph(t *testing.T) {
	heap := gc.NewHeap()

	name := heap.NewString("Thing")
	class := heap.NewClass(name)
	instance := heap.NewInstance(class)
	field := heap.NewString("field")
	value := heap.NewString("payload")
	instance.Fields.Set(field, bytecode.ObjVal(value))
	elements := []bytecode.Value{bytecode.ObjVal(instance)}
	list := heap.NewList(elements)

	roots := &pinned{objects: []bytecode.Obj{list}}
	heap.AddRoots(roots)
	defer heap.RemoveRoots(roots)

	heap.Collect()

	// list -> instance -> class -> name, and the field key and value.
	assert.Equal(t, 6, heap.CountObjects())
}

func TestCollectHandlesCycles(t *testing.T) {
	heap := gc.NewHeap()

	name := heap.NewString("Cyclic")
	class := heap.NewClass(name)
	instance := heap.NewInstance(class)
	self := heap.NewString("self")
	// instance.self = instance: a cycle the mark phase must terminate on.
	instance.Fields.Set(self, bytecode.ObjVal(instance))

	roots := &pinned{objects: []bytecode.Obj{instance}}
	heap.AddRoots(roots)
	defer heap.RemoveRoots(roots)

	heap.Collect()
	assert.Equal(t, 4, heap.CountObjects())

	heap.RemoveRoots(roots)
	heap.Collect()
	assert.Equal(t, 0, heap.CountObjects())
}

// Compilation allocates; with stress mode on, a collection fires on every
// one of those allocations, and the in-progress function chain has to
// survive them all.
func TestCompileUnderStress(t *testing.T) {
	heap := gc.NewHeap()
	heap.Stress = true

	function, errs := compiler.Compile(`
function outer(a, b) {
	var sum = a + b;
	function inner() { return sum; }
	return inner;
}
var f = outer(1, 2);
`, "stress.fn", heap, false)
	require.Nil(t, errs)
	require.NotNil(t, function)
	assert.Greater(t, len(function.Chunk.Code), 0)
}

const stressProgram = `
class Counter {
	init(start) { this.n = start; }
	bump() { this.n = this.n + 1; return this.n; }
}

function adder(base) {
	function add(x) { return base + x; }
	return add;
}

var c = Counter(10);
var plus5 = adder(5);
var joined = "";
for i = 0, i < 20, i = i + 1 {
	joined = joined + str(c.bump()) + "-" + str(plus5(i)) + ";";
}
print(joined);
print(len(joined));
`

func runWithStress(t *testing.T, stress bool) string {
	t.Helper()
	heap := gc.NewHeap()
	heap.Stress = stress
	machine := vm.NewVM(heap)
	var stdout, stderr bytes.Buffer
	machine.SetOutput(&stdout)
	machine.SetErrOutput(&stderr)
	stdlib.Register(machine)

	result := machine.Interpret(stressProgram, "stress.fn")
	require.Equal(t, vm.InterpretOK, result, "stderr: %s", stderr.String())
	return stdout.String()
}

// Collecting on every allocation must not change observable behavior.
func TestStressEquivalence(t *testing.T) {
	normal := runWithStress(t, false)
	stressed := runWithStress(t, true)
	assert.Equal(t, normal, stressed)
	assert.Contains(t, normal, "11-5;")
	assert.Contains(t, normal, "30-24;")
}

func TestHeapAccounting(t *testing.T) {
	heap := gc.NewHeap()
	before := heap.BytesAllocated()
	heap.NewString("some bytes worth of string")
	assert.Greater(t, heap.BytesAllocated(), before)

	heap.Collect()
	assert.Equal(t, 0, heap.BytesAllocated())
}

func TestOutOfMemoryHandler(t *testing.T) {
	heap := gc.NewHeap()
	heap.SetMaxHeap(64)

	called := false
	heap.OnOutOfMemory = func(bytes int) {
		called = true
		// The CLI handler exits; tests let the allocation panic instead.
	}

	assert.Panics(t, func() {
		roots := &pinned{}
		heap.AddRoots(roots)
		for i := 0; i < 100; i++ {
			s := heap.NewString(fmt.Sprintf("filler-%d", i))
			roots.objects = append(roots.objects, s)
		}
	})
	assert.True(t, called)
}
