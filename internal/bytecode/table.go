package bytecode

// Table is an open-addressed, linear-probing hash table keyed by interned
// strings. A deleted entry leaves a tombstone (nil key, true value) so probe
// chains stay intact; an empty slot is nil key, null value.
type Table struct {
	count   int // used slots, tombstones included
	live    int
	entries []tableEntry
}

type tableEntry struct {
	key   *String
	value Value
}

const tableMaxLoad = 0.75

// Len returns the number of live entries.
func (t *Table) Len() int { return t.live }

func (t *Table) Get(key *String) (Value, bool) {
	if t.count == 0 {
		return Value{}, false
	}
	entry := findEntry(t.entries, key)
	if entry.key == nil {
		return Value{}, false
	}
	return entry.value, true
}

// Set stores a value and reports whether the key is new.
func (t *Table) Set(key *String, value Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*tableMaxLoad {
		t.adjustCapacity(growCapacity(len(t.entries)))
	}
	entry := findEntry(t.entries, key)
	isNew := entry.key == nil
	if isNew {
		t.live++
		if entry.value.IsNull() {
			// A fresh slot, not a recycled tombstone.
			t.count++
		}
	}
	entry.key = key
	entry.value = value
	return isNew
}

// Delete tombstones the entry so later probes keep walking past it.
func (t *Table) Delete(key *String) bool {
	if t.count == 0 {
		return false
	}
	entry := findEntry(t.entries, key)
	if entry.key == nil {
		return false
	}
	entry.key = nil
	entry.value = BoolVal(true)
	t.live--
	return true
}

// AddAll copies every entry of from into t. Class inheritance uses this to
// copy the superclass method table at definition time.
func (t *Table) AddAll(from *Table) {
	from.Range(func(key *String, value Value) bool {
		t.Set(key, value)
		return true
	})
}

// Range calls fn for every live entry until fn returns false.
func (t *Table) Range(fn func(key *String, value Value) bool) {
	for i := range t.entries {
		if t.entries[i].key != nil {
			if !fn(t.entries[i].key, t.entries[i].value) {
				return
			}
		}
	}
}

// FindString looks up an entry by string content rather than identity. The
// intern table uses this before allocating a new string.
func (t *Table) FindString(chars string, hash uint32) *String {
	if t.count == 0 {
		return nil
	}
	index := hash % uint32(len(t.entries))
	for {
		entry := &t.entries[index]
		if entry.key == nil {
			if entry.value.IsNull() {
				return nil
			}
		} else if entry.key.Hash == hash && entry.key.Chars == chars {
			return entry.key
		}
		index = (index + 1) % uint32(len(t.entries))
	}
}

// RemoveWhite drops entries whose key was not marked by the collector. Runs
// between marking and sweeping so the intern table never dangles.
func (t *Table) RemoveWhite() {
	for i := range t.entries {
		key := t.entries[i].key
		if key != nil && !key.Marked {
			t.Delete(key)
		}
	}
}

func findEntry(entries []tableEntry, key *String) *tableEntry {
	index := key.Hash % uint32(len(entries))
	var tombstone *tableEntry
	for {
		entry := &entries[index]
		if entry.key == nil {
			if entry.value.IsNull() {
				if tombstone != nil {
					return tombstone
				}
				return entry
			}
			if tombstone == nil {
				tombstone = entry
			}
		} else if entry.key == key {
			return entry
		}
		index = (index + 1) % uint32(len(entries))
	}
}

func (t *Table) adjustCapacity(capacity int) {
	entries := make([]tableEntry, capacity)
	for i := range entries {
		entries[i].value = NullVal()
	}
	t.count = 0
	for i := range t.entries {
		src := &t.entries[i]
		if src.key == nil {
			continue
		}
		dst := findEntry(entries, src.key)
		dst.key = src.key
		dst.value = src.value
		t.count++
	}
	t.entries = entries
}

func growCapacity(capacity int) int {
	if capacity < 8 {
		return 8
	}
	return capacity * 2
}
