package value

// Table is a string-keyed mutable map, used for the globals environment and
// for script-level tables. Tables are reference values: identity is the
// allocation, never the contents.
type Table struct {
	entries map[string]Value
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string]Value)}
}

// Get returns the value stored under key, or nil if absent.
func (t *Table) Get(key string) Value {
	if v, ok := t.entries[key]; ok {
		return v
	}
	return Nil()
}

// Set stores v under key. Storing nil removes the entry, so a table never
// distinguishes "absent" from "present but nil".
func (t *Table) Set(key string, v Value) {
	if v.IsNil() {
		delete(t.entries, key)
		return
	}
	t.entries[key] = v
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Keys returns the keys currently present, in no particular order.
func (t *Table) Keys() []string {
	ks := make([]string, 0, len(t.entries))
	for k := range t.entries {
		ks = append(ks, k)
	}
	return ks
}
