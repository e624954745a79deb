package nnets

import (
	"github.com/pkg/errors"
)

// Connection links an output of one operation to an input slot of another.
// A non-zero Shuffle applies the block-of-4 channel permutation of that step
// while the destination reads its input.
type Connection struct {
	Source  string
	Dest    string
	Output  int
	Input   int
	Shuffle int
}

// Model is an ordered collection of operations and their connections.
//
// Operations keep their insertion order, which is also the order they are
// listed in. The zero value is not usable; create models with NewModel.
type Model struct {
	ops         []Operation
	index       map[string]int
	connections []Connection
}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{index: make(map[string]int)}
}

// Append adds an operation at the end of the model.
func (m *Model) Append(op Operation) error {
	if op == nil {
		return errors.New("nil operation")
	}
	name := op.ID()
	if name == "" {
		return errors.Errorf("%s operation has no name", op.Type())
	}
	if _, exists := m.index[name]; exists {
		return errors.Errorf("operation %q already exists", name)
	}
	m.index[name] = len(m.ops)
	m.ops = append(m.ops, op)
	return nil
}

// AddConnection connects two operations of the model.
// An input slot can be fed by at most one connection.
func (m *Model) AddConnection(c Connection) error {
	if _, ok := m.index[c.Source]; !ok {
		return errors.Errorf("connection source %q not found", c.Source)
	}
	if _, ok := m.index[c.Dest]; !ok {
		return errors.Errorf("connection destination %q not found", c.Dest)
	}
	if c.Output < 0 || c.Input < 0 || c.Shuffle < 0 {
		return errors.Errorf("invalid connection %s:%d -> %s:%d (shuffle %d)",
			c.Source, c.Output, c.Dest, c.Input, c.Shuffle)
	}
	for _, existing := range m.connections {
		if existing.Dest == c.Dest && existing.Input == c.Input {
			return errors.Errorf("input %d of %q is already connected to %q", c.Input, c.Dest, existing.Source)
		}
	}
	m.connections = append(m.connections, c)
	return nil
}

// Operations returns the operations in insertion order.
func (m *Model) Operations() []Operation {
	return append([]Operation(nil), m.ops...)
}

// Connections returns the connections in insertion order.
func (m *Model) Connections() []Connection {
	return append([]Connection(nil), m.connections...)
}

// Operation returns the operation with the given name.
func (m *Model) Operation(name string) (Operation, bool) {
	i, ok := m.index[name]
	if !ok {
		return nil, false
	}
	return m.ops[i], true
}

// Len returns the number of operations.
func (m *Model) Len() int {
	return len(m.ops)
}

// First returns the first operation, or nil for an empty model.
func (m *Model) First() Operation {
	if len(m.ops) == 0 {
		return nil
	}
	return m.ops[0]
}

// Last returns the last operation, or nil for an empty model.
func (m *Model) Last() Operation {
	if len(m.ops) == 0 {
		return nil
	}
	return m.ops[len(m.ops)-1]
}

// InputsOf returns the connections feeding the named operation, ordered by input slot.
func (m *Model) InputsOf(name string) []Connection {
	var result []Connection
	for _, c := range m.connections {
		if c.Dest == name {
			result = append(result, c)
		}
	}
	for i := 1; i < len(result); i++ {
		for j := i; j > 0 && result[j].Input < result[j-1].Input; j-- {
			result[j], result[j-1] = result[j-1], result[j]
		}
	}
	return result
}
