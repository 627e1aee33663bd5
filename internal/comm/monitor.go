package comm

import "fmt"

type monitorEntry[T any] struct {
	value T
	has   bool
}

// Monitor is a latched slot without reset, typically child to parent.
type Monitor[T any] struct {
	name string
	cell cell[monitorEntry[T]]
}

func NewMonitor[T any](name string, clock Clock) *Monitor[T] {
	return &Monitor[T]{name: name, cell: newCell[monitorEntry[T]](clock)}
}

func (m *Monitor[T]) Name() string { return m.name }

func (m *Monitor[T]) Write(v T) bool {
	return m.cell.write(monitorEntry[T]{value: v, has: true})
}

func (m *Monitor[T]) Read() (T, bool) {
	e := m.cell.read()
	return e.value, e.has
}

func (m *Monitor[T]) HasValue() bool {
	return m.cell.read().has
}

func (m *Monitor[T]) State() State {
	return m.cell.state()
}

func (m *Monitor[T]) String() string {
	v, ok := m.Read()
	if !ok {
		return ""
	}
	return fmt.Sprint(v)
}
