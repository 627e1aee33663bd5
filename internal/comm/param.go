package comm

import "fmt"

type ParamKind int

const (
	ParamInput ParamKind = iota
	ParamOutput
	ParamLocal
)

func (k ParamKind) String() string {
	switch k {
	case ParamInput:
		return "input"
	case ParamOutput:
		return "output"
	case ParamLocal:
		return "local"
	default:
		return fmt.Sprintf("param_kind(%d)", int(k))
	}
}

// Param is an unlatched named value used at activation boundaries.
type Param[T any] struct {
	name  string
	kind  ParamKind
	value T
	has   bool
}

func NewParam[T any](name string, kind ParamKind) *Param[T] {
	return &Param[T]{name: name, kind: kind}
}

func (p *Param[T]) Name() string    { return p.name }
func (p *Param[T]) Kind() ParamKind { return p.kind }

func (p *Param[T]) Set(v T) {
	p.value = v
	p.has = true
}

func (p *Param[T]) Get() (T, bool) {
	return p.value, p.has
}

func (p *Param[T]) HasValue() bool { return p.has }

func (p *Param[T]) Clear() {
	var zero T
	p.value = zero
	p.has = false
}

func (p *Param[T]) String() string {
	if !p.has {
		return ""
	}
	return fmt.Sprint(p.value)
}
