package comm

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrDuplicateName = errors.New("comm: duplicate slot name")
	ErrEmptyName     = errors.New("comm: empty slot name")
)

// DialControl is the type-erased surface of a Dial used for by-name access.
type DialControl interface {
	Name() string
	SetFromString(raw string) (bool, error)
	Reset() bool
	HasValue() bool
	HasBeenReset() bool
	State() State
	String() string
}

// MonitorView is the type-erased read surface of a Monitor.
type MonitorView interface {
	Name() string
	HasValue() bool
	State() State
	String() string
}

// ParamView is the type-erased read surface of a Param.
type ParamView interface {
	Name() string
	Kind() ParamKind
	HasValue() bool
	String() string
}

// Board holds one entity's named slots. Names are unique per kind.
type Board struct {
	clock    Clock
	dials    map[string]DialControl
	monitors map[string]MonitorView
	buttons  map[string]*Button
	params   map[string]ParamView
}

func NewBoard(clock Clock) *Board {
	return &Board{
		clock:    clock,
		dials:    make(map[string]DialControl),
		monitors: make(map[string]MonitorView),
		buttons:  make(map[string]*Button),
		params:   make(map[string]ParamView),
	}
}

func (b *Board) Clock() Clock { return b.clock }

func (b *Board) AddDial(d DialControl) error {
	if err := checkName(d.Name(), "dial", b.dials); err != nil {
		return err
	}
	b.dials[d.Name()] = d
	return nil
}

func (b *Board) AddMonitor(m MonitorView) error {
	if err := checkName(m.Name(), "monitor", b.monitors); err != nil {
		return err
	}
	b.monitors[m.Name()] = m
	return nil
}

func (b *Board) AddButton(btn *Button) error {
	if err := checkName(btn.Name(), "button", b.buttons); err != nil {
		return err
	}
	b.buttons[btn.Name()] = btn
	return nil
}

func (b *Board) AddParam(p ParamView) error {
	if err := checkName(p.Name(), "param", b.params); err != nil {
		return err
	}
	b.params[p.Name()] = p
	return nil
}

func (b *Board) Dial(name string) (DialControl, bool) {
	d, ok := b.dials[name]
	return d, ok
}

func (b *Board) Monitor(name string) (MonitorView, bool) {
	m, ok := b.monitors[name]
	return m, ok
}

func (b *Board) Button(name string) (*Button, bool) {
	btn, ok := b.buttons[name]
	return btn, ok
}

func (b *Board) Param(name string) (ParamView, bool) {
	p, ok := b.params[name]
	return p, ok
}

// DialOf returns the named dial with its concrete value type.
func DialOf[T any](b *Board, name string) (*Dial[T], bool) {
	d, ok := b.dials[name]
	if !ok {
		return nil, false
	}
	typed, ok := d.(*Dial[T])
	return typed, ok
}

// MonitorOf returns the named monitor with its concrete value type.
func MonitorOf[T any](b *Board, name string) (*Monitor[T], bool) {
	m, ok := b.monitors[name]
	if !ok {
		return nil, false
	}
	typed, ok := m.(*Monitor[T])
	return typed, ok
}

// ParamOf returns the named param with its concrete value type.
func ParamOf[T any](b *Board, name string) (*Param[T], bool) {
	p, ok := b.params[name]
	if !ok {
		return nil, false
	}
	typed, ok := p.(*Param[T])
	return typed, ok
}

func (b *Board) DialNames() []string    { return sortedKeys(b.dials) }
func (b *Board) MonitorNames() []string { return sortedKeys(b.monitors) }
func (b *Board) ButtonNames() []string  { return sortedKeys(b.buttons) }
func (b *Board) ParamNames() []string   { return sortedKeys(b.params) }

// SlotView is a printable snapshot of one slot.
type SlotView struct {
	Kind  string `json:"kind"`
	Name  string `json:"name"`
	State string `json:"state"`
	Value string `json:"value,omitempty"`
	Flag  bool   `json:"flag,omitempty"`
}

// Snapshot lists every slot as visible in the current frame, ordered by
// kind then name. Flag is the reset flag for dials and the pulse for
// buttons.
func (b *Board) Snapshot() []SlotView {
	out := make([]SlotView, 0, len(b.dials)+len(b.monitors)+len(b.buttons)+len(b.params))
	for _, name := range b.DialNames() {
		d := b.dials[name]
		out = append(out, SlotView{Kind: "dial", Name: name, State: d.State().String(), Value: d.String(), Flag: d.HasBeenReset()})
	}
	for _, name := range b.MonitorNames() {
		m := b.monitors[name]
		out = append(out, SlotView{Kind: "monitor", Name: name, State: m.State().String(), Value: m.String()})
	}
	for _, name := range b.ButtonNames() {
		btn := b.buttons[name]
		out = append(out, SlotView{Kind: "button", Name: name, State: btn.State().String(), Flag: btn.IsPressed()})
	}
	for _, name := range b.ParamNames() {
		p := b.params[name]
		out = append(out, SlotView{Kind: "param." + p.Kind().String(), Name: name, Value: p.String()})
	}
	return out
}

func checkName[V any](name, kind string, existing map[string]V) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyName, kind)
	}
	if _, ok := existing[name]; ok {
		return fmt.Errorf("%w: %s %q", ErrDuplicateName, kind, name)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
