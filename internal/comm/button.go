package comm

// Button is a valueless pulse. A press in frame F reads as pressed in
// frame F+1 only.
type Button struct {
	name string
	cell cell[struct{}]
}

func NewButton(name string, clock Clock) *Button {
	return &Button{name: name, cell: newCell[struct{}](clock)}
}

func (b *Button) Name() string { return b.name }

// Press records a press in the current frame; a second press in the same
// frame is absorbed.
func (b *Button) Press() bool {
	return b.cell.write(struct{}{})
}

// IsPressed checks both the last and the previous press so the pulse is
// seen in F+1 even if another press already landed in F+1.
func (b *Button) IsPressed() bool {
	fr := b.cell.frames()
	if !fr.OK {
		return false
	}
	now := b.cell.clock.Frame()
	if fr.Last+1 == now {
		return true
	}
	return fr.HasPrev && fr.Previous+1 == now
}

func (b *Button) State() State {
	return b.cell.state()
}
