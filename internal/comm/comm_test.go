package comm

import (
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/simlink/internal/testutil/testlog"
)

func TestDialVisibilityLaw(t *testing.T) {
	testlog.Start(t)
	clock := NewManualClock(10)
	d := NewDial[float64]("Speed", clock, ParseFloat)

	if v, ok := d.Read(); ok || v != 0 {
		t.Fatalf("unwritten dial should have no value, got %v,%v", v, ok)
	}
	if d.State() != StateUnwritten {
		t.Fatalf("unexpected state: %v", d.State())
	}

	if !d.Write(5) {
		t.Fatalf("first write should be accepted")
	}
	if d.HasValue() {
		t.Fatalf("write must not be visible in the same frame")
	}
	if d.State() != StatePending {
		t.Fatalf("unexpected state after write: %v", d.State())
	}

	for f := int64(11); f < 15; f++ {
		clock.Set(f)
		v, ok := d.Read()
		if !ok || v != 5 {
			t.Fatalf("frame %d: expected 5, got %v,%v", f, v, ok)
		}
		if d.State() != StateSettled {
			t.Fatalf("frame %d: unexpected state %v", f, d.State())
		}
	}

	// superseding write: same-frame readers keep seeing 5
	d.Write(7)
	if v, _ := d.Read(); v != 5 {
		t.Fatalf("expected pre-write value 5, got %v", v)
	}
	clock.Advance()
	if v, _ := d.Read(); v != 7 {
		t.Fatalf("expected 7 after frame advance, got %v", v)
	}
}

func TestSecondWriteInFrameIsAbsorbed(t *testing.T) {
	testlog.Start(t)
	clock := NewManualClock(1)
	m := NewMonitor[int]("Lane", clock)

	if !m.Write(1) {
		t.Fatalf("first write rejected")
	}
	if m.Write(2) {
		t.Fatalf("second write in the same frame should be absorbed")
	}
	clock.Advance()
	if v, ok := m.Read(); !ok || v != 1 {
		t.Fatalf("expected first write to win, got %v,%v", v, ok)
	}
}

func TestDialResetLatency(t *testing.T) {
	testlog.Start(t)
	clock := NewManualClock(0)
	d := NewDial[int64]("Target", clock, ParseInt)
	d.Write(3)
	clock.Advance()

	if !d.Reset() {
		t.Fatalf("reset rejected")
	}
	if d.HasBeenReset() {
		t.Fatalf("reset must not be visible in the same frame")
	}
	if v, ok := d.Read(); !ok || v != 3 {
		t.Fatalf("same-frame reader should still see 3, got %v,%v", v, ok)
	}
	for i := 0; i < 3; i++ {
		clock.Advance()
		if !d.HasBeenReset() {
			t.Fatalf("reset should be visible at frame %d", clock.Frame())
		}
		if d.HasValue() {
			t.Fatalf("reset dial should carry no value")
		}
	}

	d.Write(9)
	clock.Advance()
	if d.HasBeenReset() {
		t.Fatalf("a later write clears the reset flag")
	}
}

func TestButtonPulsesForOneFrame(t *testing.T) {
	testlog.Start(t)
	clock := NewManualClock(20)
	b := NewButton("TurnLeft", clock)

	if b.IsPressed() {
		t.Fatalf("unpressed button reads pressed")
	}
	b.Press()
	if b.IsPressed() {
		t.Fatalf("press visible in its own frame")
	}
	clock.Set(21)
	if !b.IsPressed() {
		t.Fatalf("press not visible in the next frame")
	}
	for _, f := range []int64{22, 23, 40} {
		clock.Set(f)
		if b.IsPressed() {
			t.Fatalf("press still visible at frame %d", f)
		}
	}
}

func TestButtonPulseSurvivesPressInFollowingFrame(t *testing.T) {
	testlog.Start(t)
	clock := NewManualClock(5)
	b := NewButton("ChangeLaneLeft", clock)
	b.Press()
	clock.Advance()
	b.Press()
	if !b.IsPressed() {
		t.Fatalf("press from frame 5 should still read pressed in frame 6")
	}
	clock.Advance()
	if !b.IsPressed() {
		t.Fatalf("press from frame 6 should read pressed in frame 7")
	}
}

func TestDialSetFromString(t *testing.T) {
	testlog.Start(t)
	clock := NewManualClock(0)
	d := NewDial[float64]("MaxSpeed", clock, ParseFloat)
	if _, err := d.SetFromString("abc"); !errors.Is(err, ErrMalformedValue) {
		t.Fatalf("expected ErrMalformedValue, got %v", err)
	}
	long := strings.Repeat("x", 9000)
	_, err := d.SetFromString(long)
	if !errors.Is(err, ErrMalformedValue) {
		t.Fatalf("expected ErrMalformedValue for long token, got %v", err)
	}
	if len(err.Error()) > 200 || !strings.Contains(err.Error(), "9000 bytes") {
		t.Fatalf("long token echoed into error: %d bytes", len(err.Error()))
	}
	if ok, err := d.SetFromString(" 12.5 "); err != nil || !ok {
		t.Fatalf("set from string: ok=%v err=%v", ok, err)
	}
	clock.Advance()
	if v, _ := d.Read(); v != 12.5 {
		t.Fatalf("unexpected value: %v", v)
	}

	raw := NewDial[string]("Label", clock, nil)
	if _, err := raw.SetFromString("x"); !errors.Is(err, ErrNoParser) {
		t.Fatalf("expected ErrNoParser, got %v", err)
	}
}

func TestParamHasNoLatency(t *testing.T) {
	p := NewParam[float64]("InitialVelocity", ParamInput)
	if p.HasValue() {
		t.Fatalf("new param has value")
	}
	p.Set(3)
	if v, ok := p.Get(); !ok || v != 3 {
		t.Fatalf("unexpected param value: %v,%v", v, ok)
	}
	p.Clear()
	if p.HasValue() {
		t.Fatalf("cleared param has value")
	}
}

func TestBoardNamesAndLookup(t *testing.T) {
	testlog.Start(t)
	clock := NewManualClock(0)
	b := NewBoard(clock)
	if err := b.AddDial(NewDial[float64]("MaxSpeed", clock, ParseFloat)); err != nil {
		t.Fatalf("add dial: %v", err)
	}
	if err := b.AddDial(NewDial[int64]("MaxSpeed", clock, ParseInt)); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
	// same name, different kind is allowed
	if err := b.AddMonitor(NewMonitor[float64]("MaxSpeed", clock)); err != nil {
		t.Fatalf("add monitor: %v", err)
	}
	if err := b.AddButton(NewButton("", clock)); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}

	if _, ok := DialOf[float64](b, "MaxSpeed"); !ok {
		t.Fatalf("typed dial lookup failed")
	}
	if _, ok := DialOf[int64](b, "MaxSpeed"); ok {
		t.Fatalf("typed lookup with wrong type should fail")
	}
	if _, ok := b.Dial("Missing"); ok {
		t.Fatalf("missing dial found")
	}

	snap := b.Snapshot()
	if len(snap) != 2 || snap[0].Kind != "dial" || snap[1].Kind != "monitor" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
