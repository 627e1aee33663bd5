package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/danmuck/simlink/internal/protocol/message"
	"github.com/danmuck/simlink/internal/testutil/testlog"
	"gopkg.in/yaml.v3"
)

func sampleObjects() []message.ObjectDescriptor {
	return []message.ObjectDescriptor{
		{ID: 1, Category: message.CategoryVehicle, OwnerID: 1, Name: "car1", Position: [3]float64{5, 0, 0}, Velocity: 10},
		{ID: 3, Category: message.CategoryTrafficLight, Name: "sig1", State: 2},
	}
}

func TestTableFormatterColumns(t *testing.T) {
	testlog.Start(t)
	out := NewFormatter("table").Format(sampleObjects())
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus two rows, got %q", out)
	}
	for _, col := range []string{"ID", "CATEGORY", "OWNER_ID", "NAME", "POSITION"} {
		if !strings.Contains(lines[0], col) {
			t.Fatalf("header missing %s: %q", col, lines[0])
		}
	}
	if !strings.Contains(lines[1], "vehicle") || !strings.Contains(lines[1], "5.000,0.000,0.000") {
		t.Fatalf("unexpected vehicle row: %q", lines[1])
	}
	if !strings.Contains(lines[2], "traffic_light") {
		t.Fatalf("unexpected light row: %q", lines[2])
	}
}

func TestTableFormatterEmptyAndStruct(t *testing.T) {
	testlog.Start(t)
	if got := (TableFormatter{}).Format([]message.ObjectDescriptor{}); got != "No objects.\n" {
		t.Fatalf("empty slice: %q", got)
	}
	got := (TableFormatter{}).Format(message.DebugItem{OwnerID: 2, Name: "car2", Text: "ok"})
	if !strings.Contains(got, "owner_id:") || !strings.Contains(got, "car2") {
		t.Fatalf("struct output: %q", got)
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	if err := Write(&buf, "yaml", sampleObjects()); err != nil {
		t.Fatalf("write: %v", err)
	}
	var back []message.ObjectDescriptor
	if err := yaml.Unmarshal(buf.Bytes(), &back); err != nil {
		t.Fatalf("yaml decode: %v\n%s", err, buf.String())
	}
	if len(back) != 2 || back[0].Name != "car1" || back[0].Position[0] != 5 {
		t.Fatalf("unexpected yaml objects: %+v", back)
	}
}

func TestJSONAndValid(t *testing.T) {
	testlog.Start(t)
	out := NewFormatter("JSON").Format(sampleObjects())
	if !strings.Contains(out, `"owner_id": 1`) {
		t.Fatalf("json output: %s", out)
	}
	if err := Valid("xml"); err == nil {
		t.Fatalf("expected xml to be rejected")
	}
	if err := Valid(""); err != nil {
		t.Fatalf("empty format should default: %v", err)
	}
}
