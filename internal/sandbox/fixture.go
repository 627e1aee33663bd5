package sandbox

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/simlink/internal/protocol/schema"
)

// maxNameBytes leaves room for the terminator in a fixed wire name.
const maxNameBytes = schema.NameSize - 1

// Fixture line kinds:
//
//	vehicle <name> <x> <y> <velocity> [heading]
//	light <name> <x> <y> <period_frames>
//	static <name> <x> <y>
//	instance <name> <x> <y> <at_frame>
//
// Blank lines and lines starting with # are ignored.
type fixture struct {
	vehicles  []vehicleSpec
	lights    []lightSpec
	statics   []staticSpec
	instances []staticSpec
}

type vehicleSpec struct {
	name     string
	x, y     float64
	velocity float64
	heading  float64
}

type lightSpec struct {
	name   string
	x, y   float64
	period int64
}

type staticSpec struct {
	name string
	x, y float64
	at   int64
}

// ParseError locates a bad fixture line.
type ParseError struct {
	Line   int
	Reason string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("sandbox: line %d: %s", e.Line, e.Reason)
}

func parseFixture(script []byte) (fixture, error) {
	var fx fixture
	names := make(map[string]int)
	sc := bufio.NewScanner(bytes.NewReader(script))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tok := strings.Fields(line)
		kind := strings.ToLower(tok[0])
		if len(tok) < 2 {
			return fixture{}, ParseError{Line: lineNo, Reason: "missing name"}
		}
		name := tok[1]
		if len(name) > maxNameBytes {
			return fixture{}, ParseError{Line: lineNo, Reason: fmt.Sprintf("name %.16q... longer than %d bytes", name, maxNameBytes)}
		}
		if prev, dup := names[name]; dup {
			return fixture{}, ParseError{Line: lineNo, Reason: fmt.Sprintf("duplicate name %q (first on line %d)", name, prev)}
		}
		names[name] = lineNo
		nums, err := parseNums(tok[2:])
		if err != nil {
			return fixture{}, ParseError{Line: lineNo, Reason: err.Error()}
		}
		switch kind {
		case "vehicle":
			if len(nums) != 3 && len(nums) != 4 {
				return fixture{}, ParseError{Line: lineNo, Reason: "vehicle wants x y velocity [heading]"}
			}
			v := vehicleSpec{name: name, x: nums[0], y: nums[1], velocity: nums[2]}
			if len(nums) == 4 {
				v.heading = nums[3]
			}
			fx.vehicles = append(fx.vehicles, v)
		case "light":
			if len(nums) != 3 || nums[2] < 1 {
				return fixture{}, ParseError{Line: lineNo, Reason: "light wants x y period>=1"}
			}
			fx.lights = append(fx.lights, lightSpec{name: name, x: nums[0], y: nums[1], period: int64(nums[2])})
		case "static":
			if len(nums) != 2 {
				return fixture{}, ParseError{Line: lineNo, Reason: "static wants x y"}
			}
			fx.statics = append(fx.statics, staticSpec{name: name, x: nums[0], y: nums[1]})
		case "instance":
			if len(nums) != 3 || nums[2] < 0 {
				return fixture{}, ParseError{Line: lineNo, Reason: "instance wants x y at_frame>=0"}
			}
			fx.instances = append(fx.instances, staticSpec{name: name, x: nums[0], y: nums[1], at: int64(nums[2])})
		default:
			return fixture{}, ParseError{Line: lineNo, Reason: fmt.Sprintf("unknown kind %q", tok[0])}
		}
	}
	if err := sc.Err(); err != nil {
		return fixture{}, err
	}
	return fx, nil
}

func parseNums(tok []string) ([]float64, error) {
	out := make([]float64, 0, len(tok))
	for _, t := range tok {
		v, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", t)
		}
		out = append(out, v)
	}
	return out, nil
}
