package config

import (
	"fmt"
	"os"
	"strings"
)

// Kinds lists the template kinds Template accepts.
var Kinds = []string{"gateway", "client", "scenario", "fixture"}

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "gateway":
		return gatewayTemplate, nil
	case "client":
		return clientTemplate, nil
	case "scenario":
		return scenarioTemplate, nil
	case "fixture":
		return fixtureTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const gatewayTemplate = `id = "gateway.local"
addr = "127.0.0.1:7400"
pacing = "synchronous"
frequency_hz = 30.0
substeps = 1
poll_interval = "5ms"
max_clients = 0
telemetry_listen_addr = "127.0.0.1:7401"
telemetry_targets = []
accumulator_limit = 4096
max_script_bytes = 4194304
admin_listen_addr = "127.0.0.1:7480"
# bearer token for /objects, /entities and /telemetry; empty leaves them open
admin_token = ""
cors_origins = ["http://localhost:3000"]
connect_timeout = "5s"
read_timeout = "15s"
write_timeout = "15s"
max_frame_bytes = 16384
# free pacing only: scenario manifest loaded at startup
scenario = ""
log_file = ""
`

const clientTemplate = `mode = "synchronous"
companion = "manual:127.0.0.1:7400"
host = "127.0.0.1"
port = 7400
bin_dir = ""
companion_binary = "gatewayd"
companion_args = []
listen_addr = "127.0.0.1:7400"
spawn_delay = "250ms"
connect_timeout = "5s"
read_timeout = "15s"
write_timeout = "15s"
max_connect_attempts = 5
telemetry_addr = ""
output = "table"
`

const scenarioTemplate = `name = "two-cars"
script = "two-cars.fixture"
lri_dir = "lri"
scenario_dir = "scenarios"
frequency_hz = 30.0
substeps = 1
frames = 90

[[controls]]
frame = 10
owner = 1
command = "change_lane_left"

[[controls]]
frame = 30
owner = 2
command = "force_velocity"
value = 8.0

[[dials]]
frame = 60
owner = 1
dial = "MaxSpeed"
value = "12"
`

const fixtureTemplate = `# kind name x y ...
vehicle car1 0 0 10
vehicle car2 0 3.5 9
light sig1 120 0 45
static barrier 200 0
instance cone 60 0 30
`
