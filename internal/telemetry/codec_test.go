package telemetry

import (
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

const sampleJSON = `{
  "robot_id": "r1",
  "system": {"timestamp_ms": 1700000000000, "frame_number": 17, "battery_charge": 0.82, "cpu_temperature": 61.5, "is_fallen": false},
  "perception": {"ball": {"visible": true, "pos_x": 120, "pos_y": -40}, "localization": {"pos_x": -1500, "pos_y": 300, "quality": 2}},
  "decision": {"game_state": 3, "role": "striker", "motion_type": 1},
  "events": [{"type": 5, "description": "ball found", "timestamp_ms": 1700000000000}]
}`

func TestJSONDecode(t *testing.T) {
	t.Parallel()
	c, err := NewCodec("json")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	f, err := c.Decode([]byte(sampleJSON))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.RobotID != "r1" {
		t.Fatalf("RobotID = %q", f.RobotID)
	}
	if f.System.FrameNumber != 17 {
		t.Fatalf("FrameNumber = %d", f.System.FrameNumber)
	}
	if f.Decision.GameState != GameStatePlaying {
		t.Fatalf("GameState = %v", f.Decision.GameState)
	}
	if f.Perception.Localization.Quality != QualitySuperb {
		t.Fatalf("Quality = %v", f.Perception.Localization.Quality)
	}
	if len(f.Events) != 1 || f.Events[0].Type != EventBallFound {
		t.Fatalf("Events = %+v", f.Events)
	}
}

func TestJSONDecodeErrors(t *testing.T) {
	t.Parallel()
	c, _ := NewCodec("json")
	tests := []struct {
		name string
		in   string
	}{
		{name: "malformed", in: `{"robot_id": "r1",`},
		{name: "bad game_state", in: strings.Replace(sampleJSON, `"game_state": 3`, `"game_state": 9`, 1)},
		{name: "bad motion_type", in: strings.Replace(sampleJSON, `"motion_type": 1`, `"motion_type": -1`, 1)},
		{name: "bad quality", in: strings.Replace(sampleJSON, `"quality": 2`, `"quality": 7`, 1)},
		{name: "bad event type", in: strings.Replace(sampleJSON, `"type": 5`, `"type": 42`, 1)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Decode([]byte(tt.in)); err == nil {
				t.Fatalf("expected decode error")
			}
		})
	}
}

func TestEmptyRobotIDDecodesCleanly(t *testing.T) {
	t.Parallel()
	// Missing robot_id is the receiver's concern, not a decode error.
	c, _ := NewCodec("json")
	f, err := c.Decode([]byte(strings.Replace(sampleJSON, `"robot_id": "r1",`, "", 1)))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.RobotID != "" {
		t.Fatalf("RobotID = %q, want empty", f.RobotID)
	}
}

func TestCBORDecode(t *testing.T) {
	t.Parallel()
	src := Frame{
		RobotID: "r7",
		System:  SystemStatus{TimestampMS: 1, FrameNumber: 2, BatteryCharge: 0.5},
		Decision: DecisionStatus{
			GameState:  GameStateReady,
			Role:       "keeper",
			MotionType: MotionStand,
		},
	}
	data, err := cbor.Marshal(src)
	if err != nil {
		t.Fatalf("cbor.Marshal: %v", err)
	}

	c, err := NewCodec("cbor")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	f, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.RobotID != "r7" || f.Decision.GameState != GameStateReady || f.Decision.Role != "keeper" {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestUnknownCodec(t *testing.T) {
	t.Parallel()
	if _, err := NewCodec("protobuf"); err == nil {
		t.Fatal("expected error for unknown codec")
	}
}

func TestEnumStrings(t *testing.T) {
	t.Parallel()
	if got := GameStateFinished.String(); got != "FINISHED" {
		t.Fatalf("GameStateFinished = %q", got)
	}
	if got := MotionGetUp.String(); got != "GET_UP" {
		t.Fatalf("MotionGetUp = %q", got)
	}
	if got := EventKickExecuted.String(); got != "KICK_EXECUTED" {
		t.Fatalf("EventKickExecuted = %q", got)
	}
	if got := EventType(99).String(); got != "EventType(99)" {
		t.Fatalf("unknown event = %q", got)
	}
}
