// Package telemetry defines the decoded per-robot state report ("frame")
// and the wire codecs that produce it.
//
// A frame is immutable once decoded; everything downstream (state table,
// log writer, broadcast snapshots) shares the same *Frame value.
package telemetry

import "time"

// Frame is one decoded telemetry record for one robot at one instant.
type Frame struct {
	RobotID    string           `json:"robot_id" cbor:"robot_id"`
	System     SystemStatus     `json:"system" cbor:"system"`
	Perception PerceptionStatus `json:"perception" cbor:"perception"`
	Decision   DecisionStatus   `json:"decision" cbor:"decision"`
	Events     []Event          `json:"events,omitempty" cbor:"events,omitempty"`
}

type SystemStatus struct {
	TimestampMS    int64   `json:"timestamp_ms" cbor:"timestamp_ms"`
	FrameNumber    uint64  `json:"frame_number" cbor:"frame_number"`
	BatteryCharge  float64 `json:"battery_charge" cbor:"battery_charge"`
	CPUTemperature float64 `json:"cpu_temperature" cbor:"cpu_temperature"`
	IsFallen       bool    `json:"is_fallen" cbor:"is_fallen"`
}

type PerceptionStatus struct {
	Ball         BallInfo         `json:"ball" cbor:"ball"`
	Localization LocalizationInfo `json:"localization" cbor:"localization"`
}

type BallInfo struct {
	Visible bool `json:"visible" cbor:"visible"`
	PosX    int  `json:"pos_x" cbor:"pos_x"`
	PosY    int  `json:"pos_y" cbor:"pos_y"`
}

type LocalizationInfo struct {
	PosX    int                 `json:"pos_x" cbor:"pos_x"`
	PosY    int                 `json:"pos_y" cbor:"pos_y"`
	Quality LocalizationQuality `json:"quality" cbor:"quality"`
}

type DecisionStatus struct {
	GameState  GameState  `json:"game_state" cbor:"game_state"`
	Role       string     `json:"role" cbor:"role"`
	MotionType MotionType `json:"motion_type" cbor:"motion_type"`
}

type Event struct {
	Type        EventType `json:"type" cbor:"type"`
	Description string    `json:"description" cbor:"description"`
	TimestampMS int64     `json:"timestamp_ms" cbor:"timestamp_ms"`
}

// Timestamp returns the robot-reported time of the frame.
func (f *Frame) Timestamp() time.Time {
	return time.UnixMilli(f.System.TimestampMS)
}
