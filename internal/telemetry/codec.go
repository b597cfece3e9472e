package telemetry

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Codec decodes one datagram payload into a Frame.
//
// Decode errors are expected and non-fatal: the receiver counts them and
// drops the datagram. A nil error guarantees the frame passed field
// validation (enum ranges); it does NOT guarantee a non-empty robot id,
// which the receiver checks separately.
type Codec interface {
	Name() string
	Decode(data []byte) (*Frame, error)
}

// NewCodec selects a codec by config name ("json" or "cbor").
func NewCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return jsonCodec{}, nil
	case "cbor":
		dm, err := cbor.DecOptions{}.DecMode()
		if err != nil {
			return nil, fmt.Errorf("cbor decode mode: %w", err)
		}
		return cborCodec{dm: dm}, nil
	default:
		return nil, fmt.Errorf("unknown telemetry codec %q", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("json decode: %w", err)
	}
	if err := validate(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

type cborCodec struct {
	dm cbor.DecMode
}

func (cborCodec) Name() string { return "cbor" }

func (c cborCodec) Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := c.dm.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("cbor decode: %w", err)
	}
	if err := validate(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

func validate(f *Frame) error {
	if !f.Decision.GameState.Valid() {
		return fmt.Errorf("game_state out of range: %d", int(f.Decision.GameState))
	}
	if !f.Decision.MotionType.Valid() {
		return fmt.Errorf("motion_type out of range: %d", int(f.Decision.MotionType))
	}
	if !f.Perception.Localization.Quality.Valid() {
		return fmt.Errorf("localization quality out of range: %d", int(f.Perception.Localization.Quality))
	}
	for i, ev := range f.Events {
		if !ev.Type.Valid() {
			return fmt.Errorf("events[%d].type out of range: %d", i, int(ev.Type))
		}
	}
	return nil
}
