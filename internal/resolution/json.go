package resolution

import (
	"encoding/json"
	"fmt"
)

// specObject is the object form accepted on the wire: either width/height or
// aspect_ratio with an optional target preset.
type specObject struct {
	Width       *int            `json:"width"`
	Height      *int            `json:"height"`
	AspectRatio json.RawMessage `json:"aspect_ratio"`
	Target      string          `json:"target"`
}

// UnmarshalJSON accepts the wire forms callers may send:
//
//	"1080p" / "1920x1080"      preset or dimension string
//	[1920, 1080]               explicit pair
//	{"width":..,"height":..}   explicit record
//	{"aspect_ratio":"16:9","target":"4k"}
//
// Anything else is rejected with ErrInvalidSpec.
func (s *Spec) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = PresetSpec(str)
		return nil
	}

	var pair []int
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("%w: dimension list must have exactly 2 elements", ErrInvalidSpec)
		}
		*s = ExplicitSpec(pair[0], pair[1])
		return nil
	}

	var obj specObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: unrecognized resolution value", ErrInvalidSpec)
	}
	switch {
	case obj.Width != nil && obj.Height != nil:
		*s = ExplicitSpec(*obj.Width, *obj.Height)
		return nil
	case len(obj.AspectRatio) > 0:
		ratio, err := decodeRatio(obj.AspectRatio)
		if err != nil {
			return err
		}
		*s = AspectSpec(ratio, obj.Target)
		return nil
	default:
		return fmt.Errorf("%w: object must carry width/height or aspect_ratio", ErrInvalidSpec)
	}
}

// decodeRatio accepts "16:9", "1.78", or a bare number.
func decodeRatio(raw json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return fmt.Sprintf("%g", num), nil
	}
	return "", fmt.Errorf("%w: malformed aspect_ratio", ErrInvalidSpec)
}

// MarshalJSON renders the spec in its canonical wire form, mostly for
// diagnostics payloads.
func (s Spec) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case KindPreset:
		return json.Marshal(s.Preset)
	case KindExplicit:
		return json.Marshal(map[string]int{"width": s.Width, "height": s.Height})
	case KindAspect:
		return json.Marshal(map[string]string{"aspect_ratio": s.Aspect, "target": s.Target})
	default:
		return []byte("null"), nil
	}
}
