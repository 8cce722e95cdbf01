// Package intent implements the intent parser: it turns a free-text
// directive such as "limit bandwidth to 2mbit for esp32-cam-1" into a
// ParsedIntent the policy engine can expand into enforcement policies.
package intent

import "fmt"

// Type is the closed set of directive categories the parser can produce.
type Type string

const (
	TypePriority         Type = "priority"
	TypeBandwidth        Type = "bandwidth"
	TypeLatency          Type = "latency"
	TypeQoS              Type = "qos"
	TypeSampleRate       Type = "sample_rate"
	TypeSamplingInterval Type = "sampling_interval"
	TypeDeviceControl    Type = "device_control"
	TypePublishInterval  Type = "publish_interval"
	TypeAudioGain        Type = "audio_gain"
	TypeCameraResolution Type = "camera_resolution"
	TypeCameraQuality    Type = "camera_quality"
	TypeCameraBrightness Type = "camera_brightness"
	TypeCameraFramerate  Type = "camera_framerate"
	TypeCameraControl    Type = "camera_control"
	TypeGeneral          Type = "general"
)

// cameraDefaultTarget is the fallback device for camera_* intents that name
// no explicit target ("camera intents default to esp32-cam-1").
const cameraDefaultTarget = "esp32-cam-1"

// ParsedIntent is the parser's output: a classified directive, its captured
// value parameters, and the device it targets (if any).
//
// Parameters maps a pattern's parameter name to its captured groups, where
// group 0 is the primary value and later groups (if present) hold units or
// qualifiers, e.g. Parameters["limit"] = []string{"2", "mbit"}.
type ParsedIntent struct {
	Original     string
	Type         Type
	Parameters   map[string][]string
	TargetDevice string
}

// IsCameraType reports whether t is one of the camera_* categories, used to
// apply the camera default-target fallback and to route device-plane payloads.
func (t Type) IsCameraType() bool {
	switch t {
	case TypeCameraResolution, TypeCameraQuality, TypeCameraBrightness, TypeCameraFramerate, TypeCameraControl:
		return true
	default:
		return false
	}
}

// Param returns the main captured value (group 0) for name, or "" if absent.
func (pi *ParsedIntent) Param(name string) string {
	if pi == nil {
		return ""
	}
	g := pi.Parameters[name]
	if len(g) == 0 {
		return ""
	}
	return g[0]
}

// ParamGroup returns capture group index idx for name, or "" if absent.
func (pi *ParsedIntent) ParamGroup(name string, idx int) string {
	if pi == nil {
		return ""
	}
	g := pi.Parameters[name]
	if idx < 0 || idx >= len(g) {
		return ""
	}
	return g[idx]
}

// HasParam reports whether name was captured by any pattern.
func (pi *ParsedIntent) HasParam(name string) bool {
	if pi == nil {
		return false
	}
	_, ok := pi.Parameters[name]
	return ok
}

// ParseError is the user-visible, 400-equivalent failure kind for a
// directive that disambiguated to a non-general type but captured no
// parameters. A directive that matches no type becomes TypeGeneral and
// never yields a ParseError.
type ParseError struct {
	Directive string
	Reason    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("intent: could not parse %q: %s", e.Directive, e.Reason)
}

// Validate rejects a classified directive that captured no parameters: if
// Type != general, Parameters must be non-empty. TypeGeneral is always
// valid (it is the catch-all for
// directives the catalogue doesn't recognize, and the policy engine treats
// it as a no-op rather than an error).
func (pi *ParsedIntent) Validate() error {
	if pi.Type == TypeGeneral {
		return nil
	}
	if len(pi.Parameters) == 0 {
		return &ParseError{Directive: pi.Original, Reason: "no parameters captured for type " + string(pi.Type)}
	}
	return nil
}
