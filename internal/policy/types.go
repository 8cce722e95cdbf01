// Package policy implements the policy engine: a pure function from a
// parsed intent to an ordered list of enforcement policies, with no I/O.
package policy

// Type is the closed set of enforcement policy kinds a Policy can carry.
type Type string

const (
	TypeTrafficShaping   Type = "traffic_shaping"
	TypeRoutingPriority  Type = "routing_priority"
	TypeBandwidthLimit   Type = "bandwidth_limit"
	TypeLatencyControl   Type = "latency_control"
	TypeQoSControl       Type = "qos_control"
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
)

// Plane identifies which enforcer a Policy dispatches to.
type Plane string

const (
	PlaneNetwork Plane = "network"
	PlaneDevice  Plane = "device"
)

// networkTypes are applied by the network enforcer; everything else
// is applied by the device enforcer over MQTT.
var networkTypes = map[Type]bool{
	TypeTrafficShaping:  true,
	TypeRoutingPriority: true,
	TypeBandwidthLimit:  true,
	TypeLatencyControl:  true,
}

// Plane reports which enforcer should apply this policy.
func (t Type) Plane() Plane {
	if networkTypes[t] {
		return PlaneNetwork
	}
	return PlaneDevice
}

// Policy is one normalized enforcement action produced by the policy engine.
// Params holds string-encoded values (e.g. "100mbit", "ENABLE") so the
// network and device enforcers can format them directly into tc arguments
// or MQTT JSON payloads without a second round of type assertions.
type Policy struct {
	ID           string
	Type         Type
	TargetDevice string
	Params       map[string]string
	// Priority (1-9) is set per policy type by the engine. The dispatcher
	// applies a directive's policies in list order and does not reorder
	// them by Priority; it is not the HTB prio used by the network enforcer.
	Priority int
}

// Param returns params[key], or "" if absent.
func (p Policy) Param(key string) string {
	return p.Params[key]
}
