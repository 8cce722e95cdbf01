package device

import (
	"fmt"
	"strconv"

	"github.com/ibsfleet/controller/internal/policy"
)

func parseInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// BuildPayload composes the JSON-able payload for p, keyed by policy_type
// and, for qos_control/sampling_interval, by device family. Camera
// payloads use bare keys matching the policy's own parameter names.
func BuildPayload(p policy.Policy) (map[string]interface{}, error) {
	switch p.Type {
	case policy.TypeQoSControl:
		qos := parseInt(p.Param("mqtt_qos"))
		if isNodeFamily(p.TargetDevice) {
			return map[string]interface{}{
				"type":              "qos_update",
				"qos":               qos,
				"reliable_delivery": p.Param("reliable_delivery") == "true",
			}, nil
		}
		return map[string]interface{}{"type": "SET_QOS", "qos": qos}, nil

	case policy.TypeSampleRate:
		return map[string]interface{}{
			"type":        "SET_SAMPLE_RATE",
			"sample_rate": parseInt(p.Param("sample_rate")),
		}, nil

	case policy.TypeSamplingInterval:
		seconds := parseInt(p.Param("interval_seconds"))
		if isESP32OrMHZ19Family(p.TargetDevice) {
			return map[string]interface{}{
				"type":        "SET_PUBLISH_INTERVAL",
				"interval_ms": seconds * 1000,
			}, nil
		}
		return map[string]interface{}{
			"type":             "SET_SAMPLING_INTERVAL",
			"interval_seconds": seconds,
		}, nil

	case policy.TypeDeviceControl:
		return map[string]interface{}{"command": p.Param("command")}, nil

	case policy.TypePublishInterval:
		return map[string]interface{}{
			"type":        "SET_PUBLISH_INTERVAL",
			"interval_ms": parseInt(p.Param("interval_ms")),
		}, nil

	case policy.TypeAudioGain:
		return map[string]interface{}{
			"type": "SET_AUDIO_GAIN",
			"gain": parseFloat(p.Param("gain")),
		}, nil

	case policy.TypeCameraResolution:
		return map[string]interface{}{"resolution": p.Param("resolution")}, nil

	case policy.TypeCameraQuality:
		return map[string]interface{}{"quality": parseInt(p.Param("quality"))}, nil

	case policy.TypeCameraBrightness:
		return map[string]interface{}{"brightness": parseInt(p.Param("brightness"))}, nil

	case policy.TypeCameraFramerate:
		return map[string]interface{}{"capture_interval_ms": parseInt(p.Param("capture_interval_ms"))}, nil

	case policy.TypeCameraControl:
		return map[string]interface{}{
			"enabled": p.Param("enabled") == "true",
			"command": p.Param("command"),
		}, nil

	default:
		return nil, fmt.Errorf("device: unsupported policy type %q", p.Type)
	}
}
