// Package device implements the device-plane enforcer: it dispatches device-
// plane policies as MQTT control messages, routed by device family.
package device

import "strings"

// ControlTopic returns the publish topic for deviceID: esp32-mhz19-*,
// esp32-env-*, and generic mhz19-* publish to the imperium namespace;
// everything else (node-*, esp32-cam-*, esp32-audio-*) uses the plain
// iot/ namespace.
func ControlTopic(deviceID string) string {
	if isImperiumFamily(deviceID) {
		return "imperium/devices/" + deviceID + "/control"
	}
	return "iot/" + deviceID + "/control"
}

func isImperiumFamily(deviceID string) bool {
	return strings.HasPrefix(deviceID, "esp32-mhz19-") ||
		strings.HasPrefix(deviceID, "esp32-env-") ||
		strings.HasPrefix(deviceID, "mhz19-")
}

// isESP32OrMHZ19Family reports whether deviceID belongs to the ESP32/mhz19
// sensor family, which gets the millisecond-interval publish form.
func isESP32OrMHZ19Family(deviceID string) bool {
	return strings.HasPrefix(deviceID, "esp32-") || strings.HasPrefix(deviceID, "mhz19-")
}

// isNodeFamily reports whether deviceID is a simulator node, which gets the
// legacy qos_update payload shape.
func isNodeFamily(deviceID string) bool {
	return strings.HasPrefix(deviceID, "node-")
}

// StatusTopicDevice extracts the device id from a status topic matching
// "iot/<device>/status" (the filter the client subscribes to on connect).
func StatusTopicDevice(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "iot" || parts[2] != "status" {
		return "", false
	}
	return parts[1], true
}
