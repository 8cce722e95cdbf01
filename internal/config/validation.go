package config

import (
	"fmt"
	"net"
)

// Validate checks structural invariants the rest of the system assumes
// hold; a bad config fails the process at startup rather than surfacing
// as a kernel error later.
func Validate(cfg *Config) error {
	if cfg.Network.PrimaryInterface == "" {
		return fmt.Errorf("network.primary_interface must not be empty")
	}
	if cfg.Network.TCBinary == "" {
		return fmt.Errorf("network.tc_binary must not be empty")
	}
	if cfg.MQTT.BrokerPort <= 0 || cfg.MQTT.BrokerPort > 65535 {
		return fmt.Errorf("mqtt.broker_port out of range: %d", cfg.MQTT.BrokerPort)
	}
	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1, or 2, got %d", cfg.MQTT.QoS)
	}

	seenClassID := map[string]map[int]string{} // iface -> classid -> ip
	seenDeviceID := map[string]bool{}
	for _, d := range cfg.Registry.Devices {
		if d.DeviceID == "" {
			return fmt.Errorf("registry device entry missing device_id")
		}
		if seenDeviceID[d.DeviceID] {
			return fmt.Errorf("duplicate registry device_id %q", d.DeviceID)
		}
		seenDeviceID[d.DeviceID] = true

		if net.ParseIP(d.IP) == nil {
			return fmt.Errorf("registry device %q has invalid ip %q", d.DeviceID, d.IP)
		}
		if d.ClassID == 99 {
			return fmt.Errorf("registry device %q uses reserved classid 99 (catch-all default)", d.DeviceID)
		}
		if d.ClassID <= 0 || d.ClassID > 98 {
			return fmt.Errorf("registry device %q classid %d out of range 1-98", d.DeviceID, d.ClassID)
		}
		if d.Iface == "" {
			return fmt.Errorf("registry device %q missing iface", d.DeviceID)
		}

		if seenClassID[d.Iface] == nil {
			seenClassID[d.Iface] = map[int]string{}
		}
		// Two devices may share (iface, classid) only as the same physical
		// endpoint, i.e. with the same ip.
		if ip, ok := seenClassID[d.Iface][d.ClassID]; ok && ip != d.IP {
			return fmt.Errorf("registry device %q classid %d on %s collides with a device at a different ip", d.DeviceID, d.ClassID, d.Iface)
		}
		seenClassID[d.Iface][d.ClassID] = d.IP
	}

	return nil
}
