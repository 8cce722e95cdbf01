package metrics

import (
	"context"
	"regexp"
	"strconv"
	"time"

	gopsnet "github.com/shirou/gopsutil/v3/net"

	"github.com/ibsfleet/controller/internal/logging"
	"github.com/ibsfleet/controller/internal/netenforce"
	"github.com/ibsfleet/controller/internal/registry"
)

// TCSource is the read-only slice of the Network Enforcer the collector
// polls. Both methods take the enforcer's mutex for a short critical
// section to snapshot state, so each poll sees either the pre- or
// post-apply state atomically.
type TCSource interface {
	CollectTCStats(ctx context.Context) map[string]*netenforce.ClassStats
	GetActivePolicies() map[string]netenforce.PolicySnapshot
}

// IntentCounter is the best-effort collaborator the collector asks for the
// count of active intents; it never errors.
type IntentCounter interface {
	ActiveCount() int
}

// Collector is a single background worker that polls tc counters and the
// active-policy map on a fixed interval and mirrors them into the
// Prometheus registry.
type Collector struct {
	reg     *Registry
	tc      TCSource
	devices *registry.Registry
	intents IntentCounter
	logger  *logging.Logger
	period  time.Duration

	prevDevices map[string]bool
}

// NewCollector returns a Collector polling tc every period.
func NewCollector(reg *Registry, tc TCSource, devices *registry.Registry, intents IntentCounter, logger *logging.Logger, period time.Duration) *Collector {
	return &Collector{
		reg:         reg,
		tc:          tc,
		devices:     devices,
		intents:     intents,
		logger:      logger,
		period:      period,
		prevDevices: map[string]bool{},
	}
}

// SeedDefaults initializes every registered device's gauges from its
// configured defaults before the first intent arrives, so dashboards never
// show an empty series.
func (c *Collector) SeedDefaults(defaultRateBps float64) {
	for _, dev := range c.devices.All() {
		c.reg.ConfiguredRateBps.WithLabelValues(dev.DeviceID).Set(defaultRateBps)
		c.reg.ConfiguredDelayMs.WithLabelValues(dev.DeviceID).Set(0)
		c.reg.ConfiguredPriority.WithLabelValues(dev.DeviceID).Set(0)
		c.reg.BandwidthBytesTotal.WithLabelValues(dev.DeviceID).Set(0)
		c.reg.PacketsTotal.WithLabelValues(dev.DeviceID).Set(0)
		c.reg.DroppedTotal.WithLabelValues(dev.DeviceID).Set(0)
		c.reg.OverlimitsTotal.WithLabelValues(dev.DeviceID).Set(0)
		if isCameraDevice(dev.DeviceID) {
			c.reg.CamResolutionIndex.WithLabelValues(dev.DeviceID).Set(0)
			c.reg.CamBrightness.WithLabelValues(dev.DeviceID).Set(0)
			c.reg.CamEnabled.WithLabelValues(dev.DeviceID).Set(0)
		}
	}
}

func isCameraDevice(deviceID string) bool {
	return len(deviceID) >= 9 && deviceID[:9] == "esp32-cam"
}

// Run blocks, polling every c.period, until ctx is cancelled. Cancellation
// is honored between polls, never mid-snapshot.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	c.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx)
		}
	}
}

func (c *Collector) pollOnce(ctx context.Context) {
	c.pollTCStats(ctx)
	c.pollActivePolicies(ctx)
	c.pollIntentActive()
	c.pollHostIfaceCounters()
}

// pollHostIfaceCounters mirrors host-level egress/ingress byte counters for
// every managed interface via gopsutil, independent of tc's own class
// counters, so a dashboard can sanity-check one against the other. Failures
// are logged and skipped, never fatal.
func (c *Collector) pollHostIfaceCounters() {
	ifaces := c.devices.Interfaces()
	if len(ifaces) == 0 {
		return
	}
	counters, err := gopsnet.IOCounters(true)
	if err != nil {
		c.logger.WithError(err).Warn("poll_host_iface_counters: gopsutil IOCounters failed")
		return
	}
	want := make(map[string]bool, len(ifaces))
	for _, i := range ifaces {
		want[i] = true
	}
	for _, ctr := range counters {
		if !want[ctr.Name] {
			continue
		}
		c.reg.HostIfaceBytesSent.WithLabelValues(ctr.Name).Set(float64(ctr.BytesSent))
		c.reg.HostIfaceBytesRecv.WithLabelValues(ctr.Name).Set(float64(ctr.BytesRecv))
	}
}

func (c *Collector) pollTCStats(ctx context.Context) {
	stats := c.tc.CollectTCStats(ctx)
	for _, dev := range c.devices.All() {
		s, ok := stats[dev.DeviceID]
		if !ok {
			continue
		}
		c.reg.BandwidthBytesTotal.WithLabelValues(dev.DeviceID).Set(float64(s.BytesSent))
		c.reg.PacketsTotal.WithLabelValues(dev.DeviceID).Set(float64(s.PacketsSent))
		c.reg.DroppedTotal.WithLabelValues(dev.DeviceID).Set(float64(s.Dropped))
		c.reg.OverlimitsTotal.WithLabelValues(dev.DeviceID).Set(float64(s.Overlimits))
	}
}

func (c *Collector) pollActivePolicies(ctx context.Context) {
	active := c.tc.GetActivePolicies()
	c.reg.PolicyActive.SetCount(len(active))

	current := make(map[string]bool, len(active))
	for device, snap := range active {
		current[device] = true
		rate := rateToBps(snap.Params["rate"])
		delay := delayToMs(snap.Params["delay"])
		prio := priorityOf(snap.Params)

		c.reg.ConfiguredRateBps.WithLabelValues(device).Set(rate)
		c.reg.ConfiguredDelayMs.WithLabelValues(device).Set(delay)
		c.reg.ConfiguredPriority.WithLabelValues(device).Set(prio)
	}

	// Devices that disappeared from the active-policy map since the last
	// poll have their gauges reset to zero, never left stale.
	for device := range c.prevDevices {
		if current[device] {
			continue
		}
		c.reg.ConfiguredRateBps.WithLabelValues(device).Set(0)
		c.reg.ConfiguredDelayMs.WithLabelValues(device).Set(0)
		c.reg.ConfiguredPriority.WithLabelValues(device).Set(0)
	}
	c.prevDevices = current
}

func (c *Collector) pollIntentActive() {
	if c.intents == nil {
		return
	}
	c.reg.IntentActive.SetCount(c.intents.ActiveCount())
}

var rateUnitRe = regexp.MustCompile(`^([0-9.]+)\s*(gbit|mbit|kbit|bit)?$`)

// rateToBps parses a tc rate string ("10mbit", "2mbit", "64kbit") into bits
// per second, reading a bare number as mbit. Unparseable input yields 0,
// never a stale prior value.
func rateToBps(rate string) float64 {
	m := rateUnitRe.FindStringSubmatch(rate)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	switch m[2] {
	case "gbit":
		return n * 1e9
	case "kbit":
		return n * 1e3
	case "mbit", "":
		return n * 1e6
	default:
		return n
	}
}

var msUnitRe = regexp.MustCompile(`^([0-9.]+)\s*ms$`)

// delayToMs parses a netem delay string ("100ms") into milliseconds.
func delayToMs(delay string) float64 {
	m := msUnitRe.FindStringSubmatch(delay)
	if m == nil {
		return 0
	}
	n, _ := strconv.ParseFloat(m[1], 64)
	return n
}

var htbPrioNameToValue = map[string]float64{
	"critical": 0,
	"high":     1,
	"medium":   4,
	"low":      7,
	"default":  4,
}

// priorityOf recovers the numeric HTB priority mirrored from the active-
// policy record's "level" param, if present.
func priorityOf(params map[string]string) float64 {
	if level, ok := params["level"]; ok {
		if v, ok := htbPrioNameToValue[level]; ok {
			return v
		}
	}
	return 0
}
