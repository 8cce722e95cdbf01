// Package metrics implements the controller's metrics surface: a Prometheus
// registry plus a periodic poller that reconciles applied policy state
// with live tc counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every Prometheus collector the controller exposes. It is
// safe for concurrent use — prometheus metric objects are internally
// thread-safe.
type Registry struct {
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	BandwidthBytesTotal *prometheus.GaugeVec
	PacketsTotal        *prometheus.GaugeVec
	DroppedTotal        *prometheus.GaugeVec
	OverlimitsTotal     *prometheus.GaugeVec
	ConfiguredRateBps   *prometheus.GaugeVec
	ConfiguredDelayMs   *prometheus.GaugeVec
	ConfiguredPriority  *prometheus.GaugeVec

	PolicyActive int64Gauge
	IntentActive int64Gauge

	PolicyEnforcementTotal *prometheus.CounterVec
	DeviceEnforcementTotal *prometheus.CounterVec
	EnforcementLatency     *prometheus.HistogramVec

	CamResolutionIndex *prometheus.GaugeVec
	CamBrightness      *prometheus.GaugeVec
	CamEnabled         *prometheus.GaugeVec

	HostIfaceBytesSent *prometheus.GaugeVec
	HostIfaceBytesRecv *prometheus.GaugeVec
}

// int64Gauge is a thin wrapper so callers can Set a global scalar without
// reaching into a GaugeVec for a label-less series.
type int64Gauge struct {
	prometheus.Gauge
}

func (g int64Gauge) SetCount(n int) {
	g.Set(float64(n))
}

// NewRegistry builds and registers the controller's full Prometheus
// surface. Passing a fresh prometheus.NewRegistry() (rather than the
// global default registry) keeps repeated test construction free of
// "already registered" panics.
func NewRegistry(reg *prometheus.Registry) *Registry {
	factory := func(opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
		v := prometheus.NewGaugeVec(opts, labels)
		reg.MustRegister(v)
		return v
	}

	r := &Registry{
		Registerer: reg,
		Gatherer:   reg,

		BandwidthBytesTotal: factory(prometheus.GaugeOpts{
			Name: "ibs_tc_bandwidth_bytes_total",
			Help: "Bytes sent through a device's HTB class, per tc -s class show.",
		}, []string{"device"}),
		PacketsTotal: factory(prometheus.GaugeOpts{
			Name: "ibs_tc_packets_total",
			Help: "Packets sent through a device's HTB class.",
		}, []string{"device"}),
		DroppedTotal: factory(prometheus.GaugeOpts{
			Name: "ibs_tc_dropped_total",
			Help: "Packets dropped by a device's HTB class.",
		}, []string{"device"}),
		OverlimitsTotal: factory(prometheus.GaugeOpts{
			Name: "ibs_tc_overlimits_total",
			Help: "Overlimit events recorded against a device's HTB class.",
		}, []string{"device"}),
		ConfiguredRateBps: factory(prometheus.GaugeOpts{
			Name: "ibs_tc_configured_rate_bps",
			Help: "Configured HTB rate for a device, in bits per second.",
		}, []string{"device"}),
		ConfiguredDelayMs: factory(prometheus.GaugeOpts{
			Name: "ibs_tc_configured_delay_ms",
			Help: "Configured netem delay for a device, in milliseconds.",
		}, []string{"device"}),
		ConfiguredPriority: factory(prometheus.GaugeOpts{
			Name: "ibs_tc_configured_priority",
			Help: "Configured HTB priority for a device.",
		}, []string{"device"}),

		CamResolutionIndex: factory(prometheus.GaugeOpts{
			Name: "ibs_cam_resolution_index",
			Help: "Controller-side mirror of the last camera resolution command sent (index into the resolution table).",
		}, []string{"device"}),
		CamBrightness: factory(prometheus.GaugeOpts{
			Name: "ibs_cam_brightness",
			Help: "Controller-side mirror of the last camera brightness command sent.",
		}, []string{"device"}),
		CamEnabled: factory(prometheus.GaugeOpts{
			Name: "ibs_cam_enabled",
			Help: "Controller-side mirror of the last camera enable/disable command sent (1/0).",
		}, []string{"device"}),

		HostIfaceBytesSent: factory(prometheus.GaugeOpts{
			Name: "ibs_host_iface_bytes_sent_total",
			Help: "Host-level egress byte counter for a managed interface, from gopsutil, independent of tc's own class counters.",
		}, []string{"iface"}),
		HostIfaceBytesRecv: factory(prometheus.GaugeOpts{
			Name: "ibs_host_iface_bytes_recv_total",
			Help: "Host-level ingress byte counter for a managed interface, from gopsutil.",
		}, []string{"iface"}),

		PolicyEnforcementTotal: func() *prometheus.CounterVec {
			v := prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ibs_policy_enforcement_total",
				Help: "Count of policy enforcement attempts by type and outcome.",
			}, []string{"policy_type", "status"})
			reg.MustRegister(v)
			return v
		}(),
		DeviceEnforcementTotal: func() *prometheus.CounterVec {
			v := prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ibs_device_enforcement_total",
				Help: "Count of device-plane enforcement attempts by type, device, and outcome.",
			}, []string{"policy_type", "device", "status"})
			reg.MustRegister(v)
			return v
		}(),
		EnforcementLatency: func() *prometheus.HistogramVec {
			v := prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "ibs_policy_enforcement_latency_seconds",
				Help:    "Latency of a single policy's enforcement, from dispatch to return.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			}, []string{"policy_type"})
			reg.MustRegister(v)
			return v
		}(),
	}

	policyActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ibs_policy_active",
		Help: "Number of devices with an active-policy record.",
	})
	reg.MustRegister(policyActive)
	r.PolicyActive = int64Gauge{policyActive}

	intentActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ibs_intent_active",
		Help: "Number of intents considered active by the intent store collaborator.",
	})
	reg.MustRegister(intentActive)
	r.IntentActive = int64Gauge{intentActive}

	return r
}
