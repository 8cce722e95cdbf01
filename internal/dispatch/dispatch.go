// Package dispatch implements the data-flow step between the policy engine
// and the two enforcers: it routes each Policy by policy_type,
// applies a directive's policies sequentially in list order, and records
// per-policy latency and success to the metrics registry.
package dispatch

import (
	"context"
	"strconv"
	"time"

	"github.com/ibsfleet/controller/internal/logging"
	"github.com/ibsfleet/controller/internal/metrics"
	"github.com/ibsfleet/controller/internal/policy"
)

// NetworkApplier is the subset of *netenforce.Enforcer the dispatcher needs.
type NetworkApplier interface {
	Apply(ctx context.Context, p policy.Policy) bool
}

// DeviceApplier is the subset of *device.Enforcer the dispatcher needs.
type DeviceApplier interface {
	Apply(ctx context.Context, p policy.Policy) bool
}

// Result pairs a dispatched Policy with whether its enforcement succeeded.
type Result struct {
	Policy  policy.Policy
	Success bool
}

// Dispatcher routes Policies to the Network or Device Enforcer by
// policy_type — not by the originating intent type, since a single intent
// (e.g. priority) can span both planes.
type Dispatcher struct {
	network NetworkApplier
	device  DeviceApplier
	metrics *metrics.Registry
	logger  *logging.Logger
}

// New returns a Dispatcher wired to the given enforcers and metrics registry.
func New(network NetworkApplier, device DeviceApplier, reg *metrics.Registry, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{network: network, device: device, metrics: reg, logger: logger}
}

// Dispatch applies every policy in list order, sequentially, and returns
// the aggregated per-policy outcome. A failure for one policy never
// aborts the rest.
func (d *Dispatcher) Dispatch(ctx context.Context, policies []policy.Policy) []Result {
	results := make([]Result, 0, len(policies))
	for _, p := range policies {
		results = append(results, d.applyOne(ctx, p))
	}
	return results
}

func (d *Dispatcher) applyOne(ctx context.Context, p policy.Policy) Result {
	start := time.Now()
	var ok bool
	switch p.Type.Plane() {
	case policy.PlaneNetwork:
		ok = d.network.Apply(ctx, p)
	case policy.PlaneDevice:
		ok = d.device.Apply(ctx, p)
	default:
		ok = false
	}
	elapsed := time.Since(start)

	status := "failure"
	if ok {
		status = "success"
	}

	if d.metrics != nil {
		d.metrics.EnforcementLatency.WithLabelValues(string(p.Type)).Observe(elapsed.Seconds())
		d.metrics.PolicyEnforcementTotal.WithLabelValues(string(p.Type), status).Inc()
		if p.Type.Plane() == policy.PlaneDevice {
			d.metrics.DeviceEnforcementTotal.WithLabelValues(string(p.Type), p.TargetDevice, status).Inc()
		}
		if ok {
			d.mirrorCameraGauges(p)
		}
	}

	d.logger.WithFields(logging.Fields{
		"policy_id":   p.ID,
		"policy_type": string(p.Type),
		"device":      p.TargetDevice,
		"success":     ok,
		"latency_ms":  elapsed.Milliseconds(),
	}).Info("policy dispatched")

	return Result{Policy: p, Success: ok}
}

// cameraResolutionIndex orders the ESP32 frame sizes by ascending
// resolution, used only for the controller-side gauge, never for
// enforcement decisions.
var cameraResolutionIndex = map[string]float64{
	"QVGA": 1, "VGA": 2, "SVGA": 3, "XGA": 4, "HD": 5,
	"SXGA": 8, "UXGA": 10,
}

// mirrorCameraGauges updates the controller-side camera mirrors after a
// successful device-plane camera policy; these reflect the last command
// sent, not firmware state.
func (d *Dispatcher) mirrorCameraGauges(p policy.Policy) {
	switch p.Type {
	case policy.TypeCameraResolution:
		if idx, ok := cameraResolutionIndex[p.Param("resolution")]; ok {
			d.metrics.CamResolutionIndex.WithLabelValues(p.TargetDevice).Set(idx)
		}
	case policy.TypeCameraBrightness:
		if v, err := strconv.ParseFloat(p.Param("brightness"), 64); err == nil {
			d.metrics.CamBrightness.WithLabelValues(p.TargetDevice).Set(v)
		}
	case policy.TypeCameraControl:
		if p.Param("enabled") == "true" {
			d.metrics.CamEnabled.WithLabelValues(p.TargetDevice).Set(1)
		} else {
			d.metrics.CamEnabled.WithLabelValues(p.TargetDevice).Set(0)
		}
	}
}
