package dispatch

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ibsfleet/controller/internal/logging"
	"github.com/ibsfleet/controller/internal/metrics"
	"github.com/ibsfleet/controller/internal/policy"
)

type fakeApplier struct {
	result bool
	calls  []policy.Policy
}

func (f *fakeApplier) Apply(ctx context.Context, p policy.Policy) bool {
	f.calls = append(f.calls, p)
	return f.result
}

func newTestMetrics() *metrics.Registry {
	return metrics.NewRegistry(prometheus.NewRegistry())
}

func TestDispatch_RoutesByPlane(t *testing.T) {
	net := &fakeApplier{result: true}
	dev := &fakeApplier{result: true}
	d := New(net, dev, newTestMetrics(), logging.NewLogger("test"))

	policies := []policy.Policy{
		{ID: "1", Type: policy.TypeBandwidthLimit, TargetDevice: "esp32-cam-1"},
		{ID: "2", Type: policy.TypeQoSControl, TargetDevice: "node-1"},
	}
	results := d.Dispatch(context.Background(), policies)

	if len(net.calls) != 1 || net.calls[0].ID != "1" {
		t.Fatalf("network applier calls = %+v, want exactly policy 1", net.calls)
	}
	if len(dev.calls) != 1 || dev.calls[0].ID != "2" {
		t.Fatalf("device applier calls = %+v, want exactly policy 2", dev.calls)
	}
	for _, r := range results {
		if !r.Success {
			t.Fatalf("result for %q: success = false, want true", r.Policy.ID)
		}
	}
}

func TestDispatch_FailurePerPolicyDoesNotAbort(t *testing.T) {
	net := &fakeApplier{result: false}
	dev := &fakeApplier{result: true}
	d := New(net, dev, newTestMetrics(), logging.NewLogger("test"))

	policies := []policy.Policy{
		{ID: "1", Type: policy.TypeBandwidthLimit, TargetDevice: "esp32-nope-9"},
		{ID: "2", Type: policy.TypeDeviceControl, TargetDevice: "node-1"},
	}
	results := d.Dispatch(context.Background(), policies)

	if results[0].Success {
		t.Fatal("policy 1: success = true, want false")
	}
	if !results[1].Success {
		t.Fatal("policy 2: success = false, want true (a failing policy must not abort the rest)")
	}
}

func TestDispatch_MirrorsCameraResolutionGauge(t *testing.T) {
	net := &fakeApplier{result: true}
	dev := &fakeApplier{result: true}
	reg := newTestMetrics()
	d := New(net, dev, reg, logging.NewLogger("test"))

	p := policy.Policy{
		ID:           "1",
		Type:         policy.TypeCameraResolution,
		TargetDevice: "esp32-cam-1",
		Params:       map[string]string{"resolution": "UXGA"},
	}
	d.Dispatch(context.Background(), []policy.Policy{p})

	got := testutil.ToFloat64(reg.CamResolutionIndex.WithLabelValues("esp32-cam-1"))
	if got != 10 {
		t.Fatalf("ibs_cam_resolution_index = %v, want 10", got)
	}
}
