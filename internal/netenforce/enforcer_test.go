package netenforce

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/ibsfleet/controller/internal/config"
	"github.com/ibsfleet/controller/internal/logging"
	"github.com/ibsfleet/controller/internal/policy"
	"github.com/ibsfleet/controller/internal/registry"
)

// fakeRunner records every invocation and always succeeds, letting tests
// assert on the shape of the tc call sequence without a real kernel.
type fakeRunner struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeRunner) Run(ctx context.Context, args ...string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, strings.Join(args, " "))
	return "", "", nil
}

func (f *fakeRunner) callCount(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}

func newTestEnforcer(t *testing.T) (*Enforcer, *fakeRunner) {
	t.Helper()
	reg := registry.New()
	if err := reg.Seed([]registry.Entry{
		{DeviceID: "esp32-cam-1", IP: "192.168.1.101", ClassID: 10, Iface: "wlan0"},
	}); err != nil {
		t.Fatal(err)
	}
	cfg := config.NetworkConfig{
		PrimaryInterface:  "wlan0",
		LinkRate:          "100mbit",
		DeviceDefaultRate: "10mbit",
		TCBinary:          "tc",
	}
	fr := &fakeRunner{}
	logger := logging.NewLogger("netenforce-test")
	return NewEnforcer(fr, reg, cfg, logger), fr
}

func TestEnforcer_ApplyBandwidth(t *testing.T) {
	e, fr := newTestEnforcer(t)
	p := policy.Policy{
		Type: policy.TypeBandwidthLimit, TargetDevice: "esp32-cam-1",
		Params: map[string]string{"rate": "2mbit", "ceil": "2mbit", "burst": "15k"},
	}

	if !e.Apply(context.Background(), p) {
		t.Fatal("expected Apply to succeed")
	}

	rec, ok := e.GetActivePolicies()["esp32-cam-1"]
	if !ok {
		t.Fatal("expected active-policy record for esp32-cam-1")
	}
	if rec.Params["rate"] != "2mbit" {
		t.Fatalf("rate = %q, want 2mbit", rec.Params["rate"])
	}
	if n := fr.callCount("qdisc replace"); n != 1 {
		t.Fatalf("expected root qdisc brought up exactly once, got %d", n)
	}
}

func TestEnforcer_PriorityComposesWithPriorBandwidth(t *testing.T) {
	e, _ := newTestEnforcer(t)
	ctx := context.Background()

	bw := policy.Policy{Type: policy.TypeBandwidthLimit, TargetDevice: "esp32-cam-1",
		Params: map[string]string{"rate": "2mbit", "ceil": "2mbit"}}
	if !e.Apply(ctx, bw) {
		t.Fatal("bandwidth apply failed")
	}

	pr := policy.Policy{Type: policy.TypeRoutingPriority, TargetDevice: "esp32-cam-1",
		Params: map[string]string{"tos": "0x10", "priority": "high", "level": "high"}}
	if !e.Apply(ctx, pr) {
		t.Fatal("priority apply failed")
	}

	snap := e.GetActivePolicies()["esp32-cam-1"]
	if snap.Params["rate"] != "2mbit" {
		t.Fatalf("priority apply clobbered rate, got %v", snap.Params)
	}
	if snap.Params["tos"] != "0x10" {
		t.Fatalf("expected tos merged in, got %v", snap.Params)
	}
}

func TestEnforcer_LatencyReplacesNetemInsteadOfStacking(t *testing.T) {
	e, fr := newTestEnforcer(t)
	ctx := context.Background()
	p := policy.Policy{Type: policy.TypeLatencyControl, TargetDevice: "esp32-cam-1",
		Params: map[string]string{"delay": "50ms", "jitter": "5ms"}}

	if !e.Apply(ctx, p) {
		t.Fatal("first latency apply failed")
	}
	if !e.Apply(ctx, p) {
		t.Fatal("second latency apply failed")
	}

	// Every netem add is preceded by a delete of the prior netem, so
	// re-applying the same latency never stacks a second qdisc.
	adds := fr.callCount("qdisc add dev wlan0 parent 1:10 handle 10: netem")
	dels := fr.callCount("qdisc del dev wlan0 parent 1:10 handle 10: netem")
	if adds != 2 || dels != 2 {
		t.Fatalf("netem add/del = %d/%d, want 2/2", adds, dels)
	}
}

func TestEnforcer_ApplyUnknownDeviceFails(t *testing.T) {
	e, _ := newTestEnforcer(t)
	ok := e.Apply(context.Background(), policy.Policy{
		Type: policy.TypeBandwidthLimit, TargetDevice: "no-such-device",
		Params: map[string]string{"rate": "1mbit"},
	})
	if ok {
		t.Fatal("expected Apply to fail for an unregistered device")
	}
}

func TestEnforcer_ApplyUnknownPolicyTypeFails(t *testing.T) {
	e, _ := newTestEnforcer(t)
	ok := e.Apply(context.Background(), policy.Policy{
		Type: policy.Type("not_a_real_type"), TargetDevice: "esp32-cam-1",
	})
	if ok {
		t.Fatal("expected Apply to fail for an unknown policy type")
	}
}

func TestEnforcer_ClearDevice(t *testing.T) {
	e, _ := newTestEnforcer(t)
	ctx := context.Background()
	e.Apply(ctx, policy.Policy{Type: policy.TypeBandwidthLimit, TargetDevice: "esp32-cam-1",
		Params: map[string]string{"rate": "1mbit", "ceil": "1mbit"}})

	if !e.ClearDevice(ctx, "esp32-cam-1") {
		t.Fatal("expected ClearDevice to succeed")
	}
	if _, ok := e.GetActivePolicies()["esp32-cam-1"]; ok {
		t.Fatal("expected active-policy record forgotten after clear")
	}
}

func TestEnforcer_ClearAllResetsRootReady(t *testing.T) {
	e, fr := newTestEnforcer(t)
	ctx := context.Background()
	e.Apply(ctx, policy.Policy{Type: policy.TypeBandwidthLimit, TargetDevice: "esp32-cam-1",
		Params: map[string]string{"rate": "1mbit", "ceil": "1mbit"}})

	if !e.ClearAll(ctx) {
		t.Fatal("expected ClearAll to succeed")
	}
	if n := fr.callCount("qdisc del dev wlan0 root handle 1: htb"); n != 1 {
		t.Fatalf("expected exactly one root qdisc delete, got %d", n)
	}
	if len(e.GetActivePolicies()) != 0 {
		t.Fatal("expected no active-policy records after ClearAll")
	}
}
