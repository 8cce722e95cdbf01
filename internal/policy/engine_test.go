package policy

import (
	"testing"

	"github.com/ibsfleet/controller/internal/intent"
)

func parsed(typ intent.Type, target string, params map[string][]string) *intent.ParsedIntent {
	return &intent.ParsedIntent{Type: typ, TargetDevice: target, Parameters: params}
}

func TestGenerate_Bandwidth(t *testing.T) {
	e := NewEngine()
	pi := parsed(intent.TypeBandwidth, "esp32-cam-1", map[string][]string{
		"limit": {"2", "mbit"},
	})
	policies, err := e.Generate(pi)
	if err != nil {
		t.Fatal(err)
	}
	if len(policies) != 1 {
		t.Fatalf("got %d policies, want 1", len(policies))
	}
	p := policies[0]
	if p.Type != TypeBandwidthLimit {
		t.Fatalf("type = %q", p.Type)
	}
	if p.Param("rate") != "2mbit" || p.Param("ceil") != "2mbit" {
		t.Fatalf("rate/ceil = %q/%q, want 2mbit/2mbit", p.Param("rate"), p.Param("ceil"))
	}
	if p.Param("burst") != "15k" {
		t.Fatalf("burst = %q, want 15k", p.Param("burst"))
	}
}

func TestGenerate_BandwidthMbpsConversion(t *testing.T) {
	e := NewEngine()
	pi := parsed(intent.TypeBandwidth, "esp32-cam-1", map[string][]string{
		"limit": {"5", "mbps"},
	})
	policies, _ := e.Generate(pi)
	if got := policies[0].Param("rate"); got != "5mbit" {
		t.Fatalf("rate = %q, want 5mbit", got)
	}
}

func TestGenerate_Priority(t *testing.T) {
	e := NewEngine()
	pi := parsed(intent.TypePriority, "esp32-audio-1", map[string][]string{
		"level": {"high"},
	})
	policies, err := e.Generate(pi)
	if err != nil {
		t.Fatal(err)
	}
	if len(policies) != 2 {
		t.Fatalf("got %d policies, want 2", len(policies))
	}
	shaping, routing := policies[0], policies[1]
	if shaping.Type != TypeTrafficShaping || routing.Type != TypeRoutingPriority {
		t.Fatalf("types = %q, %q", shaping.Type, routing.Type)
	}
	if shaping.Param("rate") != "100mbit" || shaping.Param("ceil") != "200mbit" {
		t.Fatalf("unexpected shaping params: %v", shaping.Params)
	}
	if routing.Param("tos") != "0x10" {
		t.Fatalf("tos = %q, want 0x10", routing.Param("tos"))
	}
}

func TestGenerate_LatencyInjection(t *testing.T) {
	e := NewEngine()
	pi := parsed(intent.TypeLatency, "node-3", map[string][]string{
		"injection": {"100", "ms"},
	})
	policies, _ := e.Generate(pi)
	if len(policies) != 1 || policies[0].Type != TypeLatencyControl {
		t.Fatalf("policies = %+v", policies)
	}
	if policies[0].Param("delay") != "100ms" {
		t.Fatalf("delay = %q, want 100ms", policies[0].Param("delay"))
	}
	if policies[0].Param("jitter") != "10ms" {
		t.Fatalf("jitter = %q, want 10ms", policies[0].Param("jitter"))
	}
}

func TestGenerate_LatencyNoDelayUsesTrafficShaping(t *testing.T) {
	e := NewEngine()
	pi := parsed(intent.TypeLatency, "esp32-cam-2", map[string][]string{
		"mode": {"minimize"},
	})
	policies, _ := e.Generate(pi)
	if len(policies) != 1 || policies[0].Type != TypeTrafficShaping {
		t.Fatalf("policies = %+v", policies)
	}
	if policies[0].Param("class") != "low_latency" {
		t.Fatalf("class = %q, want low_latency", policies[0].Param("class"))
	}
}

func TestGenerate_SampleRateSnapsToNearest(t *testing.T) {
	e := NewEngine()
	pi := parsed(intent.TypeSampleRate, "esp32-audio-1", map[string][]string{
		"rate": {"16", "khz"},
	})
	policies, _ := e.Generate(pi)
	if got := policies[0].Param("sample_rate"); got != "16000" {
		t.Fatalf("sample_rate = %q, want 16000", got)
	}
}

func TestGenerate_SamplingIntervalClamped(t *testing.T) {
	e := NewEngine()
	pi := parsed(intent.TypeSamplingInterval, "esp32-env-1", map[string][]string{
		"interval": {"7200"},
	})
	policies, _ := e.Generate(pi)
	if got := policies[0].Param("interval_seconds"); got != "3600" {
		t.Fatalf("interval_seconds = %q, want clamped 3600", got)
	}
}

func TestGenerate_DeviceControlVerbResolution(t *testing.T) {
	e := NewEngine()
	pi := parsed(intent.TypeDeviceControl, "node-4", map[string][]string{
		"command": {"deactivate"},
	})
	policies, _ := e.Generate(pi)
	if got := policies[0].Param("command"); got != "DISABLE" {
		t.Fatalf("command = %q, want DISABLE", got)
	}
}

func TestGenerate_PublishIntervalUnitHeuristic(t *testing.T) {
	e := NewEngine()

	secondsForm := parsed(intent.TypePublishInterval, "esp32-env-1", map[string][]string{
		"interval": {"30"},
	})
	p, _ := e.Generate(secondsForm)
	if got := p[0].Param("interval_ms"); got != "30000" {
		t.Fatalf("interval_ms = %q, want 30000 (raw <=60 read as seconds)", got)
	}

	msForm := parsed(intent.TypePublishInterval, "esp32-env-1", map[string][]string{
		"interval": {"500", "ms"},
	})
	p2, _ := e.Generate(msForm)
	if got := p2[0].Param("interval_ms"); got != "1000" {
		t.Fatalf("interval_ms = %q, want clamped to 1000 minimum", got)
	}
}

func TestGenerate_CameraResolutionWxH(t *testing.T) {
	e := NewEngine()
	pi := parsed(intent.TypeCameraResolution, "esp32-cam-1", map[string][]string{
		"resolution_wh": {"1280", "720"},
	})
	policies, _ := e.Generate(pi)
	if got := policies[0].Param("resolution"); got != "HD" {
		t.Fatalf("resolution = %q, want HD", got)
	}
}

func TestGenerate_CameraQualityPreset(t *testing.T) {
	e := NewEngine()
	pi := parsed(intent.TypeCameraQuality, "esp32-cam-1", map[string][]string{
		"quality": {"high"},
	})
	policies, _ := e.Generate(pi)
	if got := policies[0].Param("quality"); got != "5" {
		t.Fatalf("quality = %q, want 5", got)
	}
}

func TestGenerate_CameraFramerateFromFPS(t *testing.T) {
	e := NewEngine()
	pi := parsed(intent.TypeCameraFramerate, "esp32-cam-1", map[string][]string{
		"fps": {"10"},
	})
	policies, _ := e.Generate(pi)
	if got := policies[0].Param("capture_interval_ms"); got != "100" {
		t.Fatalf("capture_interval_ms = %q, want 100", got)
	}
}

func TestGenerate_CameraControl(t *testing.T) {
	e := NewEngine()
	pi := parsed(intent.TypeCameraControl, "esp32-cam-1", map[string][]string{
		"command": {"pause"},
	})
	policies, _ := e.Generate(pi)
	if policies[0].Param("enabled") != "false" || policies[0].Param("command") != "DISABLE_CAMERA" {
		t.Fatalf("unexpected params: %v", policies[0].Params)
	}
}

// Purity: repeated generation from the same ParsedIntent yields
// identical non-id fields; only the policy id varies.
func TestGenerate_PureAcrossRepeatedCalls(t *testing.T) {
	e := NewEngine()
	pi := parsed(intent.TypeBandwidth, "esp32-cam-1", map[string][]string{
		"limit": {"2", "mbit"},
	})

	a, _ := e.Generate(pi)
	b, _ := e.Generate(pi)

	if len(a) != len(b) {
		t.Fatalf("length mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID == b[i].ID {
			t.Fatalf("expected distinct ids across calls, got %q twice", a[i].ID)
		}
		if a[i].Type != b[i].Type || a[i].TargetDevice != b[i].TargetDevice {
			t.Fatalf("non-id fields diverged: %+v vs %+v", a[i], b[i])
		}
		if len(a[i].Params) != len(b[i].Params) {
			t.Fatalf("params diverged: %v vs %v", a[i].Params, b[i].Params)
		}
		for k, v := range a[i].Params {
			if b[i].Params[k] != v {
				t.Fatalf("param %q diverged: %q vs %q", k, v, b[i].Params[k])
			}
		}
	}
}

func TestType_Plane(t *testing.T) {
	if TypeBandwidthLimit.Plane() != PlaneNetwork {
		t.Fatal("bandwidth_limit should be network plane")
	}
	if TypeQoSControl.Plane() != PlaneDevice {
		t.Fatal("qos_control should be device plane")
	}
}
