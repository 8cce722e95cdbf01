package policy

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ibsfleet/controller/internal/intent"
)

// Engine expands a ParsedIntent into enforcement Policies. It is pure and
// holds no state beyond the default/clamp tables baked into its methods, so
// a single instance may be shared across dispatcher goroutines.
type Engine struct{}

// NewEngine returns a ready-to-use policy Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Generate expands pi into its ordered list of Policies. Types the
// engine does not recognize (general, or an empty ParsedIntent) produce an
// empty, non-error result — the dispatcher treats that as a no-op.
func (e *Engine) Generate(pi *intent.ParsedIntent) ([]Policy, error) {
	if pi == nil {
		return nil, fmt.Errorf("policy: nil parsed intent")
	}

	switch pi.Type {
	case intent.TypePriority:
		return e.genPriority(pi), nil
	case intent.TypeBandwidth:
		return e.genBandwidth(pi), nil
	case intent.TypeLatency:
		return e.genLatency(pi), nil
	case intent.TypeQoS:
		return e.genQoS(pi), nil
	case intent.TypeSampleRate:
		return e.genSampleRate(pi), nil
	case intent.TypeSamplingInterval:
		return e.genSamplingInterval(pi), nil
	case intent.TypeDeviceControl:
		return e.genDeviceControl(pi), nil
	case intent.TypePublishInterval:
		return e.genPublishInterval(pi), nil
	case intent.TypeAudioGain:
		return e.genAudioGain(pi), nil
	case intent.TypeCameraResolution:
		return e.genCameraResolution(pi), nil
	case intent.TypeCameraQuality:
		return e.genCameraQuality(pi), nil
	case intent.TypeCameraBrightness:
		return e.genCameraBrightness(pi), nil
	case intent.TypeCameraFramerate:
		return e.genCameraFramerate(pi), nil
	case intent.TypeCameraControl:
		return e.genCameraControl(pi), nil
	default:
		return nil, nil
	}
}

func newID(kind string) string {
	return kind + "-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

func mk(target string, typ Type, priority int, params map[string]string) Policy {
	return Policy{ID: newID(string(typ)), Type: typ, TargetDevice: target, Priority: priority, Params: params}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

// priorityHTBLevel maps a qualitative level word to the closed prio table
// the network enforcer applies; numeric "priority N" forms fall back
// to thresholds over the same 1-9 scale used for dispatch ordering.
func priorityHTBLevel(level string) string {
	switch level {
	case "critical", "high", "medium", "low":
		return level
	default:
		n := parseInt(level)
		switch {
		case n >= 8:
			return "critical"
		case n >= 6:
			return "high"
		case n >= 3:
			return "medium"
		case n > 0:
			return "low"
		default:
			return "default"
		}
	}
}

func (e *Engine) genPriority(pi *intent.ParsedIntent) []Policy {
	level := pi.Param("level")
	if level == "" {
		level = "default"
	}
	htbLevel := priorityHTBLevel(level)

	shaping := mk(pi.TargetDevice, TypeTrafficShaping, 5, map[string]string{
		"rate":  "100mbit",
		"ceil":  "200mbit",
		"burst": "32k",
		"class": "high_priority",
		"level": htbLevel,
	})
	routing := mk(pi.TargetDevice, TypeRoutingPriority, 5, map[string]string{
		"tos":      "0x10",
		"priority": "high",
		"level":    htbLevel,
	})
	return []Policy{shaping, routing}
}

// bandwidthUnit normalizes a parsed bandwidth unit to tc's mbit/kbit/gbit
// vocabulary ("throttle X to N defaults to mbit" when no unit parsed).
func bandwidthUnit(unit string) string {
	switch unit {
	case "mbps":
		return "mbit"
	case "kbps":
		return "kbit"
	case "gbps":
		return "gbit"
	case "mbit", "kbit", "gbit":
		return unit
	default:
		return "mbit"
	}
}

func (e *Engine) genBandwidth(pi *intent.ParsedIntent) []Policy {
	value := pi.Param("limit")
	unit := bandwidthUnit(pi.ParamGroup("limit", 1))
	rate := fmt.Sprintf("%s%s", value, unit)

	p := mk(pi.TargetDevice, TypeBandwidthLimit, 5, map[string]string{
		"rate":  rate,
		"ceil":  rate,
		"burst": "15k",
	})
	return []Policy{p}
}

// latencyMS converts a captured (value, unit) pair to milliseconds.
func latencyMS(value, unit string) float64 {
	v := parseFloat(value)
	switch unit {
	case "s", "seconds":
		return v * 1000
	default: // "ms", "milliseconds", or no unit given (ms implied)
		return v
	}
}

func (e *Engine) genLatency(pi *intent.ParsedIntent) []Policy {
	var delayMS float64
	var hasDelay bool

	if pi.HasParam("injection") {
		delayMS = latencyMS(pi.Param("injection"), pi.ParamGroup("injection", 1))
		hasDelay = true
	} else if pi.HasParam("latency_target") {
		delayMS = latencyMS(pi.Param("latency_target"), pi.ParamGroup("latency_target", 1))
		hasDelay = true
	}

	if hasDelay {
		jitter := math.Max(1, delayMS/10)
		p := mk(pi.TargetDevice, TypeLatencyControl, 5, map[string]string{
			"delay":  fmt.Sprintf("%gms", delayMS),
			"jitter": fmt.Sprintf("%gms", jitter),
		})
		return []Policy{p}
	}

	p := mk(pi.TargetDevice, TypeTrafficShaping, 5, map[string]string{
		"class":       "low_latency",
		"netem_delay": "0ms",
		"queue":       "fq_codel",
	})
	return []Policy{p}
}

func (e *Engine) genQoS(pi *intent.ParsedIntent) []Policy {
	level := clampInt(parseInt(pi.Param("level")), 0, 2)
	p := mk(pi.TargetDevice, TypeQoSControl, 3, map[string]string{
		"mqtt_qos":          strconv.Itoa(level),
		"reliable_delivery": strconv.FormatBool(level >= 1),
		"retain":            "true",
	})
	return []Policy{p}
}

// standardSampleRates are the discrete Hz values sample_rate snaps to.
var standardSampleRates = []int{8000, 16000, 44100, 48000}

func nearestSampleRate(hz float64) int {
	best := standardSampleRates[0]
	bestDiff := math.Abs(hz - float64(best))
	for _, r := range standardSampleRates[1:] {
		if d := math.Abs(hz - float64(r)); d < bestDiff {
			best, bestDiff = r, d
		}
	}
	return best
}

func (e *Engine) genSampleRate(pi *intent.ParsedIntent) []Policy {
	hz := parseFloat(pi.Param("rate"))
	if strings.EqualFold(pi.ParamGroup("rate", 1), "khz") {
		hz *= 1000
	}
	snapped := nearestSampleRate(hz)
	p := mk(pi.TargetDevice, TypeSampleRate, 3, map[string]string{
		"sample_rate": strconv.Itoa(snapped),
	})
	return []Policy{p}
}

func (e *Engine) genSamplingInterval(pi *intent.ParsedIntent) []Policy {
	seconds := clampInt(parseInt(pi.Param("interval")), 2, 3600)
	p := mk(pi.TargetDevice, TypeSamplingInterval, 3, map[string]string{
		"interval_seconds": strconv.Itoa(seconds),
	})
	return []Policy{p}
}

// deviceCommand resolves a parsed verb to the closed ENABLE/DISABLE/RESET
// vocabulary the device enforcer publishes.
func deviceCommand(verb string) string {
	switch verb {
	case "enable", "activate", "start", "resume":
		return "ENABLE"
	case "disable", "deactivate", "stop", "pause":
		return "DISABLE"
	case "reset":
		return "RESET"
	default:
		return "ENABLE"
	}
}

func (e *Engine) genDeviceControl(pi *intent.ParsedIntent) []Policy {
	p := mk(pi.TargetDevice, TypeDeviceControl, 2, map[string]string{
		"command": deviceCommand(pi.Param("command")),
	})
	return []Policy{p}
}

func (e *Engine) genPublishInterval(pi *intent.ParsedIntent) []Policy {
	raw := parseFloat(pi.Param("interval"))
	unit := pi.ParamGroup("interval", 1)

	var ms float64
	switch {
	case unit == "s" || unit == "seconds":
		ms = raw * 1000
	case unit == "ms" || unit == "milliseconds":
		ms = raw
	case raw <= 60:
		// No unit given and the raw value reads as seconds.
		ms = raw * 1000
	default:
		ms = raw
	}
	ms = float64(clampInt(int(ms), 1000, 60000))

	p := mk(pi.TargetDevice, TypePublishInterval, 3, map[string]string{
		"interval_ms": strconv.Itoa(int(ms)),
	})
	return []Policy{p}
}

func (e *Engine) genAudioGain(pi *intent.ParsedIntent) []Policy {
	gain := clampFloat(parseFloat(pi.Param("gain")), 0.1, 10.0)
	p := mk(pi.TargetDevice, TypeAudioGain, 3, map[string]string{
		"gain": fmt.Sprintf("%g", gain),
	})
	return []Policy{p}
}

// cameraResolutionNames is the normalized, closed resolution vocabulary;
// WxH forms are matched to the nearest by total pixel count.
var cameraResolutionNames = map[string]string{
	"qvga":    "QVGA",
	"vga":     "VGA",
	"svga":    "SVGA",
	"xga":     "XGA",
	"hd":      "HD",
	"sxga":    "SXGA",
	"uxga":    "UXGA",
	"480p":    "VGA",
	"720p":    "HD",
	"1080p":   "UXGA",
	"full hd": "HD",
}

var cameraResolutionPixels = map[string]int{
	"QVGA": 320 * 240,
	"VGA":  640 * 480,
	"SVGA": 800 * 600,
	"XGA":  1024 * 768,
	"HD":   1280 * 720,
	"SXGA": 1280 * 1024,
	"UXGA": 1600 * 1200,
}

func nearestCameraResolution(w, h int) string {
	target := w * h
	best := "VGA"
	bestDiff := math.MaxInt64
	for name, px := range cameraResolutionPixels {
		d := px - target
		if d < 0 {
			d = -d
		}
		if d < bestDiff {
			best, bestDiff = name, d
		}
	}
	return best
}

func (e *Engine) genCameraResolution(pi *intent.ParsedIntent) []Policy {
	var resolution string
	if pi.HasParam("resolution_wh") {
		w := parseInt(pi.Param("resolution_wh"))
		h := parseInt(pi.ParamGroup("resolution_wh", 1))
		resolution = nearestCameraResolution(w, h)
	} else {
		resolution = cameraResolutionNames[strings.ToLower(pi.Param("resolution"))]
		if resolution == "" {
			resolution = "VGA"
		}
	}
	p := mk(pi.TargetDevice, TypeCameraResolution, 3, map[string]string{
		"resolution": resolution,
	})
	return []Policy{p}
}

// cameraQualityPresets are the named JPEG-quality shortcuts; lower is
// higher quality, matching ffmpeg/esp32-cam's qscale convention.
var cameraQualityPresets = map[string]int{
	"high":   5,
	"medium": 15,
	"low":    30,
}

func (e *Engine) genCameraQuality(pi *intent.ParsedIntent) []Policy {
	raw := pi.Param("quality")
	var q int
	if preset, ok := cameraQualityPresets[raw]; ok {
		q = preset
	} else {
		q = parseInt(raw)
	}
	q = clampInt(q, 0, 63)

	p := mk(pi.TargetDevice, TypeCameraQuality, 3, map[string]string{
		"quality": strconv.Itoa(q),
	})
	return []Policy{p}
}

func (e *Engine) genCameraBrightness(pi *intent.ParsedIntent) []Policy {
	b := clampInt(parseInt(pi.Param("brightness")), -2, 2)
	p := mk(pi.TargetDevice, TypeCameraBrightness, 3, map[string]string{
		"brightness": strconv.Itoa(b),
	})
	return []Policy{p}
}

func (e *Engine) genCameraFramerate(pi *intent.ParsedIntent) []Policy {
	var intervalMS int
	switch {
	case pi.HasParam("fps"):
		fps := parseFloat(pi.Param("fps"))
		if fps <= 0 {
			fps = 1
		}
		intervalMS = int(math.Max(100, 1000/fps))
	case pi.HasParam("capture_interval"):
		raw := parseFloat(pi.Param("capture_interval"))
		unit := pi.ParamGroup("capture_interval", 1)
		switch {
		case unit == "s" || unit == "seconds":
			intervalMS = int(raw * 1000)
		case unit == "ms":
			intervalMS = int(raw)
		case raw < 100:
			// No unit and a small raw value reads as seconds.
			intervalMS = int(raw * 1000)
		default:
			intervalMS = int(raw)
		}
	}
	intervalMS = clampInt(intervalMS, 100, 60000)

	p := mk(pi.TargetDevice, TypeCameraFramerate, 3, map[string]string{
		"capture_interval_ms": strconv.Itoa(intervalMS),
	})
	return []Policy{p}
}

func (e *Engine) genCameraControl(pi *intent.ParsedIntent) []Policy {
	verb := pi.Param("command")
	var enabled bool
	var command string
	switch verb {
	case "enable", "start", "resume":
		enabled, command = true, "ENABLE_CAMERA"
	default:
		enabled, command = false, "DISABLE_CAMERA"
	}
	p := mk(pi.TargetDevice, TypeCameraControl, 2, map[string]string{
		"enabled": strconv.FormatBool(enabled),
		"command": command,
	})
	return []Policy{p}
}
