package intent

import (
	"strings"
)

// Parser turns free-text directives into ParsedIntent values. It holds no
// state beyond the compiled catalogue, so a single instance is safe for
// concurrent use across dispatcher goroutines.
type Parser struct{}

// NewParser returns a ready-to-use intent Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse classifies text and extracts its parameters and target device.
// It never errors: text that matches no category becomes TypeGeneral with
// no parameters, which the policy engine treats as a no-op.
func (p *Parser) Parse(text string) *ParsedIntent {
	lower := strings.ToLower(strings.TrimSpace(text))

	pi := &ParsedIntent{
		Original:   text,
		Type:       disambiguateType(lower),
		Parameters: map[string][]string{},
	}

	for _, pat := range catalogue[pi.Type] {
		m := pat.Regex.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		if _, exists := pi.Parameters[pat.Param]; exists {
			continue // first matching pattern per parameter name wins
		}
		if len(m) == 1 {
			// No capturing groups: record the pattern's implied default.
			if pat.Default != nil {
				pi.Parameters[pat.Param] = pat.Default
			}
			continue
		}
		pi.Parameters[pat.Param] = m[1:]
	}

	pi.TargetDevice = extractTarget(lower)
	if pi.TargetDevice == "" && pi.Type.IsCameraType() {
		pi.TargetDevice = cameraDefaultTarget
	}

	return pi
}

// disambiguateType runs the cascade: the first rule that matches lower
// decides the directive's Type. Order matters — camera-specific rules run
// before the generic device_control rule so "enable the camera" classifies
// as camera_control, not device_control.
func disambiguateType(lower string) Type {
	has := func(s string) bool { return strings.Contains(lower, s) }
	hasAny := func(toks ...string) bool {
		for _, t := range toks {
			if has(t) {
				return true
			}
		}
		return false
	}
	isCameraWord := func() bool { return hasAny("camera", "cam") }

	switch {
	case hasAny("qvga", "vga", "svga", "xga", "hd", "sxga", "uxga", "480p", "720p", "1080p", "full hd", "resolution"):
		return TypeCameraResolution

	case has("brightness") && isCameraWord():
		return TypeCameraBrightness

	case hasAny("frame rate", "fps", "capture interval", "capture every"):
		return TypeCameraFramerate

	case (has("quality") && isCameraWord()) || has("jpeg quality") || has("image quality"):
		return TypeCameraQuality

	case isCameraWord() && hasAny("enable", "disable", "start", "stop", "pause", "resume"):
		return TypeCameraControl

	case (hasAny("mhz19", "co2", "carbon dioxide", "environmental", "esp32-env") &&
		hasAny("sampling", "interval", "rate", "every")) ||
		(has("seconds") && has("sampling")):
		return TypeSamplingInterval

	case hasAny("sample rate", "sampling", "audio rate", "khz", " hz"):
		return TypeSampleRate

	case hasAny("gain", "amplify", "boost", "audio volume", "audio level"):
		return TypeAudioGain

	case hasAny("publish interval", "telemetry", "reporting", "report every", "send data"):
		return TypePublishInterval

	case hasAny("enable", "disable", "start", "stop", "activate", "deactivate", "reset"):
		return TypeDeviceControl

	case has("priority") || has("prioritize"):
		return TypePriority

	case hasAny("bandwidth", "throttle", "mbit", "kbit", "gbit", "mbps", "kbps", "gbps"):
		return TypeBandwidth

	case hasAny("latency", "delay", "lag"):
		return TypeLatency

	case has("qos") || has("quality of service"):
		return TypeQoS

	default:
		return TypeGeneral
	}
}

// extractTarget runs the target-device cascade over lower, returning ""
// if no device reference is found.
func extractTarget(lower string) string {
	for _, re := range targetPatterns {
		m := re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		switch {
		case len(m) == 1:
			return strings.TrimSpace(m[0])
		default:
			// node[-_]?(\d+) normalizes to "node-N"; "for (\S+)" takes the
			// captured token verbatim, stripped of trailing punctuation.
			if strings.HasPrefix(re.String(), `\bnode`) {
				return "node-" + m[1]
			}
			return strings.TrimRight(m[1], ".,;:!?")
		}
	}
	return ""
}
