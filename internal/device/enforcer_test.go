package device

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ibsfleet/controller/internal/logging"
	"github.com/ibsfleet/controller/internal/policy"
)

type fakePublisher struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
	err      error
}

func (f *fakePublisher) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	f.topic, f.qos, f.retained, f.payload = topic, qos, retained, payload
	return f.err
}

func TestEnforcer_QoSControl_ESP32Family(t *testing.T) {
	pub := &fakePublisher{}
	e := NewEnforcer(pub, logging.NewLogger("device-test"))

	ok := e.Apply(context.Background(), policy.Policy{
		Type: policy.TypeQoSControl, TargetDevice: "esp32-cam-1",
		Params: map[string]string{"mqtt_qos": "2", "reliable_delivery": "true", "retain": "true"},
	})
	if !ok {
		t.Fatal("expected Apply to succeed")
	}
	if pub.topic != "iot/esp32-cam-1/control" {
		t.Fatalf("topic = %q", pub.topic)
	}
	if pub.retained {
		t.Fatal("expected retain=false regardless of policy retain param")
	}

	var body map[string]interface{}
	if err := json.Unmarshal(pub.payload, &body); err != nil {
		t.Fatal(err)
	}
	if body["type"] != "SET_QOS" || body["qos"].(float64) != 2 {
		t.Fatalf("unexpected payload: %v", body)
	}
}

func TestEnforcer_QoSControl_NodeLegacyShape(t *testing.T) {
	pub := &fakePublisher{}
	e := NewEnforcer(pub, logging.NewLogger("device-test"))

	e.Apply(context.Background(), policy.Policy{
		Type: policy.TypeQoSControl, TargetDevice: "node-1",
		Params: map[string]string{"mqtt_qos": "2", "reliable_delivery": "true"},
	})

	var body map[string]interface{}
	json.Unmarshal(pub.payload, &body)
	if body["type"] != "qos_update" || body["reliable_delivery"] != true {
		t.Fatalf("unexpected legacy payload: %v", body)
	}
	if pub.topic != "iot/node-1/control" {
		t.Fatalf("topic = %q", pub.topic)
	}
}

func TestEnforcer_SamplingInterval_ImperiumRouting(t *testing.T) {
	pub := &fakePublisher{}
	e := NewEnforcer(pub, logging.NewLogger("device-test"))

	e.Apply(context.Background(), policy.Policy{
		Type: policy.TypeSamplingInterval, TargetDevice: "esp32-env-1",
		Params: map[string]string{"interval_seconds": "30"},
	})

	if pub.topic != "imperium/devices/esp32-env-1/control" {
		t.Fatalf("topic = %q, want imperium namespace", pub.topic)
	}
	var body map[string]interface{}
	json.Unmarshal(pub.payload, &body)
	if body["type"] != "SET_PUBLISH_INTERVAL" || body["interval_ms"].(float64) != 30000 {
		t.Fatalf("unexpected payload: %v", body)
	}
}

func TestEnforcer_SamplingInterval_GenericNodeForm(t *testing.T) {
	pub := &fakePublisher{}
	e := NewEnforcer(pub, logging.NewLogger("device-test"))

	e.Apply(context.Background(), policy.Policy{
		Type: policy.TypeSamplingInterval, TargetDevice: "node-3",
		Params: map[string]string{"interval_seconds": "10"},
	})

	var body map[string]interface{}
	json.Unmarshal(pub.payload, &body)
	if body["type"] != "SET_SAMPLING_INTERVAL" || body["interval_seconds"].(float64) != 10 {
		t.Fatalf("unexpected payload: %v", body)
	}
}

func TestEnforcer_CameraPayloadBareKeys(t *testing.T) {
	pub := &fakePublisher{}
	e := NewEnforcer(pub, logging.NewLogger("device-test"))

	e.Apply(context.Background(), policy.Policy{
		Type: policy.TypeCameraResolution, TargetDevice: "esp32-cam-1",
		Params: map[string]string{"resolution": "HD"},
	})

	var body map[string]interface{}
	json.Unmarshal(pub.payload, &body)
	if _, hasType := body["type"]; hasType {
		t.Fatal("camera payloads must not include a type envelope key")
	}
	if body["resolution"] != "HD" {
		t.Fatalf("unexpected payload: %v", body)
	}
}

func TestEnforcer_PublishFailureReturnsFalse(t *testing.T) {
	pub := &fakePublisher{err: context.DeadlineExceeded}
	e := NewEnforcer(pub, logging.NewLogger("device-test"))

	ok := e.Apply(context.Background(), policy.Policy{
		Type: policy.TypeDeviceControl, TargetDevice: "esp32-cam-1",
		Params: map[string]string{"command": "ENABLE"},
	})
	if ok {
		t.Fatal("expected Apply to report failure when publish fails")
	}
}

func TestControlTopic_Routing(t *testing.T) {
	cases := map[string]string{
		"esp32-cam-1":   "iot/esp32-cam-1/control",
		"esp32-audio-1": "iot/esp32-audio-1/control",
		"node-1":        "iot/node-1/control",
		"esp32-mhz19-1": "imperium/devices/esp32-mhz19-1/control",
		"esp32-env-1":   "imperium/devices/esp32-env-1/control",
		"mhz19-5":       "imperium/devices/mhz19-5/control",
	}
	for device, want := range cases {
		if got := ControlTopic(device); got != want {
			t.Errorf("ControlTopic(%q) = %q, want %q", device, got, want)
		}
	}
}
