package device

import (
	"context"
	"encoding/json"

	"github.com/ibsfleet/controller/internal/logging"
	"github.com/ibsfleet/controller/internal/policy"
)

// Enforcer dispatches device-plane Policies as MQTT publishes. It
// holds no kernel or broker state itself — that lives in the Publisher
// (normally a *Client) — so it is trivially testable with a fake.
type Enforcer struct {
	pub    Publisher
	logger *logging.Logger
}

// NewEnforcer returns an Enforcer publishing through pub.
func NewEnforcer(pub Publisher, logger *logging.Logger) *Enforcer {
	return &Enforcer{pub: pub, logger: logger}
}

// Apply builds p's payload, routes it to the right topic, and publishes it
// at QoS 1 with no retain. It reports success as a bool and never
// propagates an error; a dead MQTT session is absorbed into false.
func (e *Enforcer) Apply(ctx context.Context, p policy.Policy) bool {
	payload, err := BuildPayload(p)
	if err != nil {
		e.logger.WithError(err).WithField("policy_type", string(p.Type)).Warn("apply: unsupported policy type")
		return false
	}

	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.WithError(err).Warn("apply: failed to marshal payload")
		return false
	}

	topic := ControlTopic(p.TargetDevice)
	const qos = 1
	if err := e.pub.Publish(ctx, topic, qos, false, data); err != nil {
		e.logger.WithError(err).WithField("topic", topic).Warn("apply: publish failed")
		return false
	}
	return true
}
