package sim

import (
	"context"
	"encoding/json"
	"fmt"
)

// ServiceRequest is one outgoing call to a service endpoint. Requests are
// self-contained: the remote side keeps no session state beyond what the
// request carries (rollout id + instant key every operation).
type ServiceRequest struct {
	Service   string          `json:"service"`
	Method    string          `json:"method"`
	RolloutID string          `json:"rollout_id"`
	Instant   SimInstant      `json:"instant_us"`
	Payload   json.RawMessage `json:"payload"`
}

// ServiceResponse is the reply to one ServiceRequest. RolloutID and Instant
// must echo the request; the engine validates the echo so a late or
// misrouted reply can never be threaded into the wrong step.
type ServiceResponse struct {
	Service   string          `json:"service"`
	RolloutID string          `json:"rollout_id"`
	Instant   SimInstant      `json:"instant_us"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error,omitempty"`
}

// ServiceClient issues one request to one physical replica. Implementations:
// rpc.Client (live HTTP) and test fakes.
type ServiceClient interface {
	Call(ctx context.Context, replica *ReplicaHandle, req *ServiceRequest) (*ServiceResponse, error)
}

// Caller routes one logical call for a service. ReplicaPool is the live
// implementation; the replay engine substitutes a recorded-stream stub.
type Caller interface {
	ServiceName() string
	Call(ctx context.Context, req *ServiceRequest) (*ServiceResponse, error)
}

// NewServiceRequest marshals payload and builds the request envelope.
func NewServiceRequest(service, method, rolloutID string, instant SimInstant, payload any) (*ServiceRequest, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s/%s payload: %w", service, method, err)
	}
	return &ServiceRequest{
		Service:   service,
		Method:    method,
		RolloutID: rolloutID,
		Instant:   instant,
		Payload:   raw,
	}, nil
}

// validateEcho checks that resp answers req. A mismatch is a malformed
// response: the transport delivered something, but not the answer to the
// question asked.
func validateEcho(req *ServiceRequest, resp *ServiceResponse) error {
	if resp == nil {
		return fmt.Errorf("nil response")
	}
	if resp.RolloutID != req.RolloutID {
		return fmt.Errorf("response echoes rollout %q, expected %q", resp.RolloutID, req.RolloutID)
	}
	if resp.Instant != req.Instant {
		return fmt.Errorf("response echoes instant %s, expected %s", resp.Instant, req.Instant)
	}
	return nil
}
