// Package rpc implements the live wire protocol for service endpoints:
// JSON over HTTP POST, one operation per URL. Each service replica exposes
// POST http://<addr>/v1/<method> accepting a sim.ServiceRequest body and
// answering with a sim.ServiceResponse that echoes rollout id and instant.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/drivesim/drivesim/sim"
)

// Client is a ServiceClient over HTTP. One Client is shared by all pools;
// http.Client is safe for concurrent use and keeps per-host connections
// alive across rollouts.
type Client struct {
	httpc *http.Client
}

// NewClient builds a client. timeout is a transport-level backstop; the
// per-call bound is carried by the caller's context.
func NewClient(timeout time.Duration) *Client {
	return &Client{httpc: &http.Client{Timeout: timeout}}
}

// Call issues req to the given replica and decodes the response.
func (c *Client) Call(ctx context.Context, replica *sim.ReplicaHandle, req *sim.ServiceRequest) (*sim.ServiceResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	url := fmt.Sprintf("http://%s/v1/%s", replica.Addr, req.Method)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, fmt.Errorf("replica %s returned HTTP %d: %s", replica.ID, httpResp.StatusCode, snippet)
	}
	var resp sim.ServiceResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}
