// Package agent speaks to the external agent stack. The SDK behind the
// endpoints is an opaque boundary: a call either returns a reply, fails,
// or never returns and must be cut off by the run's hard timeout.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Target names one role in the agent stack.
type Target string

const (
	TargetMerchant    Target = "merchant"
	TargetCredentials Target = "credentials"
	TargetPayment     Target = "payment"
)

// Reply is the raw outcome of one agent call.
type Reply struct {
	Status int
	Body   string
}

// Caller is the invocation boundary scenario scripts run against.
// Tests substitute a mock for the real HTTP stack.
type Caller interface {
	Ask(ctx context.Context, target Target, text string) (*Reply, error)
}

type message struct {
	MessageID string `json:"message_id"`
	ContextID string `json:"context_id"`
	Role      string `json:"role"`
	Parts     []part `json:"parts"`
}

type part struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Client posts user messages to the agent stack over HTTP. All calls in
// one experiment share a context ID so the stack sees a single
// conversation.
type Client struct {
	endpoints map[Target]string
	contextID string
	hc        *http.Client
}

func NewClient(endpoints map[Target]string) *Client {
	return &Client{
		endpoints: endpoints,
		contextID: uuid.NewString(),
		hc:        &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Ask(ctx context.Context, target Target, text string) (*Reply, error) {
	url, ok := c.endpoints[target]
	if !ok || url == "" {
		return nil, fmt.Errorf("no endpoint configured for %s agent", target)
	}

	body, err := json.Marshal(message{
		MessageID: uuid.NewString(),
		ContextID: c.contextID,
		Role:      "user",
		Parts:     []part{{Kind: "text", Text: text}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s agent: %w", target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s agent reply: %w", target, err)
	}
	return &Reply{Status: resp.StatusCode, Body: string(data)}, nil
}
