package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/gatelet/gatelet/pkgs/auth"
	"github.com/gatelet/gatelet/pkgs/mcp"
)

// An HTTP is a Backend reached over request/response HTTP: one
// JSON-RPC request per POST, one response per body.
type HTTP struct {
	endpoint string
	auth     *auth.Auth
	client   *http.Client
	nextID   atomic.Uint64
}

// NewHTTP returns a Backend talking to the given endpoint. A nil
// tlsConfig yields a plain HTTP client.
func NewHTTP(endpoint string, a *auth.Auth, tlsConfig *tls.Config) *HTTP {

	return &HTTP{
		endpoint: endpoint,
		auth:     a,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
		},
	}
}

func (b *HTTP) roundTrip(ctx context.Context, method string, params map[string]any) (mcp.Message, error) {

	body, err := json.Marshal(mcp.NewRequest(b.nextID.Add(1), method, params))
	if err != nil {
		return mcp.Message{}, fmt.Errorf("unable to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewBuffer(body))
	if err != nil {
		return mcp.Message{}, fmt.Errorf("unable to create http request: %w", err)
	}

	req.Header.Add("Accept", "application/json")
	req.Header.Add("Content-Type", "application/json")
	if b.auth != nil {
		req.Header.Add("Authorization", b.auth.Encode())
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return mcp.Message{}, fmt.Errorf("unable to send request: %w", err)
	}

	rbody, err := io.ReadAll(resp.Body)
	if err != nil {
		return mcp.Message{}, fmt.Errorf("unable to read response body: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return mcp.Message{}, fmt.Errorf("invalid response from backend `%s`: %s", string(rbody), resp.Status)
	}

	msg := mcp.Message{}
	if err := json.Unmarshal(rbody, &msg); err != nil {
		return mcp.Message{}, fmt.Errorf("unable to decode response body: %w", err)
	}

	return msg, nil
}

// CallTool implements Backend.
func (b *HTTP) CallTool(ctx context.Context, tool string, args map[string]any) (*mcp.CallResult, error) {

	msg, err := b.roundTrip(ctx, "tools/call", map[string]any{
		"name":      tool,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}

	if msg.Error != nil {
		return nil, mcp.NewRPCError(*msg.Error)
	}

	res := &mcp.CallResult{}
	if err := json.Unmarshal(msg.Result, res); err != nil {
		return nil, fmt.Errorf("unable to decode call result: %w", err)
	}

	return res, nil
}

// ListTools implements Backend.
func (b *HTTP) ListTools(ctx context.Context) (mcp.Tools, error) {

	msg, err := b.roundTrip(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	if msg.Error != nil {
		return nil, mcp.NewRPCError(*msg.Error)
	}

	out := struct {
		Tools mcp.Tools `json:"tools"`
	}{}
	if err := json.Unmarshal(msg.Result, &out); err != nil {
		return nil, fmt.Errorf("unable to decode tool list: %w", err)
	}

	return out.Tools, nil
}
