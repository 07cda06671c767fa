package policy

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gatelet/gatelet/pkgs/policy/api"
)

type httpEvaluator struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTP returns a new HTTP based Evaluator. A 204 reply means
// allow. A 200 reply must carry an api.Response body.
func NewHTTP(endpoint string, token string, tlsConfig *tls.Config) Evaluator {

	return &httpEvaluator{
		endpoint: endpoint,
		token:    token,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
		},
	}
}

func (p *httpEvaluator) Evaluate(ctx context.Context, preq api.Request) (api.Response, error) {

	body, err := json.Marshal(preq)
	if err != nil {
		return api.Response{}, fmt.Errorf("unable to encode evaluation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewBuffer(body))
	if err != nil {
		return api.Response{}, fmt.Errorf("unable to create new http request: %w", err)
	}

	req.Header.Add("Accept", "application/json")
	req.Header.Add("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", p.token))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return api.Response{}, fmt.Errorf("unable to send request: %w", err)
	}

	rbody, err := io.ReadAll(resp.Body)
	if err != nil {
		return api.Response{}, fmt.Errorf("unable to read response body: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent {
		return api.Response{Decision: api.DecisionAllow}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return api.Response{}, fmt.Errorf("invalid response from evaluator `%s`: %s", string(rbody), resp.Status)
	}

	sresp := api.Response{}
	if err := json.Unmarshal(rbody, &sresp); err != nil {
		return api.Response{}, fmt.Errorf("unable to decode response body: %w", err)
	}

	if err := sresp.Decision.Validate(); err != nil {
		return api.Response{}, fmt.Errorf("invalid evaluator decision: %w", err)
	}

	return sresp, nil
}
