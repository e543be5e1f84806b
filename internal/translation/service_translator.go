package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ServiceTranslator calls a dedicated conversion service that accepts a
// Request as JSON and answers with a Response.
type ServiceTranslator struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

func NewServiceTranslator(endpoint, apiKey string) *ServiceTranslator {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if !strings.HasSuffix(endpoint, "/convert") {
		endpoint += "/convert"
	}
	return &ServiceTranslator{
		client: &http.Client{
			Timeout: 90 * time.Second,
		},
		endpoint: endpoint,
		apiKey:   apiKey,
	}
}

func (t *ServiceTranslator) Convert(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("conversion service request failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed Response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode conversion service response: %w", err)
	}
	parsed.TargetExpression = CleanExpression(parsed.TargetExpression)
	return &parsed, nil
}
