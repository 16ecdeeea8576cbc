package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/driftlane/outreach-gateway/internal/core"
)

// APISender posts transmissions to a SparkPost-style JSON send API. The API
// key is resolved per account at send time.
type APISender struct {
	Endpoint    string
	Credentials CredentialFunc
	httpClient  *http.Client
}

func NewAPISender(endpoint string, creds CredentialFunc) *APISender {
	return &APISender{
		Endpoint:    endpoint,
		Credentials: creds,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *APISender) Send(ctx context.Context, acct core.Account, req core.SendRequest) (string, error) {
	key, ok := s.Credentials(acct.ID)
	if !ok {
		return "", fmt.Errorf("api: no credential for account %s", acct.ID)
	}

	payload := map[string]any{
		"recipients": []map[string]any{
			{"address": map[string]string{"email": req.Recipient}},
		},
		"content": map[string]any{
			"from":    map[string]string{"email": acct.ID, "name": acct.DisplayName},
			"subject": req.Subject,
			"text":    req.Body,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", key)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("api: status %d", resp.StatusCode)
	}

	var result struct {
		Results struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("api: decode response: %w", err)
	}
	return result.Results.ID, nil
}
