// Package gateway talks to a region's LLM gateway service, the external
// authority for token lifecycle and spend truth. The control plane never
// keeps an authoritative copy of spend.
package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is scoped to one region's gateway endpoint.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) doRequest(method, path string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	return c.http.Do(req)
}

// CreateKey requests a new gateway token for a private AI key.
func (c *Client) CreateKey(email, name string, ownerID uint) (string, error) {
	resp, err := c.doRequest("POST", "/key/generate", map[string]interface{}{
		"key_alias": name,
		"user_id":   fmt.Sprintf("%d", ownerID),
		"metadata":  map[string]string{"email": email},
	})
	if err != nil {
		return "", fmt.Errorf("create key: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("create key: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode key response: %w", err)
	}
	if result.Key == "" {
		return "", fmt.Errorf("create key: gateway returned empty token")
	}
	return result.Key, nil
}

// DeleteKey revokes a gateway token. A 404 counts as success so retried
// teardowns stay idempotent.
func (c *Client) DeleteKey(token string) error {
	resp, err := c.doRequest("POST", "/key/delete", map[string]interface{}{
		"keys": []string{token},
	})
	if err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("delete key: HTTP %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

type KeyInfo struct {
	Spend          float64  `json:"spend"`
	MaxBudget      *float64 `json:"max_budget"`
	BudgetDuration string   `json:"budget_duration"`
}

// GetKeyInfo returns the live spend figure for a token.
func (c *Client) GetKeyInfo(token string) (*KeyInfo, error) {
	resp, err := c.doRequest("GET", "/key/info?key="+url.QueryEscape(token), nil)
	if err != nil {
		return nil, fmt.Errorf("get key info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get key info: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Info KeyInfo `json:"info"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode key info: %w", err)
	}
	return &result.Info, nil
}

// UpdateBudgetDuration sets the budget period for a token.
func (c *Client) UpdateBudgetDuration(token, duration string) error {
	resp, err := c.doRequest("POST", "/key/update", map[string]interface{}{
		"key":             token,
		"budget_duration": duration,
	})
	if err != nil {
		return fmt.Errorf("update budget duration: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("update budget duration: HTTP %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// UpdateMaxBudget sets the per-key budget ceiling. The limit engine fans
// this out when a team budget limit changes.
func (c *Client) UpdateMaxBudget(token string, maxBudget float64) error {
	resp, err := c.doRequest("POST", "/key/update", map[string]interface{}{
		"key":        token,
		"max_budget": maxBudget,
	})
	if err != nil {
		return fmt.Errorf("update max budget: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("update max budget: HTTP %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
