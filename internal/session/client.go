package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	healthPath = "/v3/health"
	loginPath  = "/v3/users/login"
	mePath     = "/v3/users/me"
)

// Client talks to a single pipeline deployment.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient returns an http.Client tuned for short API calls.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// Health is the liveness call. Any non-2xx answer is an error.
func (c *Client) Health(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, healthPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health: http %d", resp.StatusCode)
	}
	return nil
}

type loginResponse struct {
	Results struct {
		AccessToken struct {
			Token string `json:"token"`
		} `json:"access_token"`
	} `json:"results"`
}

type meResponse struct {
	Results struct {
		Email       string `json:"email"`
		IsSuperuser bool   `json:"is_superuser"`
	} `json:"results"`
}

func (c *Client) login(ctx context.Context, email, password string) (string, error) {
	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)

	req, err := c.newRequest(ctx, http.MethodPost, loginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var payload loginResponse
	if err := c.doJSON(req, &payload); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if payload.Results.AccessToken.Token == "" {
		return "", fmt.Errorf("login: %w", ErrNoToken)
	}
	return payload.Results.AccessToken.Token, nil
}

func (c *Client) me(ctx context.Context) (meResponse, error) {
	var payload meResponse
	req, err := c.newRequest(ctx, http.MethodGet, mePath, nil)
	if err != nil {
		return payload, err
	}
	if err := c.doJSON(req, &payload); err != nil {
		return payload, fmt.Errorf("current user: %w", err)
	}
	return payload, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) doJSON(req *http.Request, dest any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("http %d: %w", resp.StatusCode, ErrUnauthorized)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
