// Package authapi is the HTTP client for the FreeWork auth endpoints.
//
// It owns request/response models and the normalization of the divergent
// response shapes different deployments emit. It performs no token storage
// or scheduling; that lives in the session package.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

// Client talks to the auth endpoints under a single base URL.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client (tests, custom transports).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient constructs a Client for the given base URL, e.g.
// "http://localhost:8080/api/auth".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges credentials for a token pair plus the user record.
func (c *Client) Login(ctx context.Context, creds Credentials) (AuthResult, error) {
	var wire authResponseWire
	if err := c.postJSON(ctx, "/login", creds, &wire); err != nil {
		return AuthResult{}, err
	}
	res, err := wire.normalize()
	if err != nil {
		return AuthResult{}, err
	}
	if res.User == nil {
		return AuthResult{}, fmt.Errorf("%w: no user field", ErrUnexpectedShape)
	}
	return res, nil
}

// Register creates an account and logs it in (same response shape as login).
func (c *Client) Register(ctx context.Context, req RegisterRequest) (AuthResult, error) {
	var wire authResponseWire
	if err := c.postJSON(ctx, "/register", req, &wire); err != nil {
		return AuthResult{}, err
	}
	res, err := wire.normalize()
	if err != nil {
		return AuthResult{}, err
	}
	if res.User == nil {
		return AuthResult{}, fmt.Errorf("%w: no user field", ErrUnexpectedShape)
	}
	return res, nil
}

// Refresh exchanges the refresh token for a new pair. The user field is
// optional in refresh responses; callers keep their current record when it
// is absent.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (AuthResult, error) {
	var wire authResponseWire
	if err := c.postJSON(ctx, "/refresh", refreshRequest{RefreshToken: refreshToken}, &wire); err != nil {
		return AuthResult{}, err
	}
	return wire.normalize()
}

// Logout asks the server to invalidate the refresh token.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	return c.postJSON(ctx, "/logout", logoutRequest{RefreshToken: refreshToken}, nil)
}

// Me fetches the current user's profile using a bearer access token.
func (c *Client) Me(ctx context.Context, accessToken string) (User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/me", nil)
	if err != nil {
		return User{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var user User
	if err := c.do(req, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	return c.do(req, out)
}

// wireError accepts both {"error":{"code","message"}} and flat {"message"}
// error bodies.
type wireError struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	se := &StatusError{Status: resp.StatusCode}
	var we wireError
	if err := json.NewDecoder(resp.Body).Decode(&we); err == nil {
		if we.Error != nil {
			se.Code = we.Error.Code
			se.Message = we.Error.Message
		} else {
			se.Message = we.Message
		}
	}
	return se
}
