package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prepmed/billing/pkg/apperr"
	"github.com/prepmed/billing/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// User is the identity subsystem's view of an account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Directory is the slice of the identity subsystem the fulfillment flow
// needs: create an account during signup checkout and remove it again when
// payment fails.
type Directory interface {
	CreateUser(ctx context.Context, email, name, password string) (*User, error)
	DeleteUser(ctx context.Context, userID string) error
	GetUser(ctx context.Context, userID string) (*User, error)
}

// Client talks to the identity service over its internal HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.SugaredLogger
}

func NewClient(cfg *config.Config, log *zap.SugaredLogger) *Client {
	timeout := time.Duration(cfg.Identity.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.Identity.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

func (c *Client) CreateUser(ctx context.Context, email, name, password string) (*User, error) {
	payload := map[string]string{
		"email":    email,
		"name":     name,
		"password": password,
	}
	var user User
	if err := c.do(ctx, http.MethodPost, "/internal/users", payload, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, fmt.Errorf("%w: identity service returned no user id", apperr.ErrProvider)
	}
	return &user, nil
}

func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodDelete, "/internal/users/"+userID, nil, nil)
}

func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/internal/users/"+userID, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	if c.baseURL == "" {
		return fmt.Errorf("identity service base URL is not configured")
	}

	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal identity payload: %w", err)
		}
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create identity request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call identity service: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: identity service: account already exists", apperr.ErrConflict)
	case resp.StatusCode >= 400:
		return fmt.Errorf("identity service returned status %d for %s %s", resp.StatusCode, method, path)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode identity response: %w", err)
	}
	return nil
}

var Module = fx.Options(
	fx.Provide(
		NewClient,
		func(c *Client) Directory { return c },
	),
)
