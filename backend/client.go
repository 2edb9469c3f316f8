// Package backend is the typed client for the external Athena LMS API.
// The portal never owns this data; every read here mirrors backend state.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/athenalms/portal/core"
)

type (
	// TokenSource supplies the credential attached to authenticated calls.
	// *credstore.Resolver satisfies it.
	TokenSource interface {
		Token(ctx context.Context) (string, error)
	}

	Client struct {
		baseURL string
		http    *http.Client
		tokens  TokenSource
		log     core.Logger
	}

	ProfileRole struct {
		Role string `json:"role"`
	}

	// Profile is the backend's view of the signed-in user.
	Profile struct {
		ID        string        `json:"id"`
		Name      string        `json:"name"`
		Email     string        `json:"email"`
		AvatarURL string        `json:"avatar_url"`
		UserRoles []ProfileRole `json:"user_roles"`
	}

	// MembershipStatus is the raw payload of the membership endpoint.
	// A null payload maps to a nil *MembershipStatus.
	MembershipStatus struct {
		Status          string     `json:"status"`
		ExpiresAt       *time.Time `json:"expiresAt"`
		NextBillingDate *time.Time `json:"nextBillingDate"`
	}

	UnlockRequest struct {
		UserID       string  `json:"userId"`
		CreditsSpent float64 `json:"credits_spent"`
		UnlockType   string  `json:"unlock_type"`
		UnlockID     string  `json:"unlock_id"`
	}
)

// Roles flattens the backend's user_roles shape.
func (p Profile) Roles() []string {
	roles := make([]string, 0, len(p.UserRoles))
	for _, ur := range p.UserRoles {
		roles = append(roles, ur.Role)
	}
	return roles
}

func NewClient(conf *core.Config, tokens TokenSource, log core.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(conf.BackendBaseURL, "/"),
		http:    &http.Client{Timeout: conf.BackendTimeout},
		tokens:  tokens,
		log:     log,
	}
}

// do issues a request and decodes the reply into out (when non-nil).
// An explicit token overrides the TokenSource.
func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return errors.Wrap(err, "encoding request body")
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")

	if token == "" && c.tokens != nil {
		if token, err = c.tokens.Token(ctx); err != nil {
			return errors.Wrap(err, "resolving token")
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "calling athena api")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "reading response body")
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return errors.Wrap(err, "decoding response body")
		}
	}
	return nil
}

// errorMessage digs the human message out of an error reply body.
func errorMessage(data []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(data))
}

// GetProfile loads the current user's profile with an explicit token.
func (c *Client) GetProfile(ctx context.Context, token string) (Profile, error) {
	var prof Profile
	if err := c.do(ctx, http.MethodGet, "/users/me", token, nil, &prof); err != nil {
		return Profile{}, errors.Wrap(err, "fetching profile")
	}
	return prof, nil
}

// RefreshAvatar re-primes the cached avatar for a user. Callers treat
// failures as best-effort.
func (c *Client) RefreshAvatar(ctx context.Context, userID string) error {
	path := fmt.Sprintf("/users/%s/avatar", userID)
	return errors.Wrap(c.do(ctx, http.MethodGet, path, "", nil, nil), "refreshing avatar")
}

// GetCreditsBalance reads the authoritative credit balance.
// The endpoint has historically answered with either {balance} or
// {data:{balance}}; both are accepted.
func (c *Client) GetCreditsBalance(ctx context.Context, userID string) (float64, error) {
	var payload struct {
		Balance *float64 `json:"balance"`
		Data    *struct {
			Balance *float64 `json:"balance"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/payment-order/credits/balance/%s", userID)
	if err := c.do(ctx, http.MethodGet, path, "", nil, &payload); err != nil {
		return 0, errors.Wrap(err, "fetching credits balance")
	}
	if payload.Balance != nil {
		return *payload.Balance, nil
	}
	if payload.Data != nil && payload.Data.Balance != nil {
		return *payload.Data.Balance, nil
	}
	return 0, errors.New("malformed balance payload")
}

// GetMembershipStatus reads the membership record. A JSON null payload
// returns (nil, nil); a {data:{...}} wrapper is unwrapped.
func (c *Client) GetMembershipStatus(ctx context.Context, userID string) (*MembershipStatus, error) {
	var raw json.RawMessage
	path := fmt.Sprintf("/payment-order/membership/status/%s", userID)
	if err := c.do(ctx, http.MethodGet, path, "", nil, &raw); err != nil {
		return nil, errors.Wrap(err, "fetching membership status")
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var wrapped struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Data) > 0 && string(wrapped.Data) != "null" {
		raw = wrapped.Data
	}

	var status MembershipStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, errors.Wrap(err, "decoding membership payload")
	}
	return &status, nil
}

// UnlockContent spends credits on the backend to unlock an item. The reply
// body is used for logging only; the balance must be re-read afterwards.
func (c *Client) UnlockContent(ctx context.Context, req UnlockRequest) error {
	var reply map[string]interface{}
	if err := c.do(ctx, http.MethodPost, "/payment-order/unlock", "", req, &reply); err != nil {
		return errors.Wrap(err, "unlocking content")
	}
	c.log.Debug("content unlocked", reply)
	return nil
}
