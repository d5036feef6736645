// Package api is the typed client for the backend's REST contract.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"doerhub-agent/internal/common/errors"
	"doerhub-agent/internal/common/http"
	"doerhub-agent/internal/common/logger"
	"doerhub-agent/internal/common/validation"
	"doerhub-agent/internal/models"
)

// Client talks to the backend REST API. It holds the token pair for the
// signed-in account and injects the access token on every call.
type Client struct {
	baseURL string
	http    *http.Client
	log     logger.Logger

	mu     sync.RWMutex
	tokens models.TokenPair
}

func NewClient(baseURL string, timeout time.Duration, log logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.NewClient(timeout),
		log:     log,
	}
}

// SetTokens replaces the stored token pair.
func (c *Client) SetTokens(t models.TokenPair) {
	c.mu.Lock()
	c.tokens = t
	c.mu.Unlock()
}

// AccessToken returns the current access token, for websocket URLs.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens.Access
}

func (c *Client) refreshToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens.Refresh
}

// ==========================
// Auth
// ==========================

// Login signs in and stores the returned token pair.
func (c *Client) Login(ctx context.Context, creds models.Credentials) (*models.LoginResponse, error) {
	var resp models.LoginResponse
	if err := c.do(ctx, nethttp.MethodPost, "/api/login/", creds, &resp); err != nil {
		if st := backendStatus(err); st == nethttp.StatusUnauthorized || st == nethttp.StatusBadRequest {
			return nil, errors.NewAuthFailedError(fmt.Sprintf("login rejected for %q", creds.Username))
		}
		return nil, err
	}
	c.SetTokens(models.TokenPair{Access: resp.Access, Refresh: resp.Refresh})
	return &resp, nil
}

// Signup registers a new account.
func (c *Client) Signup(ctx context.Context, req models.SignupRequest) error {
	return c.do(ctx, nethttp.MethodPost, "/api/signup/", req, nil)
}

// Logout invalidates the refresh token on the backend and clears the
// stored pair.
func (c *Client) Logout(ctx context.Context) error {
	body := map[string]string{"refresh": c.refreshToken()}
	err := c.do(ctx, nethttp.MethodPost, "/api/logout/", body, nil)
	c.SetTokens(models.TokenPair{})
	return err
}

// Refresh exchanges the refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context) (*models.TokenPair, error) {
	body := map[string]string{"refresh": c.refreshToken()}
	var pair models.TokenPair
	if err := c.do(ctx, nethttp.MethodPost, "/api/token/refresh/", body, &pair); err != nil {
		if backendStatus(err) == nethttp.StatusUnauthorized {
			return nil, errors.NewAuthFailedError("refresh token rejected")
		}
		return nil, err
	}
	if pair.Refresh == "" {
		pair.Refresh = c.refreshToken()
	}
	c.SetTokens(pair)
	return &pair, nil
}

// Profile fetches the signed-in account.
func (c *Client) Profile(ctx context.Context) (*models.Profile, error) {
	var p models.Profile
	if err := c.do(ctx, nethttp.MethodGet, "/api/profile/", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ProviderProfile fetches the provider record for the signed-in account.
// The provider id differs from the user id and scopes the provider feed.
func (c *Client) ProviderProfile(ctx context.Context) (*models.ProviderProfile, error) {
	var p models.ProviderProfile
	if err := c.do(ctx, nethttp.MethodGet, "/api/provider/profile/", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ==========================
// Notifications
// ==========================

func (c *Client) ListNotifications(ctx context.Context) ([]models.Notification, error) {
	var out []models.Notification
	if err := c.do(ctx, nethttp.MethodGet, "/api/notifications/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id int64) error {
	return c.do(ctx, nethttp.MethodPost, fmt.Sprintf("/api/notifications/%d/read/", id), nil, nil)
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, nethttp.MethodPost, "/api/notifications/mark-all-read/", nil, nil)
}

// ==========================
// Service requests
// ==========================

// CreateServiceRequest validates and submits a new service request.
func (c *Client) CreateServiceRequest(ctx context.Context, req models.CreateServiceRequest) (*models.ServiceRequest, error) {
	payload, err := toMap(req)
	if err != nil {
		return nil, errors.NewValidationFailedError(err.Error())
	}
	if err := validation.ValidateServiceRequest(payload); err != nil {
		return nil, err
	}

	var sr models.ServiceRequest
	if err := c.do(ctx, nethttp.MethodPost, "/api/service-requests/", req, &sr); err != nil {
		return nil, err
	}
	return &sr, nil
}

func (c *Client) CancelServiceRequest(ctx context.Context, id int64) error {
	return c.do(ctx, nethttp.MethodPost, fmt.Sprintf("/api/service-requests/%d/cancel/", id), nil, nil)
}

func (c *Client) AcceptServiceRequest(ctx context.Context, id int64) error {
	return c.do(ctx, nethttp.MethodPost, fmt.Sprintf("/api/provider/requests/%d/accept/", id), nil, nil)
}

func (c *Client) RejectServiceRequest(ctx context.Context, id int64) error {
	return c.do(ctx, nethttp.MethodPost, fmt.Sprintf("/api/provider/requests/%d/reject/", id), nil, nil)
}

func (c *Client) CompleteServiceRequest(ctx context.Context, id int64) error {
	return c.do(ctx, nethttp.MethodPost, fmt.Sprintf("/api/provider/requests/%d/complete/", id), nil, nil)
}

func (c *Client) ServiceRequestStatus(ctx context.Context, id int64) (*models.ServiceRequest, error) {
	var sr models.ServiceRequest
	if err := c.do(ctx, nethttp.MethodGet, fmt.Sprintf("/api/service-requests/%d/status/", id), nil, &sr); err != nil {
		return nil, err
	}
	return &sr, nil
}

// IncomingRequests lists pending requests addressed to the signed-in
// provider.
func (c *Client) IncomingRequests(ctx context.Context) ([]models.ServiceRequest, error) {
	var out []models.ServiceRequest
	if err := c.do(ctx, nethttp.MethodGet, "/api/provider/requests/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ==========================
// Providers and categories
// ==========================

func (c *Client) ListProviders(ctx context.Context, categoryID int64) ([]models.ProviderListing, error) {
	path := "/api/providers/"
	if categoryID > 0 {
		path += "?category=" + url.QueryEscape(fmt.Sprintf("%d", categoryID))
	}
	var out []models.ProviderListing
	if err := c.do(ctx, nethttp.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ProviderDetail(ctx context.Context, id int64) (*models.ProviderProfile, error) {
	var p models.ProviderProfile
	if err := c.do(ctx, nethttp.MethodGet, fmt.Sprintf("/api/provider/%d/", id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) ServiceCategories(ctx context.Context) ([]models.ServiceCategory, error) {
	var out []models.ServiceCategory
	if err := c.do(ctx, nethttp.MethodGet, "/api/provider/service-categories/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ==========================
// Reviews
// ==========================

func (c *Client) CreateReview(ctx context.Context, r models.Review) error {
	return c.do(ctx, nethttp.MethodPost, "/api/review/create/", r, nil)
}

func (c *Client) ProviderReviews(ctx context.Context, providerID int64) ([]models.Review, error) {
	var out []models.Review
	if err := c.do(ctx, nethttp.MethodGet, fmt.Sprintf("/api/review/provider/%d/", providerID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) LatestReviews(ctx context.Context) ([]models.Review, error) {
	var out []models.Review
	if err := c.do(ctx, nethttp.MethodGet, "/api/review/latest/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ==========================
// Webinars
// ==========================

func (c *Client) ListWebinars(ctx context.Context) ([]models.Webinar, error) {
	var out []models.Webinar
	if err := c.do(ctx, nethttp.MethodGet, "/api/webinars/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) WebinarDetail(ctx context.Context, id int64) (*models.Webinar, error) {
	var w models.Webinar
	if err := c.do(ctx, nethttp.MethodGet, fmt.Sprintf("/api/webinars/%d/", id), nil, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (c *Client) RegisterWebinar(ctx context.Context, id int64) error {
	return c.do(ctx, nethttp.MethodPost, fmt.Sprintf("/api/webinars/%d/register/", id), nil, nil)
}

func (c *Client) RegisteredWebinars(ctx context.Context) ([]models.Webinar, error) {
	var out []models.Webinar
	if err := c.do(ctx, nethttp.MethodGet, "/api/webinars/registered/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ==========================
// Chat
// ==========================

// StartChat creates (or returns) the chat room for a service request.
func (c *Client) StartChat(ctx context.Context, serviceRequestID int64) (*models.ChatRoom, error) {
	var room models.ChatRoom
	if err := c.do(ctx, nethttp.MethodPost, fmt.Sprintf("/api/chat/start/%d/", serviceRequestID), nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *Client) ChatRoomDetail(ctx context.Context, roomID int64) (*models.ChatRoom, error) {
	var room models.ChatRoom
	if err := c.do(ctx, nethttp.MethodGet, fmt.Sprintf("/api/chat/%d/", roomID), nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// ==========================
// Transport plumbing
// ==========================

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.NewValidationFailedError(err.Error())
		}
		reader = bytes.NewReader(data)
	}

	req, err := nethttp.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return errors.NewBackendUnreachableError(path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := c.AccessToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.DoWithContext(ctx, req)
	if err != nil {
		return errors.NewBackendUnreachableError(path, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.NewBackendError(path, resp.StatusCode, string(data))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return errors.NewBackendError(path, resp.StatusCode, "unparseable response body: "+err.Error())
		}
	}
	return nil
}

func backendStatus(err error) int {
	var se *errors.StandardError
	if !stderrors.As(err, &se) {
		return 0
	}
	if st, ok := se.Metadata["status"].(int); ok {
		return st
	}
	return 0
}

func toMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
