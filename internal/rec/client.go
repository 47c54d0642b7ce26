// Package rec implements the client for the Rec cloud storage HTTP API:
// encrypted login with token caching, authenticated listing, download URL
// issuance, ticketed chunk uploads and the file management operations, plus
// the virtual filesystem that maps user paths onto Rec object ids.
package rec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/reclabs/recbridge/internal/config"
	"github.com/reclabs/recbridge/internal/constants"
	encryption "github.com/reclabs/recbridge/internal/crypto"
	rechttp "github.com/reclabs/recbridge/internal/http"
	"github.com/reclabs/recbridge/internal/logging"
	"github.com/reclabs/recbridge/internal/models"
)

const authTokenHeader = "X-auth-token"

// retryLogger silences retryablehttp's chatter into zerolog.
type retryLogger struct {
	log *logging.Logger
}

func (l *retryLogger) Error(msg string, kv ...interface{}) { l.log.Error().Msgf("%s %v", msg, kv) }
func (l *retryLogger) Warn(msg string, kv ...interface{})  { l.log.Warn().Msgf("%s %v", msg, kv) }
func (l *retryLogger) Info(string, ...interface{})         {}
func (l *retryLogger) Debug(string, ...interface{})        {}

// Client talks JSON over HTTPS to the Rec API with header token auth.
// API calls carry a 30 s request timeout and transport-level retries; the
// chunk PUTs of an upload go through the unbounded stream client instead.
type Client struct {
	baseURL string
	http    *nethttp.Client
	stream  *nethttp.Client
	log     *logging.Logger

	mu           sync.Mutex
	account      string
	password     string
	authToken    string
	refreshToken string
	user         models.User
}

// NewClient creates a client for the given API endpoint. No credentials are
// attached yet; call LoginWithCache or RestoreTokens before authenticated
// calls.
func NewClient(baseURL string, log *logging.Logger) *Client {
	if log == nil {
		log = logging.NewServerLogger("rec-api")
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = &nethttp.Client{Timeout: constants.APIRequestTimeout}
	retryClient.RetryMax = constants.APIRetryMax
	retryClient.RetryWaitMin = constants.APIRetryWaitMin
	retryClient.RetryWaitMax = constants.APIRetryWaitMax
	retryClient.Logger = &retryLogger{log: log.Child("retry")}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    retryClient.StandardClient(),
		stream:  rechttp.NewStreamClient(),
		log:     log,
	}
}

// StreamClient returns the HTTP client used for raw byte streams. The
// transfer workers share it for ranged downloads.
func (c *Client) StreamClient() *nethttp.Client {
	return c.stream
}

// User returns the identity established by login.
func (c *Client) User() models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// Account returns the account the client is logged in as.
func (c *Client) Account() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account
}

// envelope is the uniform Rec API response wrapper.
type envelope struct {
	Entity     json.RawMessage `json:"entity"`
	Message    string          `json:"message"`
	StatusCode int             `json:"status_code"`
}

// apiError is a non-200 envelope from the Rec API.
type apiError struct {
	Code    int
	Message string
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rec api error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("rec api error %d", e.Code)
}

// IsAuthError reports whether err is the API telling us the token expired.
func IsAuthError(err error) bool {
	var ae *apiError
	if ok := asAPIError(err, &ae); ok {
		return ae.Code == nethttp.StatusUnauthorized
	}
	return false
}

func asAPIError(err error, target **apiError) bool {
	for err != nil {
		if ae, ok := err.(*apiError); ok {
			*target = ae
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// LoginWithCache establishes authentication for account, preferring the
// on-disk token cache and falling back to a full encrypted login. The
// password is retained for transparent re-login when a refresh fails.
func (c *Client) LoginWithCache(ctx context.Context, account, password string) (models.User, error) {
	c.mu.Lock()
	c.account = account
	c.password = password
	c.mu.Unlock()

	if cached, err := config.LoadTokens(account); err == nil && cached != nil {
		c.mu.Lock()
		c.authToken = cached.AuthToken
		c.refreshToken = cached.RefreshToken
		c.user = models.User{UserID: cached.UserID, Username: cached.Username, RealName: cached.RealName}
		c.mu.Unlock()

		// Probe the cached token; an expired one falls through to login.
		if user, err := c.Whoami(ctx); err == nil {
			c.log.Debug().Str("account", account).Msg("reusing cached tokens")
			return user, nil
		}
	}

	return c.login(ctx)
}

// login performs the encrypted credential exchange: fetch a tempticket,
// AES-encrypt the credential payload, sign it against the ticket and trade
// the pair for auth and refresh tokens.
func (c *Client) login(ctx context.Context) (models.User, error) {
	c.mu.Lock()
	account, password := c.account, c.password
	c.mu.Unlock()
	if account == "" {
		return models.User{}, fmt.Errorf("no account configured")
	}

	var ticket struct {
		TempTicket string `json:"tempticket"`
	}
	if err := c.doPublic(ctx, nethttp.MethodGet, "/client/tempticket", nil, nil, &ticket); err != nil {
		return models.User{}, fmt.Errorf("failed to get tempticket: %w", err)
	}

	payload, err := json.Marshal(map[string]string{
		"username": account,
		"password": password,
		"device":   "recbridge",
	})
	if err != nil {
		return models.User{}, fmt.Errorf("failed to encode login payload: %w", err)
	}

	encrypted, err := encryption.EncryptLogin(payload)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to encrypt login payload: %w", err)
	}

	body := map[string]string{
		"encrypted_data": encrypted,
		"sign":           encryption.SignTempTicket(ticket.TempTicket, payload),
		"tempticket":     ticket.TempTicket,
	}

	var result struct {
		AuthToken    string `json:"x_auth_token"`
		RefreshToken string `json:"refresh_token"`
		UserID       string `json:"user_number"`
		Username     string `json:"username"`
		RealName     string `json:"real_name"`
		Email        string `json:"email"`
	}
	if err := c.doPublic(ctx, nethttp.MethodPost, "/client/login", nil, body, &result); err != nil {
		return models.User{}, fmt.Errorf("login failed: %w", err)
	}

	user := models.User{
		UserID:   result.UserID,
		Username: result.Username,
		RealName: result.RealName,
		Email:    result.Email,
	}

	c.mu.Lock()
	c.authToken = result.AuthToken
	c.refreshToken = result.RefreshToken
	c.user = user
	c.mu.Unlock()

	if err := config.SaveTokens(&config.Tokens{
		Account:      account,
		AuthToken:    result.AuthToken,
		RefreshToken: result.RefreshToken,
		UserID:       result.UserID,
		Username:     result.Username,
		RealName:     result.RealName,
	}); err != nil {
		c.log.Warn().Err(err).Msg("failed to cache tokens")
	}

	c.log.Info().Str("account", account).Msg("logged in to rec")
	return user, nil
}

// refresh trades the refresh token for a fresh auth token, falling back to
// a full re-login when the refresh itself is rejected.
func (c *Client) refresh(ctx context.Context) error {
	c.mu.Lock()
	refreshToken := c.refreshToken
	account := c.account
	c.mu.Unlock()

	if refreshToken != "" {
		var result struct {
			AuthToken    string `json:"x_auth_token"`
			RefreshToken string `json:"refresh_token"`
		}
		err := c.doPublic(ctx, nethttp.MethodPost, "/client/refresh", nil,
			map[string]string{"refresh_token": refreshToken}, &result)
		if err == nil {
			c.mu.Lock()
			c.authToken = result.AuthToken
			if result.RefreshToken != "" {
				c.refreshToken = result.RefreshToken
			}
			user := c.user
			c.mu.Unlock()

			_ = config.SaveTokens(&config.Tokens{
				Account:      account,
				AuthToken:    result.AuthToken,
				RefreshToken: result.RefreshToken,
				UserID:       user.UserID,
				Username:     user.Username,
				RealName:     user.RealName,
			})
			return nil
		}
		c.log.Warn().Err(err).Msg("token refresh rejected, re-logging in")
	}

	_, err := c.login(ctx)
	return err
}

// Logout drops the cached credentials for the current account.
func (c *Client) Logout() error {
	c.mu.Lock()
	account := c.account
	c.authToken = ""
	c.refreshToken = ""
	c.mu.Unlock()
	if account == "" {
		return nil
	}
	return config.DeleteTokens(account)
}

// do performs an authenticated JSON request, transparently refreshing the
// token and retrying once on a 401.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	err := c.doOnce(ctx, method, path, query, body, out, true)
	if err != nil && IsAuthError(err) {
		c.log.Debug().Str("path", path).Msg("auth token expired, refreshing")
		if rerr := c.refresh(ctx); rerr != nil {
			return fmt.Errorf("token refresh failed: %w", rerr)
		}
		err = c.doOnce(ctx, method, path, query, body, out, true)
	}
	return err
}

// doPublic performs an unauthenticated JSON request (login flow).
func (c *Client) doPublic(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	return c.doOnce(ctx, method, path, query, body, out, false)
}

func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, body, out interface{}, authed bool) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := nethttp.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		c.mu.Lock()
		token := c.authToken
		c.mu.Unlock()
		if token == "" {
			return &apiError{Code: nethttp.StatusUnauthorized, Message: "not logged in"}
		}
		req.Header.Set(authTokenHeader, token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response for %s: %w", path, err)
	}
	c.log.Debug().Str("method", method).Str("path", path).
		Int("status", resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("api call")

	if resp.StatusCode == nethttp.StatusUnauthorized {
		return &apiError{Code: nethttp.StatusUnauthorized, Message: "unauthorized"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiError{Code: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("malformed response for %s: %w", path, err)
	}
	if env.StatusCode != 0 && env.StatusCode != nethttp.StatusOK {
		return &apiError{Code: env.StatusCode, Message: env.Message}
	}
	if out != nil && len(env.Entity) > 0 {
		if err := json.Unmarshal(env.Entity, out); err != nil {
			return fmt.Errorf("malformed entity for %s: %w", path, err)
		}
	}
	return nil
}

// Whoami fetches the identity bound to the current token.
func (c *Client) Whoami(ctx context.Context) (models.User, error) {
	var result struct {
		UserID   string `json:"user_number"`
		Username string `json:"username"`
		RealName string `json:"real_name"`
		Email    string `json:"email"`
	}
	if err := c.do(ctx, nethttp.MethodGet, "/user/info", nil, nil, &result); err != nil {
		return models.User{}, err
	}
	user := models.User{
		UserID:   result.UserID,
		Username: result.Username,
		RealName: result.RealName,
		Email:    result.Email,
	}
	c.mu.Lock()
	c.user = user
	c.mu.Unlock()
	return user, nil
}
