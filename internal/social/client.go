// Package social posts store and product announcements to the social
// platform on behalf of the shop.
//
// Authorization uses OAuth2 authorization code with PKCE, in two legs that
// happen in two different requests:
//
//	Begin  → returns the provider URL and a Pending value
//	         (state + verifier) the caller must keep, in the session
//	Finish → checks the callback's state against Pending, exchanges
//	         code + verifier for a token pair and stores it
//
// The Client itself keeps no per-attempt state. The stored token is shared:
// there is one connected account for the whole shop, not one per vendor.
//
// Posting never refreshes a token behind the caller's back. Refresh and
// EnsureFresh are explicit so that a revoked grant surfaces as a reconnect
// prompt instead of a mystery failure.
package social

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/auth"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/repository"
)

// ProviderName keys the shared token row.
const ProviderName = "x"

// expiryLeeway treats a token as expired slightly early.
const expiryLeeway = 30 * time.Second

// maxBody caps how much of any provider response is read.
const maxBody = 1 << 20

// Config is the client's slice of the application settings.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	AuthURL      string
	TokenURL     string
	APIBaseURL   string
	UploadURL    string
	Timeout      time.Duration
}

// State names where an authorization attempt stands.
type State int

const (
	Unauthenticated State = iota
	AuthorizationRequested
	CallbackReceived
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case AuthorizationRequested:
		return "authorization_requested"
	case CallbackReceived:
		return "callback_received"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome maps the result of Finish onto the final state.
func Outcome(err error) State {
	if err != nil {
		return Failed
	}
	return Connected
}

// Pending is the correlation data between Begin and Finish. Next is where
// to send the vendor once the attempt completes.
type Pending struct {
	State    string `json:"state"`
	Verifier string `json:"verifier"`
	Next     string `json:"next,omitempty"`
}

// Connection describes the stored credential.
type Connection struct {
	State     State     `json:"-"`
	Connected bool      `json:"connected"`
	Expired   bool      `json:"expired"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
	Scope     string    `json:"scope,omitempty"`
}

// Client talks to the provider's OAuth and posting endpoints.
type Client struct {
	cfg     Config
	oauth   *oauth2.Config
	http    *http.Client
	breaker *breakerTransport
	tokens  repository.OAuthTokenRepository
	logger  *slog.Logger
	now     func() time.Time
}

// NewClient builds a client whose every outbound call goes through one
// http.Client with cfg.Timeout and a circuit breaker.
func NewClient(cfg Config, tokens repository.OAuthTokenRepository, logger *slog.Logger) *Client {
	return newClient(cfg, tokens, logger, http.DefaultTransport, DefaultBreakerConfig("social"))
}

func newClient(cfg Config, tokens repository.OAuthTokenRepository, logger *slog.Logger, base http.RoundTripper, bc BreakerConfig) *Client {
	authStyle := oauth2.AuthStyleInParams
	if cfg.ClientSecret != "" {
		authStyle = oauth2.AuthStyleInHeader
	}
	breaker := newBreakerTransport(base, bc, logger)

	return &Client{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: authStyle,
			},
		},
		http:    &http.Client{Timeout: cfg.Timeout, Transport: breaker},
		breaker: breaker,
		tokens:  tokens,
		logger:  logger,
		now:     time.Now,
	}
}

// oauthContext makes x/oauth2 use our timeout and breaker.
func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// Begin starts an authorization attempt. The caller must keep the returned
// Pending until the callback arrives.
func (c *Client) Begin() (Pending, string, error) {
	state, err := auth.NewSecret()
	if err != nil {
		return Pending{}, "", fmt.Errorf("social: generating state: %w", err)
	}
	verifier := auth.NewVerifier()

	authURL := c.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	return Pending{State: state, Verifier: verifier}, authURL, nil
}

// Finish completes the attempt from the provider's redirect. The checks run
// in a fixed order: state first, so a forged callback learns nothing, then
// the provider's own error, then the code.
func (c *Client) Finish(ctx context.Context, callbackURL string, pending Pending) error {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return &ProviderError{Code: "invalid_request", Description: "malformed callback URL"}
	}
	q := u.Query()

	if !auth.SecretsEqual(q.Get("state"), pending.State) {
		return ErrStateMismatch
	}
	if code := q.Get("error"); code != "" {
		return &ProviderError{Code: code, Description: q.Get("error_description")}
	}
	code := q.Get("code")
	if code == "" {
		return &ProviderError{Code: "invalid_request", Description: "callback is missing the authorization code"}
	}

	tok, err := c.oauth.Exchange(c.oauthContext(ctx), code, oauth2.VerifierOption(pending.Verifier))
	if err != nil {
		return classify("token exchange", err)
	}

	if err := c.save(ctx, tok, ""); err != nil {
		return err
	}
	c.logger.Info("social account connected", slog.String("provider", ProviderName))
	return nil
}

// Status reports whether a token is stored and whether it has expired.
func (c *Client) Status(ctx context.Context) (Connection, error) {
	tok, err := c.Token(ctx)
	if errors.Is(err, ErrNotConnected) {
		return Connection{State: Unauthenticated}, nil
	}
	if err != nil {
		return Connection{}, err
	}
	return Connection{
		State:     Connected,
		Connected: true,
		Expired:   tok.Expired(c.now(), 0),
		ExpiresAt: tok.ExpiresAt,
		Scope:     tok.Scope,
	}, nil
}

// Token returns the stored token, or ErrNotConnected.
func (c *Client) Token(ctx context.Context) (*model.OAuthToken, error) {
	tok, err := c.tokens.GetOAuthToken(ctx, ProviderName)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, ErrNotConnected
		}
		return nil, fmt.Errorf("social: loading token: %w", err)
	}
	return tok, nil
}

// Disconnect forgets the stored token.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.tokens.DeleteOAuthToken(ctx, ProviderName)
}

// Refresh trades the stored refresh token for a new pair and stores it.
func (c *Client) Refresh(ctx context.Context) (*model.OAuthToken, error) {
	cur, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}
	if cur.RefreshToken == "" {
		return nil, &RefreshError{Err: ErrReconnectRequired}
	}

	src := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: cur.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, &RefreshError{Err: classify("token refresh", err)}
	}

	if err := c.save(ctx, tok, cur.RefreshToken); err != nil {
		return nil, err
	}
	c.logger.Info("social token refreshed", slog.String("provider", ProviderName))
	return c.Token(ctx)
}

// EnsureFresh returns the stored token, refreshing it first when it is
// within expiryLeeway of expiring.
func (c *Client) EnsureFresh(ctx context.Context) (*model.OAuthToken, error) {
	tok, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}
	if !tok.Expired(c.now(), expiryLeeway) {
		return tok, nil
	}
	return c.Refresh(ctx)
}

// save stores tok. previousRefresh is kept when the provider did not
// rotate the refresh token.
func (c *Client) save(ctx context.Context, tok *oauth2.Token, previousRefresh string) error {
	rec := &model.OAuthToken{
		Provider:     ProviderName,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
	}
	if rec.RefreshToken == "" {
		rec.RefreshToken = previousRefresh
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		rec.Scope = scope
	}
	if err := c.tokens.SaveOAuthToken(ctx, rec); err != nil {
		return fmt.Errorf("social: saving token: %w", err)
	}
	return nil
}

type postRequest struct {
	Text  string     `json:"text"`
	Media *postMedia `json:"media,omitempty"`
}

type postMedia struct {
	MediaIDs []string `json:"media_ids"`
}

// PostStatus publishes text, with optional media, and returns the post ID.
// It uses the stored token as is: an expired token comes back as a
// *ProviderError that NeedsReconnect or calls for a Refresh.
func (c *Client) PostStatus(ctx context.Context, text string, mediaIDs []string) (string, error) {
	tok, err := c.Token(ctx)
	if err != nil {
		return "", err
	}

	body := postRequest{Text: text}
	if len(mediaIDs) > 0 {
		body.Media = &postMedia{MediaIDs: mediaIDs}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("social: encoding post: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.APIBaseURL, "/") + "/2/tweets"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("social: building post request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, err := c.do(req, tok, "post status")
	if err != nil {
		return "", err
	}

	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil || created.Data.ID == "" {
		return "", &ProviderError{Status: http.StatusOK, Code: "invalid_response", Description: "post ID missing from response", Body: truncate(string(respBody), maxErrorBody)}
	}
	return created.Data.ID, nil
}

// UploadMedia sends one file and returns the media ID to attach to a post.
func (c *Client) UploadMedia(ctx context.Context, filename string, r io.Reader) (string, error) {
	tok, err := c.Token(ctx)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("media", filename)
	if err != nil {
		return "", fmt.Errorf("social: building upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("social: reading media: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("social: building upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.UploadURL, &buf)
	if err != nil {
		return "", fmt.Errorf("social: building upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	respBody, err := c.do(req, tok, "upload media")
	if err != nil {
		return "", err
	}

	var uploaded struct {
		MediaIDString string `json:"media_id_string"`
		Data          struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &uploaded); err == nil {
		if id := firstNonEmpty(uploaded.MediaIDString, uploaded.Data.ID); id != "" {
			return id, nil
		}
	}
	return "", &ProviderError{Status: http.StatusOK, Code: "invalid_response", Description: "media ID missing from response", Body: truncate(string(respBody), maxErrorBody)}
}

// do sends an authenticated API request and returns the body of a 2xx answer.
func (c *Client) do(req *http.Request, tok *model.OAuthToken, op string) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseProviderError(resp.StatusCode, body)
	}
	return body, nil
}

// classify turns an x/oauth2 error into a ProviderError when the provider
// answered, and a NetworkError when it didn't.
func classify(op string, err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return &NetworkError{Op: op, Err: err}
	}

	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}
	pe := parseProviderError(status, re.Body)
	if re.ErrorCode != "" {
		pe.Code = re.ErrorCode
		pe.Description = re.ErrorDescription
	}
	return pe
}
