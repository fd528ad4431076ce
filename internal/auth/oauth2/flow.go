package oauth2

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/odatalink/odatalink/internal/browser"
	"github.com/odatalink/odatalink/internal/config"
	"github.com/odatalink/odatalink/internal/misc"
	"github.com/odatalink/odatalink/internal/transport"
	"github.com/odatalink/odatalink/internal/util"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// defaultManualPromptDelay is how long Run waits for the browser redirect before
// offering to read a pasted callback URL.
const defaultManualPromptDelay = 15 * time.Second

// LoginOptions tunes the interactive part of Run.
type LoginOptions struct {
	// NoBrowser prints the authorization URL instead of launching a browser.
	NoBrowser bool
	// Prompt, when set, is used to ask for a pasted redirect URL if the callback
	// has not arrived after ManualPromptDelay.
	Prompt            func(prompt string) (string, error)
	ManualPromptDelay time.Duration
}

// Flow drives the authorization-code grant with PKCE for one client registration.
// A Flow may run many attempts; each attempt generates fresh PKCE material and state.
type Flow struct {
	cfg            *config.OAuth2Config
	client         transport.Client
	opener         browser.Opener
	out            io.Writer
	requestTimeout time.Duration
	now            func() time.Time

	refreshGroup singleflight.Group
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithHTTPClient sets the client used for token endpoint calls.
func WithHTTPClient(client transport.Client) FlowOption {
	return func(f *Flow) { f.client = client }
}

// WithOpener replaces the system browser launcher.
func WithOpener(opener browser.Opener) FlowOption {
	return func(f *Flow) { f.opener = opener }
}

// WithOutput sets where user-facing instructions are printed. Defaults to stdout.
func WithOutput(w io.Writer) FlowOption {
	return func(f *Flow) { f.out = w }
}

// WithRequestTimeout bounds each token endpoint call.
func WithRequestTimeout(timeout time.Duration) FlowOption {
	return func(f *Flow) { f.requestTimeout = timeout }
}

// NewFlow validates cfg and creates a flow. cfg must not be modified while the flow is in use.
func NewFlow(cfg *config.OAuth2Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, NewAuthenticationError(ErrConfiguration, fmt.Errorf("oauth2 configuration is required"))
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, NewAuthenticationError(ErrConfiguration, err)
	}
	f := &Flow{
		cfg:            cfg,
		opener:         browser.DefaultOpener{},
		out:            os.Stdout,
		requestTimeout: config.DefaultRequestTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = transport.NewHTTPClient("", f.requestTimeout)
	}
	return f, nil
}

// oauth2Config maps the client settings onto golang.org/x/oauth2.
func (f *Flow) oauth2Config(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     f.cfg.ClientID,
		ClientSecret: f.cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       strings.Fields(f.cfg.Scope),
		Endpoint: oauth2.Endpoint{
			AuthURL:   f.cfg.AuthorizationEndpoint(),
			TokenURL:  f.cfg.TokenEndpoint(),
			AuthStyle: f.cfg.ClientType.AuthStyle(),
		},
	}
}

// BuildAuthorizationURL returns the authorization endpoint URL carrying
// response_type=code, client_id, redirect_uri, scope, state and the S256 challenge.
func (f *Flow) BuildAuthorizationURL(state string, codes *PKCECodes) string {
	return f.buildAuthorizationURL(f.cfg.RedirectURI, state, codes)
}

func (f *Flow) buildAuthorizationURL(redirectURI, state string, codes *PKCECodes) string {
	return f.oauth2Config(redirectURI).AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", codes.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// Run performs one interactive login: it generates PKCE material and state,
// starts the callback listener, opens the browser, waits for the redirect and
// exchanges the code. Browser launch failures are not fatal.
func (f *Flow) Run(ctx context.Context, opts *LoginOptions) (*Tokens, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts == nil {
		opts = &LoginOptions{}
	}

	pkceCodes, err := GeneratePKCECodes()
	if err != nil {
		return nil, NewAuthenticationError(ErrPKCEGeneration, err)
	}
	state, err := GenerateState()
	if err != nil {
		return nil, NewAuthenticationError(ErrPKCEGeneration, err)
	}

	handler := NewCallbackHandler()
	handler.SetExpectedState(state)
	server := NewServer(ServerConfigFrom(f.cfg), handler)
	if err = server.Start(); err != nil {
		return nil, err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if errStop := server.Stop(stopCtx); errStop != nil {
			log.Warnf("oauth callback server stop error: %v", errStop)
		}
	}()

	redirectURI := effectiveRedirectURI(f.cfg.RedirectURI, server.Port())
	authURL := f.buildAuthorizationURL(redirectURI, state, pkceCodes)
	f.presentAuthorizationURL(authURL, server.Port(), opts.NoBrowser)

	_, _ = fmt.Fprintln(f.out, "Waiting for authentication callback...")
	code, err := f.awaitCode(ctx, server, opts)
	if err != nil {
		return nil, err
	}

	log.Debug("Authorization code received; exchanging for tokens")
	return f.exchangeCode(ctx, code, pkceCodes.CodeVerifier, redirectURI)
}

func (f *Flow) presentAuthorizationURL(authURL string, port int, noBrowser bool) {
	printURL := func() {
		_, _ = fmt.Fprintf(f.out, "Visit the following URL to continue authentication:\n%s\n", authURL)
	}
	if noBrowser {
		util.WriteSSHTunnelInstructions(f.out, "", port)
		printURL()
		return
	}
	_, _ = fmt.Fprintln(f.out, "Opening browser for authentication")
	if err := f.opener.Open(authURL); err != nil {
		log.Warnf("Failed to open browser automatically: %v", err)
		printURL()
		if errCopy := browser.CopyToClipboard(authURL); errCopy == nil {
			_, _ = fmt.Fprintln(f.out, "The URL has been copied to the clipboard.")
		} else {
			log.Debugf("clipboard unavailable: %v", errCopy)
		}
	}
}

// awaitCode waits for the listener and, when a prompt is configured, offers
// manual entry after a delay. A pasted URL goes through the same handler so
// state validation is identical.
func (f *Flow) awaitCode(ctx context.Context, server *Server, opts *LoginOptions) (string, error) {
	type outcome struct {
		code string
		err  error
	}
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	resultCh := make(chan outcome, 1)
	go func() {
		code, err := server.WaitForCode(waitCtx)
		resultCh <- outcome{code: code, err: err}
	}()

	var promptC <-chan time.Time
	if opts.Prompt != nil {
		delay := opts.ManualPromptDelay
		if delay <= 0 {
			delay = defaultManualPromptDelay
		}
		timer := time.NewTimer(delay)
		defer timer.Stop()
		promptC = timer.C
	}

	handler := server.CallbackHandler()
	for {
		select {
		case r := <-resultCh:
			return r.code, r.err
		case <-promptC:
			promptC = nil
			if handler.IsTerminal() {
				continue
			}
			input, errPrompt := opts.Prompt("Paste the callback URL (or press Enter to keep waiting): ")
			if errPrompt != nil {
				return "", errPrompt
			}
			parsed, errParse := misc.ParseOAuthCallback(input)
			if errParse != nil {
				return "", errParse
			}
			if parsed == nil {
				continue
			}
			if parsed.IsError() {
				handler.HandleError(parsed.Error, parsed.ErrorDescription, parsed.State)
			} else {
				handler.HandleCallback(parsed.Code, parsed.State)
			}
		}
	}
}

// ExchangeCode trades an authorization code for tokens using the configured redirect URI.
func (f *Flow) ExchangeCode(ctx context.Context, code, codeVerifier string) (*Tokens, error) {
	return f.exchangeCode(ctx, code, codeVerifier, f.cfg.RedirectURI)
}

func (f *Flow) exchangeCode(ctx context.Context, code, codeVerifier, redirectURI string) (*Tokens, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {codeVerifier},
	}
	tokens, err := f.postTokenRequest(ctx, form)
	if err != nil {
		return nil, NewAuthenticationError(ErrCodeExchangeFailed, err)
	}
	return tokens, nil
}

// RefreshTokens runs a refresh_token grant. Concurrent calls for the same
// refresh token share one request. A response without a new refresh token
// keeps the old one.
func (f *Flow) RefreshTokens(ctx context.Context, refreshToken string) (*Tokens, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, NewAuthenticationError(ErrRefreshFailed, fmt.Errorf("refresh token is empty"))
	}
	v, err, shared := f.refreshGroup.Do(refreshToken, func() (any, error) {
		form := url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {refreshToken},
		}
		if f.cfg.Scope != "" {
			form.Set("scope", f.cfg.Scope)
		}
		tokens, errPost := f.postTokenRequest(ctx, form)
		if errPost != nil {
			return nil, errPost
		}
		if tokens.RefreshToken == "" {
			tokens.RefreshToken = refreshToken
		}
		return tokens, nil
	})
	if err != nil {
		return nil, NewAuthenticationError(ErrRefreshFailed, err)
	}
	if shared {
		log.Debug("refresh token grant shared with a concurrent caller")
	}
	tokens := *v.(*Tokens)
	return &tokens, nil
}

// postTokenRequest sends form to the token endpoint. Pre-delivered clients
// authenticate with HTTP Basic only; custom clients send client_id and
// client_secret as form fields only.
func (f *Flow) postTokenRequest(ctx context.Context, form url.Values) (*Tokens, error) {
	req := transport.NewRequest(http.MethodPost, f.cfg.TokenEndpoint(), nil)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	switch f.cfg.ClientType.AuthStyle() {
	case oauth2.AuthStyleInHeader:
		creds := f.cfg.ClientID + ":" + f.cfg.ClientSecret
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(creds)))
	default:
		form.Set("client_id", f.cfg.ClientID)
		if f.cfg.ClientSecret != "" {
			form.Set("client_secret", f.cfg.ClientSecret)
		}
	}
	req.Body = []byte(form.Encode())

	resp, err := transport.SendWithTimeout(ctx, f.client, req, f.requestTimeout)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, tokenEndpointError(resp)
	}
	return ParseTokenResponse(resp.Body, f.now())
}

// tokenEndpointError turns a non-2xx token response into an OAuthError when the
// body follows RFC 6749 section 5.2, or a StatusError otherwise.
func tokenEndpointError(resp *transport.Response) error {
	if gjson.ValidBytes(resp.Body) {
		if code := gjson.GetBytes(resp.Body, "error").String(); code != "" {
			oauthErr := NewOAuthError(code, gjson.GetBytes(resp.Body, "error_description").String(), resp.StatusCode)
			oauthErr.URI = gjson.GetBytes(resp.Body, "error_uri").String()
			return oauthErr
		}
	}
	return transport.NewStatusError(resp)
}

// TokenSource returns an oauth2.TokenSource that serves tokens until they
// expire and then refreshes them through this flow. onRefresh, when set, is
// called with every refreshed token set so rotated refresh tokens can be
// persisted; its error is logged and does not fail the request.
func (f *Flow) TokenSource(ctx context.Context, tokens *Tokens, onRefresh func(context.Context, *Tokens) error) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(tokens.OAuth2Token(), &refreshingSource{
		ctx:          ctx,
		flow:         f,
		refreshToken: tokens.RefreshToken,
		onRefresh:    onRefresh,
	})
}

type refreshingSource struct {
	ctx          context.Context
	flow         *Flow
	refreshToken string
	onRefresh    func(context.Context, *Tokens) error
}

func (s *refreshingSource) Token() (*oauth2.Token, error) {
	tokens, err := s.flow.RefreshTokens(s.ctx, s.refreshToken)
	if err != nil {
		return nil, err
	}
	s.refreshToken = tokens.RefreshToken
	if s.onRefresh != nil {
		if errSave := s.onRefresh(s.ctx, tokens); errSave != nil {
			log.WithError(errSave).Warn("failed to persist refreshed tokens")
		}
	}
	return tokens.OAuth2Token(), nil
}

// effectiveRedirectURI substitutes the bound port into redirectURI when the
// configured port was 0 or differs from the listener.
func effectiveRedirectURI(redirectURI string, port int) string {
	parsed, err := url.Parse(redirectURI)
	if err != nil || port <= 0 {
		return redirectURI
	}
	if parsed.Port() == strconv.Itoa(port) {
		return redirectURI
	}
	if parsed.Port() == "" && util.DefaultPort(parsed.Scheme) == port {
		return redirectURI
	}
	parsed.Host = parsed.Hostname() + ":" + strconv.Itoa(port)
	return parsed.String()
}
