package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/odatalink/odatalink/internal/auth/oauth2"
	"github.com/odatalink/odatalink/internal/cache"
	"github.com/odatalink/odatalink/internal/config"
	"github.com/odatalink/odatalink/internal/logging"
	"github.com/odatalink/odatalink/internal/odp"
	"github.com/odatalink/odatalink/internal/store"
	"github.com/odatalink/odatalink/internal/transport"
	log "github.com/sirupsen/logrus"
)

// newHTTPClient creates the outbound client for token and OData calls, wrapped
// with the exchange logger when request logging is enabled.
func newHTTPClient(cfg *config.Config) transport.Client {
	base := transport.NewHTTPClient(cfg.ProxyURL, cfg.RequestTimeout)
	logger := logging.NewFileRequestLogger(cfg.RequestLog, logging.ResolveLogDirectory(cfg))
	return transport.WithRequestLogging(base, logger)
}

// newFlow creates an OAuth2 flow bound to the configured client registration.
func newFlow(cfg *config.Config, client transport.Client, opts ...oauth2.FlowOption) (*oauth2.Flow, error) {
	oauthCfg := cfg.OAuth2
	base := []oauth2.FlowOption{
		oauth2.WithHTTPClient(client),
		oauth2.WithRequestTimeout(cfg.RequestTimeout),
	}
	return oauth2.NewFlow(&oauthCfg, append(base, opts...)...)
}

// tokenFileName returns the name the login command stores tokens for cfg under.
func tokenFileName(cfg *config.Config) string {
	return oauth2.CredentialFileName(cfg.OAuth2.TenantName, cfg.OAuth2.ClientID)
}

// newOrchestrator builds an ODP orchestrator. When the token store holds tokens
// from a previous login, requests are authenticated and refreshed through the
// OAuth2 flow; otherwise they are sent anonymously.
func newOrchestrator(ctx context.Context, cfg *config.Config) (*odp.Orchestrator, error) {
	client := newHTTPClient(cfg)
	var opts []odp.FactoryOption

	tokenStore := store.GetTokenStore(cfg.AuthDir)
	path := filepath.Join(tokenStore.AuthDir(), tokenFileName(cfg))
	tokens, err := tokenStore.Load(ctx, tokenFileName(cfg))
	switch {
	case err == nil:
		flow, errFlow := newFlow(cfg, client)
		if errFlow != nil {
			return nil, errFlow
		}
		opts = append(opts, odp.WithTokenSource(flow.TokenSource(ctx, tokens, saveRefreshed(tokenStore, tokenFileName(cfg)))))
		log.Debugf("using tokens from %s", path)
	case errors.Is(err, os.ErrNotExist):
		log.Debugf("no token file at %s, sending unauthenticated requests", path)
	default:
		return nil, err
	}

	factory := odp.NewRequestFactoryFromConfig(cfg.ODP, opts...)
	orchestrator := odp.NewOrchestrator(factory, client, cfg.RequestTimeout)
	orchestrator.SetTokenCache(cache.NewDeltaTokenCache(0))
	return orchestrator, nil
}

// saveRefreshed writes refreshed tokens back so a rotated refresh token survives
// the next run.
func saveRefreshed(tokenStore store.TokenStore, name string) func(context.Context, *oauth2.Tokens) error {
	return func(ctx context.Context, tokens *oauth2.Tokens) error {
		path, err := tokenStore.Save(ctx, name, tokens)
		if err != nil {
			return err
		}
		log.Debugf("refreshed tokens saved to %s", path)
		return nil
	}
}

// defaultPrompt reads one trimmed line from stdin.
func defaultPrompt() func(string) (string, error) {
	reader := bufio.NewReader(os.Stdin)
	return func(prompt string) (string, error) {
		fmt.Print(prompt)
		value, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(value), nil
	}
}
