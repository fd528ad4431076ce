// Package cmd implements the command-line operations of odatalink: the OAuth2
// login, ODP delta extraction and Datasphere $apply rendering.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/odatalink/odatalink/internal/auth/oauth2"
	"github.com/odatalink/odatalink/internal/config"
	"github.com/odatalink/odatalink/internal/misc"
	"github.com/odatalink/odatalink/internal/store"
	log "github.com/sirupsen/logrus"
)

// LoginOptions contains options for the login command.
type LoginOptions struct {
	// NoBrowser indicates whether to skip opening the browser automatically.
	NoBrowser bool

	// CallbackPort overrides the local OAuth callback port when set (>0).
	CallbackPort int

	// Prompt allows the caller to provide interactive input when needed.
	Prompt func(prompt string) (string, error)
}

// DoLogin runs the authorization-code flow with PKCE against the configured
// identity provider and saves the tokens to the auth directory.
// Failures exit non-zero; a busy callback port uses ErrPortInUse.Code.
func DoLogin(cfg *config.Config, options *LoginOptions) {
	savedPath, err := runLogin(context.Background(), cfg, options)
	if err != nil {
		var authErr *oauth2.AuthenticationError
		if errors.As(err, &authErr) {
			log.Error(oauth2.GetUserFriendlyMessage(authErr))
		} else {
			fmt.Printf("OAuth2 authentication failed: %v\n", err)
		}
		exitFunc(exitCode(err))
		return
	}

	fmt.Printf("Authentication saved to %s\n", savedPath)
	fmt.Println("OAuth2 authentication successful!")
}

func runLogin(ctx context.Context, cfg *config.Config, options *LoginOptions, flowOpts ...oauth2.FlowOption) (string, error) {
	if options == nil {
		options = &LoginOptions{}
	}
	promptFn := options.Prompt
	if promptFn == nil {
		promptFn = defaultPrompt()
	}
	if options.CallbackPort > 0 {
		cfg.OAuth2.CallbackPort = options.CallbackPort
	}

	flow, err := newFlow(cfg, newHTTPClient(cfg), flowOpts...)
	if err != nil {
		return "", err
	}
	tokens, err := flow.Run(ctx, &oauth2.LoginOptions{
		NoBrowser: options.NoBrowser,
		Prompt:    promptFn,
	})
	if err != nil {
		return "", err
	}

	path, err := store.GetTokenStore(cfg.AuthDir).Save(ctx, tokenFileName(cfg), tokens)
	if err != nil {
		return "", fmt.Errorf("failed to save tokens: %w", err)
	}
	misc.LogCredentialSeparator()
	return path, nil
}
