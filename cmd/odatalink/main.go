// Package main provides the odatalink command: OAuth2 login against an OData
// provider, ODP initial and delta extraction, and Datasphere $apply rendering.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/odatalink/odatalink/internal/buildinfo"
	"github.com/odatalink/odatalink/internal/cmd"
	"github.com/odatalink/odatalink/internal/config"
	"github.com/odatalink/odatalink/internal/logging"
	"github.com/odatalink/odatalink/internal/store"
	"github.com/odatalink/odatalink/internal/util"
	log "github.com/sirupsen/logrus"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const defaultAuthDir = "~/.odatalink"

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	var login bool
	var noBrowser bool
	var oauthCallbackPort int
	var configPath string
	var odpInitial string
	var odpDelta string
	var deltaToken string
	var odpTerminate string
	var odpDiscover string
	var applyPath string
	var showVersion bool

	flag.BoolVar(&login, "login", false, "Login to the configured OAuth2 provider (authorization code with PKCE)")
	flag.BoolVar(&noBrowser, "no-browser", false, "Don't open browser automatically for OAuth")
	flag.IntVar(&oauthCallbackPort, "oauth-callback-port", 0, "Override OAuth callback port (defaults to the redirect-uri port)")
	flag.StringVar(&configPath, "config", "", "Configure File Path (defaults to ./config.yaml when present)")
	flag.StringVar(&odpInitial, "odp-initial", "", "Run an ODP initial load against the entity set URL")
	flag.StringVar(&odpDelta, "odp-delta", "", "Run an ODP delta fetch against the entity set URL")
	flag.StringVar(&deltaToken, "delta-token", "", "Delta token for -odp-delta")
	flag.StringVar(&odpTerminate, "odp-terminate", "", "Terminate ODP delta tracking for the entity set URL")
	flag.StringVar(&odpDiscover, "odp-discover", "", "List the ODP delta links of the entity set URL")
	flag.StringVar(&applyPath, "apply", "", "Render analytical query components (JSON file, - for stdin) as a $apply query")
	flag.BoolVar(&showVersion, "version", false, "Print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("odatalink Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	optional := configPath == ""
	if optional {
		configPath = filepath.Join(wd, "config.yaml")
	}
	cfg, err := config.LoadConfigOptional(configPath, optional)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return
	}

	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		return
	}
	util.SetLogLevel(cfg.Debug)
	log.Debugf("odatalink Version: %s, Commit: %s, BuiltAt: %s", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	if cfg.AuthDir == "" {
		cfg.AuthDir = defaultAuthDir
	}
	if resolvedAuthDir, errResolveAuthDir := util.ResolveAuthDir(cfg.AuthDir); errResolveAuthDir != nil {
		log.Errorf("failed to resolve auth directory: %v", errResolveAuthDir)
		return
	} else {
		cfg.AuthDir = resolvedAuthDir
	}

	// Prefer the Postgres store when configured, otherwise object storage, git or local files.
	storeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	tokenStore, err := store.FromEnvironment(storeCtx, os.LookupEnv, wd, cfg.AuthDir)
	cancel()
	if err != nil {
		log.Errorf("failed to initialize token store: %v", err)
		return
	}
	if closer, ok := tokenStore.(io.Closer); ok {
		defer func() {
			if errClose := closer.Close(); errClose != nil {
				log.Warnf("failed to close token store: %v", errClose)
			}
		}()
	}
	store.RegisterTokenStore(tokenStore)

	switch {
	case login:
		cmd.DoLogin(cfg, &cmd.LoginOptions{
			NoBrowser:    noBrowser,
			CallbackPort: oauthCallbackPort,
		})
	case odpInitial != "":
		cmd.DoODPInitialLoad(cfg, odpInitial)
	case odpDelta != "":
		cmd.DoODPDeltaFetch(cfg, odpDelta, deltaToken)
	case odpTerminate != "":
		cmd.DoODPTerminate(cfg, odpTerminate)
	case odpDiscover != "":
		cmd.DoODPDiscover(cfg, odpDiscover)
	case applyPath != "":
		cmd.DoApply(applyPath)
	default:
		flag.Usage()
		os.Exit(2)
	}
}
