package store

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// LookupFunc reads one environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// FromEnvironment selects a token store from environment variables. Postgres
// (PGSTORE_DSN) wins over object storage (OBJECTSTORE_ENDPOINT), which wins over
// git (GITSTORE_GIT_URL). With none set, a FileTokenStore on authDir is
// returned. baseDir roots the spool directories when no *_LOCAL_PATH is given.
func FromEnvironment(ctx context.Context, lookup LookupFunc, baseDir, authDir string) (TokenStore, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := func(keys ...string) (string, bool) {
		for _, key := range keys {
			if value, ok := lookup(key); ok {
				if trimmed := strings.TrimSpace(value); trimmed != "" {
					return trimmed, true
				}
			}
		}
		return "", false
	}
	localRoot := func(keys ...string) string {
		if value, ok := env(keys...); ok {
			return value
		}
		return baseDir
	}

	if dsn, ok := env("PGSTORE_DSN", "pgstore_dsn"); ok {
		schema, _ := env("PGSTORE_SCHEMA", "pgstore_schema")
		root := localRoot("PGSTORE_LOCAL_PATH", "pgstore_local_path")
		pg, err := NewPostgresStore(ctx, PostgresStoreConfig{
			DSN:      dsn,
			Schema:   schema,
			SpoolDir: filepath.Join(root, "pgstore"),
		})
		if err != nil {
			return nil, err
		}
		log.Infof("using postgres token store (spool %s)", pg.AuthDir())
		return pg, nil
	}

	if endpoint, ok := env("OBJECTSTORE_ENDPOINT", "objectstore_endpoint"); ok {
		host, useSSL, err := parseObjectEndpoint(endpoint)
		if err != nil {
			return nil, err
		}
		access, _ := env("OBJECTSTORE_ACCESS_KEY", "objectstore_access_key")
		secret, _ := env("OBJECTSTORE_SECRET_KEY", "objectstore_secret_key")
		bucket, _ := env("OBJECTSTORE_BUCKET", "objectstore_bucket")
		root := localRoot("OBJECTSTORE_LOCAL_PATH", "objectstore_local_path")
		obj, err := NewObjectTokenStore(ObjectStoreConfig{
			Endpoint:  host,
			Bucket:    bucket,
			AccessKey: access,
			SecretKey: secret,
			LocalRoot: filepath.Join(root, "objectstore"),
			UseSSL:    useSSL,
			PathStyle: true,
		})
		if err != nil {
			return nil, err
		}
		if err = obj.Bootstrap(ctx); err != nil {
			return nil, err
		}
		log.Infof("using object storage token store (bucket %s)", bucket)
		return obj, nil
	}

	if remote, ok := env("GITSTORE_GIT_URL", "gitstore_git_url"); ok {
		user, _ := env("GITSTORE_GIT_USERNAME", "gitstore_git_username")
		token, _ := env("GITSTORE_GIT_TOKEN", "gitstore_git_token")
		root := localRoot("GITSTORE_LOCAL_PATH", "gitstore_local_path")
		gs, err := NewGitTokenStore(GitStoreConfig{
			Remote:    remote,
			Username:  user,
			Password:  token,
			LocalPath: filepath.Join(root, "gitstore"),
		})
		if err != nil {
			return nil, err
		}
		if err = gs.EnsureRepository(); err != nil {
			return nil, err
		}
		log.Infof("using git token store (remote %s)", remote)
		return gs, nil
	}

	return NewFileTokenStore(authDir), nil
}

// parseObjectEndpoint strips an optional http(s) scheme from endpoint and
// reports whether TLS should be used. Without a scheme TLS is on.
func parseObjectEndpoint(endpoint string) (string, bool, error) {
	endpoint = strings.TrimSpace(endpoint)
	useSSL := true
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return "", false, fmt.Errorf("object store: parse endpoint %q: %w", endpoint, err)
		}
		switch strings.ToLower(parsed.Scheme) {
		case "http":
			useSSL = false
		case "https":
		default:
			return "", false, fmt.Errorf("object store: unsupported endpoint scheme %q (only http and https are allowed)", parsed.Scheme)
		}
		if parsed.Host == "" {
			return "", false, fmt.Errorf("object store: endpoint %q is missing host information", endpoint)
		}
		endpoint = parsed.Host
		if parsed.Path != "" && parsed.Path != "/" {
			endpoint = strings.TrimSuffix(parsed.Host+parsed.Path, "/")
		}
	}
	return strings.TrimRight(endpoint, "/"), useSSL, nil
}
