package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/odatalink/odatalink/internal/auth/oauth2"
	"github.com/odatalink/odatalink/internal/util"
	log "github.com/sirupsen/logrus"
)

const objectStoreAuthPrefix = "auths"

// ObjectStoreConfig captures configuration for the object storage-backed token store.
type ObjectStoreConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	Prefix    string
	LocalRoot string
	UseSSL    bool
	PathStyle bool
}

// ObjectTokenStore keeps token files in an S3-compatible bucket and mirrors
// them to a local spool.
type ObjectTokenStore struct {
	client  *minio.Client
	cfg     ObjectStoreConfig
	authDir string
	mu      sync.Mutex
}

// NewObjectTokenStore initializes an object storage backed token store. It does
// not contact the backend; call Bootstrap to create the bucket.
func NewObjectTokenStore(cfg ObjectStoreConfig) (*ObjectTokenStore, error) {
	cfg, err := normalizeObjectStoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	authDir, err := prepareSpool(cfg.LocalRoot, "objectstore")
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}

	options := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}
	client, err := minio.New(cfg.Endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("object store: create client: %w", err)
	}
	return &ObjectTokenStore{client: client, cfg: cfg, authDir: authDir}, nil
}

func normalizeObjectStoreConfig(cfg ObjectStoreConfig) (ObjectStoreConfig, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.AccessKey = strings.TrimSpace(cfg.AccessKey)
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")

	for _, field := range []struct{ name, value string }{
		{"endpoint", cfg.Endpoint},
		{"bucket", cfg.Bucket},
		{"access key", cfg.AccessKey},
		{"secret key", cfg.SecretKey},
	} {
		if err := util.ValidateRequired(field.name, field.value); err != nil {
			return cfg, fmt.Errorf("object store: %w", err)
		}
	}
	return cfg, nil
}

// AuthDir returns the local spool directory holding mirrored token files.
func (s *ObjectTokenStore) AuthDir() string {
	return s.authDir
}

// Bootstrap ensures the target bucket exists.
func (s *ObjectTokenStore) Bootstrap(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("object store: check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err = s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		return fmt.Errorf("object store: create bucket: %w", err)
	}
	return nil
}

// Save writes the token file to the spool and uploads it.
func (s *ObjectTokenStore) Save(ctx context.Context, name string, tokens *oauth2.Tokens) (string, error) {
	if tokens == nil {
		return "", fmt.Errorf("object store: tokens are nil")
	}
	localPath, err := resolveTokenPath(s.authDir, name)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = tokens.SaveToFile(localPath); err != nil {
		return "", err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("object store: read token file: %w", err)
	}
	key := s.objectKey(name)
	_, err = s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("object store: put object %s: %w", key, err)
	}
	return localPath, nil
}

// Load downloads the token object, refreshes the spool copy and parses it.
func (s *ObjectTokenStore) Load(ctx context.Context, name string) (*oauth2.Tokens, error) {
	localPath, err := resolveTokenPath(s.authDir, name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.objectKey(name)
	object, err := s.client.GetObject(ctx, s.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.objectError(key, err)
	}
	defer func() {
		if errClose := object.Close(); errClose != nil {
			log.WithError(errClose).Debugf("object store: close %s", key)
		}
	}()
	data, err := io.ReadAll(object)
	if err != nil {
		return nil, s.objectError(key, err)
	}
	if err = writeSpoolFile(localPath, data); err != nil {
		return nil, fmt.Errorf("object store: mirror %s: %w", key, err)
	}
	return oauth2.LoadTokensFromFile(localPath)
}

// Delete removes the token object and its spool copy.
func (s *ObjectTokenStore) Delete(ctx context.Context, name string) error {
	localPath, err := resolveTokenPath(s.authDir, name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = os.Remove(localPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("object store: delete token file: %w", err)
	}
	key := s.objectKey(name)
	if err = s.client.RemoveObject(ctx, s.cfg.Bucket, key, minio.RemoveObjectOptions{}); err != nil && !isObjectNotFound(err) {
		return fmt.Errorf("object store: delete object %s: %w", key, err)
	}
	return nil
}

func (s *ObjectTokenStore) objectKey(name string) string {
	key := path.Join(objectStoreAuthPrefix, name)
	if s.cfg.Prefix != "" {
		key = path.Join(s.cfg.Prefix, key)
	}
	return key
}

func (s *ObjectTokenStore) objectError(key string, err error) error {
	if isObjectNotFound(err) {
		return fmt.Errorf("object store: token %s: %w", key, os.ErrNotExist)
	}
	return fmt.Errorf("object store: get object %s: %w", key, err)
}

func isObjectNotFound(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound {
		return true
	}
	switch resp.Code {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return true
	}
	return false
}
