package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/config"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/plumbing/transport"
	"github.com/go-git/go-git/v6/plumbing/transport/http"
	"github.com/odatalink/odatalink/internal/auth/oauth2"
	log "github.com/sirupsen/logrus"
)

// GitStoreConfig captures configuration for the git-backed token store.
type GitStoreConfig struct {
	Remote   string
	Username string
	Password string
	// LocalPath is the working tree; token files live in LocalPath/auths.
	LocalPath string
}

// GitTokenStore commits token files to a git repository and force-pushes a
// single squashed commit so the remote never accumulates old refresh tokens.
type GitTokenStore struct {
	mu       sync.Mutex
	cfg      GitStoreConfig
	repoDir  string
	authDir  string
	prepared bool
	lastGC   time.Time
}

// gcInterval is the minimum time between prune and repack runs.
const gcInterval = 5 * time.Minute

// NewGitTokenStore validates cfg and resolves the local working directory. The
// repository is cloned by EnsureRepository or lazily on first use.
func NewGitTokenStore(cfg GitStoreConfig) (*GitTokenStore, error) {
	cfg.Remote = strings.TrimSpace(cfg.Remote)
	if cfg.Remote == "" {
		return nil, fmt.Errorf("git token store: remote not configured")
	}
	root := strings.TrimSpace(cfg.LocalPath)
	if root == "" {
		if cwd, err := os.Getwd(); err == nil {
			root = filepath.Join(cwd, "gitstore")
		} else {
			root = filepath.Join(os.TempDir(), "gitstore")
		}
	}
	repoDir, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("git token store: resolve repo directory: %w", err)
	}
	// The working tree stays empty until the first clone.
	return &GitTokenStore{cfg: cfg, repoDir: repoDir, authDir: filepath.Join(repoDir, "auths")}, nil
}

// AuthDir returns the directory of the working tree holding token files.
func (s *GitTokenStore) AuthDir() string {
	return s.authDir
}

// EnsureRepository clones the remote, initializes an empty one, or pulls an
// existing working tree.
func (s *GitTokenStore) EnsureRepository() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureRepositoryLocked()
}

func (s *GitTokenStore) ensureRepositoryLocked() error {
	if s.prepared {
		return nil
	}
	gitDir := filepath.Join(s.repoDir, ".git")
	authMethod := s.gitAuth()
	var initPaths []string

	if _, err := os.Stat(gitDir); errors.Is(err, fs.ErrNotExist) {
		if errMk := os.MkdirAll(s.repoDir, 0o700); errMk != nil {
			return fmt.Errorf("git token store: create repo dir: %w", errMk)
		}
		if _, errClone := git.PlainClone(s.repoDir, &git.CloneOptions{Auth: authMethod, URL: s.cfg.Remote}); errClone != nil {
			if !errors.Is(errClone, transport.ErrEmptyRemoteRepository) {
				return fmt.Errorf("git token store: clone remote: %w", errClone)
			}
			_ = os.RemoveAll(gitDir)
			repo, errInit := git.PlainInit(s.repoDir, false)
			if errInit != nil {
				return fmt.Errorf("git token store: init empty repo: %w", errInit)
			}
			if _, errRemote := repo.Remote("origin"); errRemote != nil {
				if _, errCreate := repo.CreateRemote(&config.RemoteConfig{
					Name: "origin",
					URLs: []string{s.cfg.Remote},
				}); errCreate != nil && !errors.Is(errCreate, git.ErrRemoteExists) {
					return fmt.Errorf("git token store: configure remote: %w", errCreate)
				}
			}
			if errMkdir := os.MkdirAll(s.authDir, 0o700); errMkdir != nil {
				return fmt.Errorf("git token store: create auth dir: %w", errMkdir)
			}
			if errKeep := ensureEmptyFile(filepath.Join(s.authDir, ".gitkeep")); errKeep != nil {
				return fmt.Errorf("git token store: create auth placeholder: %w", errKeep)
			}
			initPaths = []string{filepath.Join("auths", ".gitkeep")}
		}
	} else if err != nil {
		return fmt.Errorf("git token store: stat repo: %w", err)
	} else {
		repo, errOpen := git.PlainOpen(s.repoDir)
		if errOpen != nil {
			return fmt.Errorf("git token store: open repo: %w", errOpen)
		}
		worktree, errWorktree := repo.Worktree()
		if errWorktree != nil {
			return fmt.Errorf("git token store: worktree: %w", errWorktree)
		}
		if errPull := worktree.Pull(&git.PullOptions{Auth: authMethod, RemoteName: "origin"}); errPull != nil {
			switch {
			case errors.Is(errPull, git.NoErrAlreadyUpToDate),
				errors.Is(errPull, git.ErrUnstagedChanges),
				errors.Is(errPull, git.ErrNonFastForwardUpdate):
				// Local changes win.
			case errors.Is(errPull, transport.ErrAuthenticationRequired),
				errors.Is(errPull, plumbing.ErrReferenceNotFound),
				errors.Is(errPull, transport.ErrEmptyRemoteRepository):
				log.Debugf("git token store: pull skipped: %v", errPull)
			default:
				return fmt.Errorf("git token store: pull: %w", errPull)
			}
		}
	}
	if err := os.MkdirAll(s.authDir, 0o700); err != nil {
		return fmt.Errorf("git token store: create auth dir: %w", err)
	}
	if len(initPaths) > 0 {
		if err := s.commitAndPushLocked("Initialize token store", initPaths...); err != nil {
			return err
		}
	}
	s.prepared = true
	return nil
}

// Save writes the token file into the working tree, commits and pushes it.
func (s *GitTokenStore) Save(_ context.Context, name string, tokens *oauth2.Tokens) (string, error) {
	if tokens == nil {
		return "", fmt.Errorf("git token store: tokens are nil")
	}
	path, err := resolveTokenPath(s.authDir, name)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.ensureRepositoryLocked(); err != nil {
		return "", err
	}
	if err = tokens.SaveToFile(path); err != nil {
		return "", err
	}
	if err = s.commitAndPushLocked("Update "+name, filepath.Join("auths", name)); err != nil {
		return "", err
	}
	return path, nil
}

// Load pulls the repository and reads the token file from the working tree.
func (s *GitTokenStore) Load(_ context.Context, name string) (*oauth2.Tokens, error) {
	path, err := resolveTokenPath(s.authDir, name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.ensureRepositoryLocked(); err != nil {
		return nil, err
	}
	return oauth2.LoadTokensFromFile(path)
}

// Delete removes the token file and pushes the removal.
func (s *GitTokenStore) Delete(_ context.Context, name string) error {
	path, err := resolveTokenPath(s.authDir, name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.ensureRepositoryLocked(); err != nil {
		return err
	}
	if err = os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("git token store: delete token file: %w", err)
	}
	return s.commitAndPushLocked("Delete "+name, filepath.Join("auths", name))
}

func (s *GitTokenStore) gitAuth() transport.AuthMethod {
	if s.cfg.Username == "" && s.cfg.Password == "" {
		return nil
	}
	user := s.cfg.Username
	if user == "" {
		user = "git"
	}
	return &http.BasicAuth{Username: user, Password: s.cfg.Password}
}

func (s *GitTokenStore) commitAndPushLocked(message string, relPaths ...string) error {
	repo, err := git.PlainOpen(s.repoDir)
	if err != nil {
		return fmt.Errorf("git token store: open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("git token store: worktree: %w", err)
	}
	for _, rel := range relPaths {
		if _, err = worktree.Add(filepath.ToSlash(rel)); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("git token store: add %s: %w", rel, err)
			}
			if _, errRemove := worktree.Remove(filepath.ToSlash(rel)); errRemove != nil && !errors.Is(errRemove, os.ErrNotExist) {
				return fmt.Errorf("git token store: remove %s: %w", rel, errRemove)
			}
		}
	}
	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("git token store: status: %w", err)
	}
	if status.IsClean() {
		return nil
	}
	signature := &object.Signature{
		Name:  "odatalink",
		Email: "odatalink@local",
		When:  time.Now(),
	}
	commitHash, err := worktree.Commit(message, &git.CommitOptions{Author: signature})
	if err != nil {
		if errors.Is(err, git.ErrEmptyCommit) {
			return nil
		}
		return fmt.Errorf("git token store: commit: %w", err)
	}
	headRef, errHead := repo.Head()
	if errHead != nil {
		if !errors.Is(errHead, plumbing.ErrReferenceNotFound) {
			return fmt.Errorf("git token store: get head: %w", errHead)
		}
	} else if errRewrite := rewriteHeadAsSingleCommit(repo, headRef.Name(), commitHash, message, signature); errRewrite != nil {
		return errRewrite
	}
	s.maybeRunGC(repo)
	if err = repo.Push(&git.PushOptions{Auth: s.gitAuth(), Force: true}); err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil
		}
		return fmt.Errorf("git token store: push: %w", err)
	}
	return nil
}

// rewriteHeadAsSingleCommit replaces the branch tip with a parentless copy of commitHash.
func rewriteHeadAsSingleCommit(repo *git.Repository, branch plumbing.ReferenceName, commitHash plumbing.Hash, message string, signature *object.Signature) error {
	commitObj, err := repo.CommitObject(commitHash)
	if err != nil {
		return fmt.Errorf("git token store: inspect head commit: %w", err)
	}
	squashed := &object.Commit{
		Author:       *signature,
		Committer:    *signature,
		Message:      message,
		TreeHash:     commitObj.TreeHash,
		Encoding:     commitObj.Encoding,
		ExtraHeaders: commitObj.ExtraHeaders,
	}
	mem := &plumbing.MemoryObject{}
	mem.SetType(plumbing.CommitObject)
	if err = squashed.Encode(mem); err != nil {
		return fmt.Errorf("git token store: encode squashed commit: %w", err)
	}
	newHash, err := repo.Storer.SetEncodedObject(mem)
	if err != nil {
		return fmt.Errorf("git token store: write squashed commit: %w", err)
	}
	if err = repo.Storer.SetReference(plumbing.NewHashReference(branch, newHash)); err != nil {
		return fmt.Errorf("git token store: update branch reference: %w", err)
	}
	return nil
}

// maybeRunGC drops objects orphaned by squashing, at most once per gcInterval.
func (s *GitTokenStore) maybeRunGC(repo *git.Repository) {
	now := time.Now()
	if now.Sub(s.lastGC) < gcInterval {
		return
	}
	s.lastGC = now
	err := repo.Prune(git.PruneOptions{OnlyObjectsOlderThan: now, Handler: repo.DeleteObject})
	if err != nil && !errors.Is(err, git.ErrLooseObjectsNotSupported) {
		return
	}
	_ = repo.RepackObjects(&git.RepackConfig{})
}

func ensureEmptyFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte{}, 0o600)
}
