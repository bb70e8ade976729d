// Package githubstore keeps the leaderboard document as a file in a GitHub
// repository, using the contents API. The blob sha returned by GitHub is the
// revision: updates must quote it and GitHub rejects stale ones.
package githubstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/google/go-github/v66/github"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/okian/scoreboard/internal/adapters/store"
	"github.com/okian/scoreboard/internal/domain/model"
	"github.com/okian/scoreboard/pkg/logger"
)

const (
	backendName   = "github"
	defaultAPIURL = "https://api.github.com"
	defaultBranch = "main"
	placeholder   = ".gitkeep"
	userAgent     = "scoreboard"
)

// ErrInvalidConfig is returned by New when the repository, path or API URL is unusable.
var ErrInvalidConfig = errors.New("invalid github store config")

// Config locates the document.
type Config struct {
	Token  string
	Repo   string // owner/name
	Path   string // e.g. data/scores.json
	Branch string
	APIURL string
}

// Store is a store.VersionedStore backed by the GitHub contents API.
type Store struct {
	client *github.Client
	owner  string
	repo   string
	path   string
	branch string
	log    logger.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// New builds a Store authenticating with cfg.Token.
func New(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	owner, repo, ok := strings.Cut(cfg.Repo, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return nil, fmt.Errorf("%w: repo must be owner/name, got %q", ErrInvalidConfig, cfg.Repo)
	}
	p := strings.Trim(cfg.Path, "/")
	if p == "" {
		return nil, fmt.Errorf("%w: path must not be empty", ErrInvalidConfig)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." || seg == "." {
			return nil, fmt.Errorf("%w: path must not contain %q segments", ErrInvalidConfig, seg)
		}
	}
	base := strings.TrimRight(cfg.APIURL, "/")
	if base == "" {
		base = defaultAPIURL
	}
	baseURL, err := url.Parse(base + "/")
	if err != nil {
		return nil, fmt.Errorf("%w: api url: %v", ErrInvalidConfig, err)
	}
	branch := cfg.Branch
	if branch == "" {
		branch = defaultBranch
	}

	var httpClient *http.Client
	if cfg.Token != "" {
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
	}
	client := github.NewClient(httpClient)
	client.BaseURL = baseURL
	client.UserAgent = userAgent

	s := &Store{
		client: client,
		owner:  owner,
		repo:   repo,
		path:   p,
		branch: branch,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get()
	}
	s.log = s.log.Named("githubstore").With(logger.String("repo", cfg.Repo), logger.String("path", s.path))
	return s, nil
}

// Name implements store.VersionedStore.
func (s *Store) Name() string { return backendName }

// Fetch implements store.VersionedStore.
func (s *Store) Fetch(ctx context.Context) (model.Document, error) {
	file, _, _, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, s.path,
		&github.RepositoryContentGetOptions{Ref: s.branch})
	if err != nil {
		return model.Document{}, classify("fetch", err)
	}
	if file == nil {
		return model.Document{}, fmt.Errorf("fetch: %w: %s is a directory", store.ErrFatal, s.path)
	}
	if t := file.GetType(); t != "" && t != "file" {
		return model.Document{}, fmt.Errorf("fetch: %w: %s is a %s", store.ErrFatal, s.path, t)
	}
	raw, err := file.GetContent()
	if err != nil {
		return model.Document{}, fmt.Errorf("fetch: %w: %v", store.ErrFatal, err)
	}
	records, err := store.Decode([]byte(raw))
	if err != nil {
		return model.Document{}, err
	}
	return model.Document{Records: records, Revision: file.GetSHA()}, nil
}

// Provision implements store.VersionedStore.
func (s *Store) Provision(ctx context.Context) (string, error) {
	if dir := path.Dir(s.path); dir != "." {
		if err := s.ensureDir(ctx, dir); err != nil {
			return "", err
		}
	}

	content, err := store.Encode(nil)
	if err != nil {
		return "", err
	}
	resp, _, err := s.client.Repositories.CreateFile(ctx, s.owner, s.repo, s.path, &github.RepositoryContentFileOptions{
		Message: github.String("Create " + path.Base(s.path)),
		Content: content,
		Branch:  github.String(s.branch),
	})
	if err != nil {
		return "", classifyCreate("provision", err)
	}
	sha := contentSHA(resp)
	s.log.Info(ctx, "document created", logger.String("sha", sha))
	return sha, nil
}

// ensureDir creates dir with a placeholder file when it does not exist yet.
func (s *Store) ensureDir(ctx context.Context, dir string) error {
	_, _, _, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, dir,
		&github.RepositoryContentGetOptions{Ref: s.branch})
	if err == nil {
		return nil
	}
	if err = classify("provision dir", err); !errors.Is(err, store.ErrNotFound) {
		return err
	}

	_, _, err = s.client.Repositories.CreateFile(ctx, s.owner, s.repo, path.Join(dir, placeholder), &github.RepositoryContentFileOptions{
		Message: github.String(fmt.Sprintf("Create %s folder with %s", dir, placeholder)),
		Content: []byte{},
		Branch:  github.String(s.branch),
	})
	if err == nil {
		s.log.Info(ctx, "folder created", logger.String("dir", dir))
		return nil
	}
	err = classifyCreate("provision dir", err)
	if errors.Is(err, store.ErrConflict) {
		// Another instance created the placeholder first.
		return nil
	}
	return err
}

// Write implements store.VersionedStore.
func (s *Store) Write(ctx context.Context, records []model.ScoreRecord, expectedRevision string) (string, error) {
	content, err := store.Encode(records)
	if err != nil {
		return "", err
	}
	resp, _, err := s.client.Repositories.UpdateFile(ctx, s.owner, s.repo, s.path, &github.RepositoryContentFileOptions{
		Message: github.String(fmt.Sprintf("Update %s (%s)", path.Base(s.path), uuid.NewString())),
		Content: content,
		SHA:     github.String(expectedRevision),
		Branch:  github.String(s.branch),
	})
	if err != nil {
		return "", classify("write", err)
	}
	return contentSHA(resp), nil
}

// Verify checks the token against GET /user.
func (s *Store) Verify(ctx context.Context) error {
	user, _, err := s.client.Users.Get(ctx, "")
	if err != nil {
		err = classify("verify", err)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("verify: %w: %v", store.ErrFatal, err)
		}
		return err
	}
	s.log.Info(ctx, "github token accepted", logger.String("login", user.GetLogin()))
	return nil
}

func contentSHA(resp *github.RepositoryContentResponse) string {
	if resp == nil || resp.Content == nil {
		return ""
	}
	return resp.Content.GetSHA()
}

// classify maps a go-github error onto the store error kinds. GitHub reports
// rate limiting as 403 or 429; go-github surfaces both as typed errors.
func classify(op string, err error) error {
	var (
		rateErr  *github.RateLimitError
		abuseErr *github.AbuseRateLimitError
		otpErr   *github.TwoFactorAuthError
		respErr  *github.ErrorResponse
		synErr   *json.SyntaxError
		typeErr  *json.UnmarshalTypeError
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		return fmt.Errorf("%s: %w: %v", op, store.ErrTransient, err)
	case errors.As(err, &otpErr):
		return fmt.Errorf("%s: %w: %v", op, store.ErrFatal, err)
	case errors.As(err, &respErr) && respErr.Response != nil:
		return store.ClassifyStatus(op, respErr.Response.StatusCode, respErr.Message)
	case errors.As(err, &synErr), errors.As(err, &typeErr):
		return fmt.Errorf("%s: %w: decode response: %v", op, store.ErrFatal, err)
	default:
		return store.ClassifyTransport(op, err)
	}
}

// classifyCreate is classify for file creation. GitHub answers 422 when the
// file already exists, which for a create means another writer won. A 404
// means the repository or branch is missing and provisioning cannot fix that.
func classifyCreate(op string, err error) error {
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.StatusCode == http.StatusUnprocessableEntity {
		return fmt.Errorf("%s: %w (status %d): %s", op, store.ErrConflict, http.StatusUnprocessableEntity, respErr.Message)
	}
	err = classify(op, err)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: repository or branch not found: %v", store.ErrFatal, err)
	}
	return err
}
