package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/cochange/internal/cochange"
)

// GitHub defaults.
const (
	DefaultAPIURL  = "https://api.github.com"
	DefaultState   = "open"
	DefaultTimeout = 30 * time.Second

	// DetailPull takes the file list of the whole pull request.
	DetailPull = "pull"
	// DetailCommits takes the file list of every commit of the pull request
	// and tags each edit with the commit sha.
	DetailCommits = "commits"

	githubPerPage    = 100
	githubAPIVersion = "2022-11-28"
	githubUserAgent  = "cochange"
	statusRemoved    = "removed"
	statusRenamed    = "renamed"
	maxErrorBody     = 2048
	tracerGitHub     = "cochange.source.github"
)

// HTTPError is a non-2xx answer of the GitHub API.
type HTTPError struct {
	URL        string
	Message    string
	StatusCode int
}

// Error implements error.
func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("github: GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}

	return fmt.Sprintf("github: GET %s: %d %s: %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// GitHubOptions configures a GitHub source. Repo is "owner/name".
type GitHubOptions struct {
	Client        *http.Client
	APIURL        string
	Repo          string
	Token         string
	State         string
	Detail        string
	MaxChangeSets int
	Timeout       time.Duration
}

// GitHub lists pull requests of one repository, oldest first.
type GitHub struct {
	client  *http.Client
	tracer  trace.Tracer
	baseURL string
	owner   string
	repo    string
	token   string
	state   string
	detail  string
	max     int
}

type githubPull struct {
	Title  string `json:"title"`
	Number int    `json:"number"`
}

type githubFile struct {
	Filename         string `json:"filename"`
	PreviousFilename string `json:"previous_filename"`
	Status           string `json:"status"`
}

type githubCommitRef struct {
	SHA string `json:"sha"`
}

type githubCommit struct {
	SHA   string       `json:"sha"`
	Files []githubFile `json:"files"`
}

type githubMessage struct {
	Message string `json:"message"`
}

// NewGitHub validates opts and builds the source. An empty token falls back
// to GITHUB_TOKEN.
func NewGitHub(opts GitHubOptions) (*GitHub, error) {
	owner, name, ok := strings.Cut(opts.Repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("%w: %q (want owner/name)", ErrInvalidRepo, opts.Repo)
	}

	detail := opts.Detail
	if detail == "" {
		detail = DetailPull
	}

	if detail != DetailPull && detail != DetailCommits {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDetail, opts.Detail)
	}

	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}

		client = &http.Client{Timeout: timeout}
	}

	baseURL := opts.APIURL
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}

	state := opts.State
	if state == "" {
		state = DefaultState
	}

	token := opts.Token
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}

	return &GitHub{
		client:  client,
		tracer:  otel.Tracer(tracerGitHub),
		baseURL: strings.TrimRight(baseURL, "/"),
		owner:   owner,
		repo:    name,
		token:   token,
		state:   state,
		detail:  detail,
		max:     opts.MaxChangeSets,
	}, nil
}

// List pages through the pull requests in creation order until a short
// page or the configured maximum.
func (g *GitHub) List(ctx context.Context) ([]Ref, error) {
	ctx, span := g.tracer.Start(ctx, "cochange.source.github.list",
		trace.WithAttributes(attribute.String("source.repo", g.owner+"/"+g.repo)))
	defer span.End()

	var refs []Ref

	for page := 1; ; page++ {
		query := url.Values{
			"state":     {g.state},
			"sort":      {"created"},
			"direction": {"asc"},
			"per_page":  {strconv.Itoa(githubPerPage)},
			"page":      {strconv.Itoa(page)},
		}

		var pulls []githubPull

		err := g.getJSON(ctx, g.repoPath("pulls"), query, &pulls)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())

			return nil, fmt.Errorf("list pull requests: %w", err)
		}

		for _, pull := range pulls {
			if capped(len(refs), g.max) {
				break
			}

			refs = append(refs, Ref{ID: strconv.Itoa(pull.Number), Title: pull.Title, Seq: len(refs)})
		}

		if len(pulls) < githubPerPage || capped(len(refs), g.max) {
			break
		}
	}

	span.SetAttributes(attribute.Int("source.changesets", len(refs)))

	return refs, nil
}

// Fetch retrieves the file list of one pull request.
func (g *GitHub) Fetch(ctx context.Context, ref Ref) (cochange.ChangeSet, error) {
	cs := cochange.ChangeSet{ID: ref.ID, Title: ref.Title}

	var (
		edits []cochange.Edit
		err   error
	)

	if g.detail == DetailCommits {
		edits, err = g.commitEdits(ctx, ref.ID)
	} else {
		edits, err = g.pullEdits(ctx, ref.ID)
	}

	if err != nil {
		return cs, fmt.Errorf("fetch pull request %s: %w", ref.ID, err)
	}

	cs.Edits = edits

	return cs, nil
}

func (g *GitHub) pullEdits(ctx context.Context, number string) ([]cochange.Edit, error) {
	var edits []cochange.Edit

	for page := 1; ; page++ {
		var files []githubFile

		err := g.getJSON(ctx, g.repoPath("pulls", number, "files"), pageQuery(page), &files)
		if err != nil {
			return nil, err
		}

		edits = appendEdits(edits, files, "")

		if len(files) < githubPerPage {
			return edits, nil
		}
	}
}

func (g *GitHub) commitEdits(ctx context.Context, number string) ([]cochange.Edit, error) {
	var shas []string

	for page := 1; ; page++ {
		var commits []githubCommitRef

		err := g.getJSON(ctx, g.repoPath("pulls", number, "commits"), pageQuery(page), &commits)
		if err != nil {
			return nil, err
		}

		for _, c := range commits {
			shas = append(shas, c.SHA)
		}

		if len(commits) < githubPerPage {
			break
		}
	}

	var edits []cochange.Edit

	for _, sha := range shas {
		var commit githubCommit

		err := g.getJSON(ctx, g.repoPath("commits", sha), nil, &commit)
		if err != nil {
			return nil, err
		}

		edits = appendEdits(edits, commit.Files, sha)
	}

	return edits, nil
}

func appendEdits(edits []cochange.Edit, files []githubFile, sub string) []cochange.Edit {
	for _, f := range files {
		if f.Status == statusRemoved {
			continue
		}

		edit := cochange.Edit{Path: f.Filename, SubChangeID: sub}
		if f.Status == statusRenamed {
			edit.PreviousPath = f.PreviousFilename
		}

		edits = append(edits, edit)
	}

	return edits
}

func pageQuery(page int) url.Values {
	return url.Values{
		"per_page": {strconv.Itoa(githubPerPage)},
		"page":     {strconv.Itoa(page)},
	}
}

func (g *GitHub) repoPath(parts ...string) string {
	escaped := make([]string, 0, len(parts)+3)
	escaped = append(escaped, "repos", url.PathEscape(g.owner), url.PathEscape(g.repo))

	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}

	return "/" + strings.Join(escaped, "/")
}

func (g *GitHub) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	target := g.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
	req.Header.Set("User-Agent", githubUserAgent)

	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		var msg githubMessage

		if json.Unmarshal(body, &msg) != nil {
			msg.Message = strings.TrimSpace(string(body))
		}

		return &HTTPError{URL: target, StatusCode: resp.StatusCode, Message: msg.Message}
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("decode %s: %w", target, err)
	}

	return nil
}
