// Package source enumerates and retrieves historical change-sets from a
// GitHub repository, a local git repository or a JSON Lines file.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sumatoshi-tech/cochange/internal/cochange"
)

// Source kinds accepted by New.
const (
	KindGitHub = "github"
	KindGit    = "git"
	KindJSONL  = "jsonl"
)

// Sentinel errors.
var (
	ErrUnknownKind   = errors.New("unknown source kind")
	ErrInvalidRepo   = errors.New("invalid repository")
	ErrUnknownDetail = errors.New("unknown detail level")
	ErrMalformedLine = errors.New("malformed change-set line")
	ErrUnknownRef    = errors.New("unknown change-set reference")
)

// Ref identifies one change-set of a source. Seq is the position in the
// chronological order returned by List.
type Ref struct {
	ID    string
	Title string
	Seq   int
}

// Source enumerates change-sets oldest first and fetches their file lists.
// A Fetch error concerns that change-set only.
type Source interface {
	List(ctx context.Context) ([]Ref, error)
	Fetch(ctx context.Context, ref Ref) (cochange.ChangeSet, error)
}

// Config selects and configures a source.
type Config struct {
	Kind          string
	Repo          string
	Ref           string
	Path          string
	State         string
	Detail        string
	APIURL        string
	Token         string
	MaxChangeSets int
	Timeout       time.Duration
}

// New builds the source named by cfg.Kind.
func New(cfg Config) (Source, error) {
	switch cfg.Kind {
	case KindGitHub:
		return NewGitHub(GitHubOptions{
			APIURL:        cfg.APIURL,
			Repo:          cfg.Repo,
			Token:         cfg.Token,
			State:         cfg.State,
			Detail:        cfg.Detail,
			MaxChangeSets: cfg.MaxChangeSets,
			Timeout:       cfg.Timeout,
		})
	case KindGit:
		return OpenGitLog(cfg.Path, cfg.Ref, cfg.MaxChangeSets)
	case KindJSONL:
		return NewJSONLines(cfg.Path, cfg.MaxChangeSets), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}

// capped reports whether n refs reach a positive limit.
func capped(n, limit int) bool {
	return limit > 0 && n >= limit
}
