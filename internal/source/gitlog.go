package source

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/cochange/internal/cochange"
	"github.com/Sumatoshi-tech/cochange/internal/observability"
)

// GitLog treats every commit on the first-parent history of a local
// repository as one change-set. A merge commit stands for the whole merged
// branch: it is diffed against its first parent, so the commits of the
// branch itself are not visited.
type GitLog struct {
	repo   *git.Repository
	tracer trace.Tracer
	ref    string
	max    int
}

// OpenGitLog opens the repository at path. An empty ref means HEAD.
func OpenGitLog(path, ref string, maxChangeSets int) (*GitLog, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", path, err)
	}

	return NewGitLog(repo, ref, maxChangeSets), nil
}

// NewGitLog wraps an already opened repository.
func NewGitLog(repo *git.Repository, ref string, maxChangeSets int) *GitLog {
	return &GitLog{
		repo:   repo,
		tracer: otel.Tracer(observability.TracerGitLog),
		ref:    ref,
		max:    maxChangeSets,
	}
}

// List returns the first-parent commits reachable from the ref, merges
// included, oldest first, keeping at most the configured maximum.
func (g *GitLog) List(ctx context.Context) ([]Ref, error) {
	ctx, span := g.tracer.Start(ctx, "cochange.source.gitlog.list")
	defer span.End()

	head, err := g.resolve()
	if err != nil {
		return nil, err
	}

	commit, err := g.repo.CommitObject(head)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", head, err)
	}

	var refs []Ref

	for {
		err = ctx.Err()
		if err != nil {
			return nil, fmt.Errorf("walk history: %w", err)
		}

		refs = append(refs, Ref{ID: commit.Hash.String(), Title: summary(commit.Message)})

		if commit.NumParents() == 0 {
			break
		}

		commit, err = commit.Parent(0)
		if err != nil {
			return nil, fmt.Errorf("read first parent: %w", err)
		}
	}

	slices.Reverse(refs)

	if g.max > 0 && len(refs) > g.max {
		refs = refs[:g.max]
	}

	for i := range refs {
		refs[i].Seq = i
	}

	span.SetAttributes(attribute.Int("source.changesets", len(refs)))

	return refs, nil
}

func (g *GitLog) resolve() (plumbing.Hash, error) {
	if g.ref == "" || g.ref == "HEAD" {
		head, err := g.repo.Head()
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("resolve HEAD: %w", err)
		}

		return head.Hash(), nil
	}

	hash, err := g.repo.ResolveRevision(plumbing.Revision(g.ref))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve %q: %w", g.ref, err)
	}

	return *hash, nil
}

// Fetch diffs the commit against its first parent with rename detection.
// Deleted files are dropped.
func (g *GitLog) Fetch(ctx context.Context, ref Ref) (cochange.ChangeSet, error) {
	ctx, span := g.tracer.Start(ctx, "cochange.source.gitlog.fetch",
		trace.WithAttributes(attribute.String("changeset.id", ref.ID)))
	defer span.End()

	cs := cochange.ChangeSet{ID: ref.ID, Title: ref.Title}

	commit, err := g.repo.CommitObject(plumbing.NewHash(ref.ID))
	if err != nil {
		return cs, fmt.Errorf("%w: commit %s: %w", ErrUnknownRef, ref.ID, err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return cs, fmt.Errorf("read tree of %s: %w", ref.ID, err)
	}

	var parentTree *object.Tree

	if commit.NumParents() > 0 {
		parent, parentErr := commit.Parent(0)
		if parentErr != nil {
			return cs, fmt.Errorf("read parent of %s: %w", ref.ID, parentErr)
		}

		parentTree, err = parent.Tree()
		if err != nil {
			return cs, fmt.Errorf("read parent tree of %s: %w", ref.ID, err)
		}
	}

	changes, err := object.DiffTreeWithOptions(ctx, parentTree, tree, object.DefaultDiffTreeOptions)
	if err != nil {
		return cs, fmt.Errorf("diff %s: %w", ref.ID, err)
	}

	for _, change := range changes {
		action, actionErr := change.Action()
		if actionErr != nil {
			return cs, fmt.Errorf("classify change in %s: %w", ref.ID, actionErr)
		}

		switch action {
		case merkletrie.Insert:
			cs.Edits = append(cs.Edits, cochange.Edit{Path: change.To.Name, SubChangeID: ref.ID})
		case merkletrie.Modify:
			edit := cochange.Edit{Path: change.To.Name, SubChangeID: ref.ID}
			if change.From.Name != change.To.Name {
				edit.PreviousPath = change.From.Name
			}

			cs.Edits = append(cs.Edits, edit)
		case merkletrie.Delete:
			// Deleted files take no part.
		}
	}

	if cs.Title == "" {
		cs.Title = summary(commit.Message)
	}

	return cs, nil
}

func summary(message string) string {
	line, _, _ := strings.Cut(message, "\n")

	return strings.TrimSpace(line)
}
