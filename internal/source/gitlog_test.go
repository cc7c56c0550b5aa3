package source_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/cochange/internal/cochange"
	"github.com/Sumatoshi-tech/cochange/internal/source"
)

type fixtureRepo struct {
	t    *testing.T
	repo *git.Repository
	wt   *git.Worktree
	dir  string
	when time.Time
}

func newFixtureRepo(t *testing.T) *fixtureRepo {
	t.Helper()

	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)

	return &fixtureRepo{t: t, repo: repo, wt: wt, dir: dir, when: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fixtureRepo) write(path, content string) {
	f.t.Helper()

	full := filepath.Join(f.dir, path)
	require.NoError(f.t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(f.t, os.WriteFile(full, []byte(content), 0o600))

	_, err := f.wt.Add(path)
	require.NoError(f.t, err)
}

func (f *fixtureRepo) move(from, to string) {
	f.t.Helper()

	_, err := f.wt.Move(from, to)
	require.NoError(f.t, err)
}

func (f *fixtureRepo) resetTo(hash string) {
	f.t.Helper()

	require.NoError(f.t, f.wt.Reset(&git.ResetOptions{Commit: plumbing.NewHash(hash), Mode: git.HardReset}))
}

func (f *fixtureRepo) remove(path string) {
	f.t.Helper()

	_, err := f.wt.Remove(path)
	require.NoError(f.t, err)
}

func (f *fixtureRepo) commit(msg string, parents ...string) string {
	f.t.Helper()

	f.when = f.when.Add(time.Hour)

	opts := &git.CommitOptions{
		Author: &object.Signature{Name: "dev", Email: "dev@example.com", When: f.when},
	}

	for _, p := range parents {
		opts.Parents = append(opts.Parents, plumbing.NewHash(p))
	}

	hash, err := f.wt.Commit(msg, opts)
	require.NoError(f.t, err)

	return hash.String()
}

func TestGitLog_ListOldestFirst(t *testing.T) {
	t.Parallel()

	fx := newFixtureRepo(t)

	fx.write("a.txt", "a")
	first := fx.commit("first\n\nbody")

	fx.write("b.txt", "b")
	second := fx.commit("second")

	fx.write("c.txt", "c")
	third := fx.commit("third")

	refs, err := source.NewGitLog(fx.repo, "", 0).List(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []source.Ref{
		{ID: first, Title: "first", Seq: 0},
		{ID: second, Title: "second", Seq: 1},
		{ID: third, Title: "third", Seq: 2},
	}, refs)

	capped, err := source.NewGitLog(fx.repo, "HEAD", 2).List(context.Background())
	require.NoError(t, err)
	require.Len(t, capped, 2)
	assert.Equal(t, first, capped[0].ID)
}

func TestGitLog_FetchDetectsRenamesAndDropsDeletes(t *testing.T) {
	t.Parallel()

	fx := newFixtureRepo(t)

	fx.write("old_b.txt", "the quick brown fox jumps over the lazy dog\n")
	fx.write("doomed.txt", "bye")
	fx.write("a.txt", "a")
	root := fx.commit("init")

	fx.move("old_b.txt", "b.txt")
	fx.remove("doomed.txt")
	fx.write("a.txt", "a2")
	change := fx.commit("rename")

	gl := source.NewGitLog(fx.repo, "", 0)

	initial, err := gl.Fetch(context.Background(), source.Ref{ID: root})
	require.NoError(t, err)
	assert.Equal(t, "init", initial.Title)
	assert.Len(t, initial.Edits, 3)

	cs, err := gl.Fetch(context.Background(), source.Ref{ID: change, Title: "rename"})
	require.NoError(t, err)

	assert.ElementsMatch(t, []cochange.Edit{
		{Path: "a.txt", SubChangeID: change},
		{Path: "b.txt", PreviousPath: "old_b.txt", SubChangeID: change},
	}, cs.Edits)
}

func TestGitLog_EndToEndWithProcessor(t *testing.T) {
	t.Parallel()

	fx := newFixtureRepo(t)

	fx.write("a.txt", "alpha alpha alpha alpha\n")
	fx.write("b.txt", "beta beta beta beta\n")
	fx.commit("one")

	fx.move("a.txt", "renamed_a.txt")
	fx.write("b.txt", "beta beta beta beta\nmore\n")
	fx.commit("two")

	src, err := source.OpenGitLog(fx.dir, "", 0)
	require.NoError(t, err)

	refs, err := src.List(context.Background())
	require.NoError(t, err)

	proc := cochange.NewProcessor(cochange.Options{})

	for _, ref := range refs {
		cs, fetchErr := src.Fetch(context.Background(), ref)
		_, err = proc.Consume(cs, fetchErr)
		require.NoError(t, err)
	}

	frozen := proc.Freeze()
	require.Len(t, frozen.Nodes, 2)
	require.Len(t, frozen.Edges, 1)
	assert.Equal(t, 2, frozen.Edges[0].Weight)

	renamed, ok := proc.Registry().Lookup("renamed_a.txt")
	require.True(t, ok)

	node, ok := proc.Registry().Node(renamed)
	require.True(t, ok)
	assert.Equal(t, []string{"a.txt"}, node.PreviousPaths)
}

func TestGitLog_MergeCommitIsOneChangeSet(t *testing.T) {
	t.Parallel()

	fx := newFixtureRepo(t)

	fx.write("a.txt", "a")
	base := fx.commit("base")

	fx.write("feature.txt", "feature")
	fx.write("a.txt", "a from feature")
	feature := fx.commit("feature work")

	fx.resetTo(base)
	fx.write("main.txt", "main")
	mainline := fx.commit("mainline work")

	fx.write("feature.txt", "feature")
	fx.write("a.txt", "a from feature")
	merge := fx.commit("Merge pull request #7", mainline, feature)

	gl := source.NewGitLog(fx.repo, "", 0)

	refs, err := gl.List(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []source.Ref{
		{ID: base, Title: "base", Seq: 0},
		{ID: mainline, Title: "mainline work", Seq: 1},
		{ID: merge, Title: "Merge pull request #7", Seq: 2},
	}, refs)

	cs, err := gl.Fetch(context.Background(), refs[2])
	require.NoError(t, err)

	assert.ElementsMatch(t, []cochange.Edit{
		{Path: "a.txt", SubChangeID: merge},
		{Path: "feature.txt", SubChangeID: merge},
	}, cs.Edits)
}

func TestGitLog_FetchUnknownCommit(t *testing.T) {
	t.Parallel()

	fx := newFixtureRepo(t)
	fx.write("a.txt", "a")
	fx.commit("one")

	cs, err := source.NewGitLog(fx.repo, "", 0).Fetch(context.Background(), source.Ref{ID: "0123456789abcdef0123456789abcdef01234567"})
	require.ErrorIs(t, err, source.ErrUnknownRef)
	assert.Equal(t, "0123456789abcdef0123456789abcdef01234567", cs.ID)
}

func TestOpenGitLog_NotARepository(t *testing.T) {
	t.Parallel()

	_, err := source.OpenGitLog(t.TempDir(), "", 0)
	require.Error(t, err)
}
