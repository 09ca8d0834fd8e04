// Package gitrepo implements the source-control client on top of go-git,
// keeping a local mirror clone per repository under a cache directory.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/pushgate/pushgate/internal/services"
)

// Client fetches commit diffs from mirrored repositories
type Client struct {
	cacheDir   string
	remoteBase string
}

// NewClient creates a client. remoteBase prefixes repository names to form
// clone URLs (e.g. "https://github.com/").
func NewClient(cacheDir, remoteBase string) *Client {
	return &Client{cacheDir: cacheDir, remoteBase: remoteBase}
}

// FetchCommits refreshes the mirror and returns the commits reachable from
// headSHA but not from ancestorRef, newest first, head included.
func (c *Client) FetchCommits(ctx context.Context, repoName, headSHA, ancestorRef string) ([]services.CommitData, error) {
	repo, err := c.openOrClone(ctx, repoName)
	if err != nil {
		return nil, err
	}

	// refresh remote data before diffing
	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: git.DefaultRemoteName,
		Force:      true,
		Prune:      true,
		Tags:       git.NoTags,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil, fmt.Errorf("failed to fetch %s: %w", repoName, err)
	}

	headCommit, err := repo.CommitObject(plumbing.NewHash(headSHA))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve head commit %s: %w", headSHA, err)
	}

	ancestorHash, err := repo.ResolveRevision(plumbing.Revision(ancestorRef))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve ancestor ref %s: %w", ancestorRef, err)
	}
	ancestorCommit, err := repo.CommitObject(*ancestorHash)
	if err != nil {
		return nil, fmt.Errorf("failed to load ancestor commit %s: %w", ancestorHash, err)
	}

	bases, err := headCommit.MergeBase(ancestorCommit)
	if err != nil {
		return nil, fmt.Errorf("failed to find merge base of %s and %s: %w", headSHA, ancestorRef, err)
	}
	stop := make([]plumbing.Hash, len(bases))
	for i, base := range bases {
		stop[i] = base.Hash
	}

	var commits []services.CommitData
	iter := object.NewCommitPreorderIter(headCommit, nil, stop)
	err = iter.ForEach(func(commit *object.Commit) error {
		commits = append(commits, services.CommitData{
			SHA:         commit.Hash.String(),
			Message:     strings.TrimRight(commit.Message, "\n"),
			AuthorName:  commit.Author.Name,
			AuthorEmail: commit.Author.Email,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk commits of %s: %w", repoName, err)
	}
	return commits, nil
}

func (c *Client) openOrClone(ctx context.Context, repoName string) (*git.Repository, error) {
	path := filepath.Join(c.cacheDir, repoName)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("failed to open mirror of %s: %w", repoName, err)
	}

	repo, err = git.PlainCloneContext(ctx, path, true, &git.CloneOptions{
		URL:    c.remoteURL(repoName),
		Mirror: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clone %s: %w", repoName, err)
	}
	return repo, nil
}

func (c *Client) remoteURL(repoName string) string {
	return strings.TrimSuffix(c.remoteBase, "/") + "/" + repoName + ".git"
}
