// Package github publishes commit statuses to the GitHub status API.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v68/github"
)

// StatusPublisher writes deploy-readiness verdicts as commit statuses
type StatusPublisher struct {
	client *github.Client
}

// NewStatusPublisher creates a publisher authenticated with an OAuth token
func NewStatusPublisher(token string) *StatusPublisher {
	return &StatusPublisher{client: github.NewClient(nil).WithAuthToken(token)}
}

// NewStatusPublisherWithHTTPClient creates a publisher against a custom base
// URL, primarily for testing with httptest servers.
func NewStatusPublisherWithHTTPClient(httpClient *http.Client, baseURL string) (*StatusPublisher, error) {
	client, err := github.NewClient(httpClient).WithEnterpriseURLs(baseURL, baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to configure GitHub client: %w", err)
	}
	return &StatusPublisher{client: client}, nil
}

// Publish sets the commit status. repoName is "owner/name"; state must be
// one of pending, success, failure.
func (p *StatusPublisher) Publish(ctx context.Context, repoName, sha, statusContext, state, description, targetURL string) error {
	owner, name, err := splitRepoName(repoName)
	if err != nil {
		return err
	}

	status := &github.RepoStatus{
		State:       github.String(state),
		Context:     github.String(statusContext),
		Description: github.String(description),
	}
	if targetURL != "" {
		status.TargetURL = github.String(targetURL)
	}

	_, _, err = p.client.Repositories.CreateStatus(ctx, owner, name, sha, status)
	if err != nil {
		return fmt.Errorf("failed to publish status for %s@%s: %w", repoName, sha, err)
	}
	return nil
}

func splitRepoName(repoName string) (string, string, error) {
	parts := strings.SplitN(repoName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository name %q is not in owner/name form", repoName)
	}
	return parts[0], parts[1], nil
}
