package provider

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ziadkadry99/issue-sync/internal/integrations"
	"github.com/ziadkadry99/issue-sync/internal/tracker"
)

const (
	githubAPIVersion     = "2022-11-28"
	defaultGitHubBaseURL = "https://api.github.com"

	// GitHubDisabledStatus is reported for a repository hook that is no
	// longer active.
	GitHubDisabledStatus = "inactive"
	GitHubActiveStatus   = "active"
)

// GitHubClient calls the GitHub REST API. Instances are "owner/repo".
type GitHubClient struct {
	rest *restClient
}

// NewGitHubClient creates a token-authenticated client. An empty
// BaseURL selects the public API.
func NewGitHubClient(cfg ClientConfig) *GitHubClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGitHubBaseURL
	}
	token := cfg.Token
	authorize := func(req *http.Request) {
		req.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return &GitHubClient{rest: newRESTClient(integrations.ProviderGitHub, cfg, authorize)}
}

type githubHook struct {
	ID     int64 `json:"id"`
	Active bool  `json:"active"`
}

// GetSubscription maps a repository hook onto a Subscription whose status
// is "active" or "inactive".
func (c *GitHubClient) GetSubscription(ctx context.Context, instance, id string) (*Subscription, error) {
	var hook githubHook
	if err := c.rest.doJSON(ctx, http.MethodGet, "/repos/"+instance+"/hooks/"+id, nil, &hook); err != nil {
		return nil, err
	}
	status := GitHubDisabledStatus
	if hook.Active {
		status = GitHubActiveStatus
	}
	return &Subscription{ID: strconv.FormatInt(hook.ID, 10), Status: status}, nil
}

// UpdateSubscription reactivates a repository hook.
func (c *GitHubClient) UpdateSubscription(ctx context.Context, instance, id string) error {
	return c.rest.doJSON(ctx, http.MethodPatch, "/repos/"+instance+"/hooks/"+id, map[string]any{"active": true}, nil)
}

// GitHubInstallation is a GitHub repository integration bound to an
// organization.
type GitHubInstallation struct {
	client      *GitHubClient
	integration integrations.Integration
	org         OrgSettings
	repo        string
}

// NewGitHubInstallation fails with ErrIntegration when the metadata does
// not name a repository.
func NewGitHubInstallation(client *GitHubClient, in integrations.Integration, org OrgSettings) (*GitHubInstallation, error) {
	if in.Metadata.Owner == "" || in.Metadata.Repo == "" {
		return nil, integrationError("github integration %d has no owner/repo", in.ID)
	}
	return &GitHubInstallation{
		client:      client,
		integration: in,
		org:         org,
		repo:        in.Metadata.Owner + "/" + in.Metadata.Repo,
	}, nil
}

func (i *GitHubInstallation) Provider() string              { return integrations.ProviderGitHub }
func (i *GitHubInstallation) Instance() string              { return i.repo }
func (i *GitHubInstallation) Client() SubscriptionClient    { return i.client }
func (i *GitHubInstallation) ShouldSync(kind SyncKind) bool { return i.org.shouldSync(kind) }

// issuePath accepts "owner/repo#123" or a bare "123" in the integration's
// own repository.
func (i *GitHubInstallation) issuePath(key string) (string, error) {
	repo, number := i.repo, key
	if idx := strings.LastIndex(key, "#"); idx >= 0 {
		repo, number = key[:idx], key[idx+1:]
	}
	if _, err := strconv.Atoi(number); err != nil || repo == "" {
		return "", fmt.Errorf("invalid github issue key %q", key)
	}
	return "/repos/" + repo + "/issues/" + number, nil
}

// CreateComment posts text as-is; GitHub renders markdown itself.
func (i *GitHubInstallation) CreateComment(ctx context.Context, key, text string) error {
	path, err := i.issuePath(key)
	if err != nil {
		return err
	}
	return i.client.rest.doJSON(ctx, http.MethodPost, path+"/comments", map[string]string{"body": text}, nil)
}

// SyncAssigneeOutbound assigns the user whose Name is their GitHub login.
func (i *GitHubInstallation) SyncAssigneeOutbound(ctx context.Context, issue tracker.ExternalIssue, user *tracker.User, assign bool) error {
	path, err := i.issuePath(issue.Key)
	if err != nil {
		return err
	}
	assignees := []string{}
	if assign && user != nil && user.Name != "" {
		assignees = append(assignees, user.Name)
	}
	return i.client.rest.doJSON(ctx, http.MethodPatch, path, map[string]any{"assignees": assignees}, nil)
}

// SyncStatusOutbound closes or reopens the issue. A configured resolve
// status is sent as the close reason.
func (i *GitHubInstallation) SyncStatusOutbound(ctx context.Context, issue tracker.ExternalIssue, resolved bool, projectID int64) error {
	path, err := i.issuePath(issue.Key)
	if err != nil {
		return err
	}
	body := map[string]string{"state": "open"}
	if resolved {
		body["state"] = "closed"
		if reason := i.org.Config.ResolveStatus; reason != "" {
			body["state_reason"] = reason
		}
	}
	i.client.rest.logger.Debug("github status sync",
		"project_id", projectID,
		"issue", issue.Key,
		"state", body["state"],
	)
	return i.client.rest.doJSON(ctx, http.MethodPatch, path, body, nil)
}

type githubRepository struct {
	HTMLURL       string `json:"html_url"`
	DefaultBranch string `json:"default_branch"`
}

// SyncMetadata records the repository's URL and default branch.
func (i *GitHubInstallation) SyncMetadata(ctx context.Context) (integrations.Metadata, error) {
	var repo githubRepository
	if err := i.client.rest.doJSON(ctx, http.MethodGet, "/repos/"+i.repo, nil, &repo); err != nil {
		return integrations.Metadata{}, err
	}
	meta, err := i.integration.Metadata.WithExtra("html_url", repo.HTMLURL)
	if err != nil {
		return integrations.Metadata{}, err
	}
	return meta.WithExtra("default_branch", repo.DefaultBranch)
}
