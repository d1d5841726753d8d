package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ziadkadry99/issue-sync/internal/integrations"
	"github.com/ziadkadry99/issue-sync/internal/tracker"
)

const (
	defaultVSTSAPIVersion = "4.1"

	// VSTSDisabledStatus is the status VSTS gives a webhook subscription
	// it switched off after repeated delivery failures.
	VSTSDisabledStatus = "disabledBySystem"

	VSTSEnabledStatus      = "enabled"
	vstsDefaultResolved    = "Resolved"
	vstsDefaultUnresolved  = "Active"
	vstsJSONPatchMediaType = "application/json-patch+json"
)

// VSTSClient calls the Azure DevOps (VSTS) REST API. Every request is
// addressed to an account URL taken from the integration metadata.
type VSTSClient struct {
	rest       *restClient
	apiVersion string
}

// NewVSTSClient creates a client authenticating with a personal access
// token. An empty apiVersion selects 4.1.
func NewVSTSClient(cfg ClientConfig, apiVersion string) *VSTSClient {
	if apiVersion == "" {
		apiVersion = defaultVSTSAPIVersion
	}
	token := cfg.Token
	authorize := func(req *http.Request) {
		if token != "" {
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(":"+token)))
		}
	}
	return &VSTSClient{
		rest:       newRESTClient(integrations.ProviderVSTS, cfg, authorize),
		apiVersion: apiVersion,
	}
}

func (c *VSTSClient) url(instance, path string) string {
	return strings.TrimRight(instance, "/") + path + "?api-version=" + url.QueryEscape(c.apiVersion)
}

// GetSubscription returns the hook subscription with the given id.
func (c *VSTSClient) GetSubscription(ctx context.Context, instance, id string) (*Subscription, error) {
	var sub Subscription
	if err := c.rest.doJSON(ctx, http.MethodGet, c.url(instance, "/_apis/hooks/subscriptions/"+url.PathEscape(id)), nil, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// UpdateSubscription re-enables a subscription. The stored document is
// sent back unchanged apart from its status, since VSTS replaces the
// whole subscription on PUT.
func (c *VSTSClient) UpdateSubscription(ctx context.Context, instance, id string) error {
	target := c.url(instance, "/_apis/hooks/subscriptions/"+url.PathEscape(id))

	var doc map[string]json.RawMessage
	if err := c.rest.doJSON(ctx, http.MethodGet, target, nil, &doc); err != nil {
		return err
	}
	if doc == nil {
		doc = make(map[string]json.RawMessage)
	}
	doc["status"] = json.RawMessage(`"` + VSTSEnabledStatus + `"`)

	return c.rest.doJSON(ctx, http.MethodPut, target, doc, nil)
}

type jsonPatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

func (c *VSTSClient) updateWorkItem(ctx context.Context, instance, id string, ops []jsonPatchOp) error {
	target := c.url(instance, "/_apis/wit/workitems/"+url.PathEscape(id))
	return c.rest.do(ctx, http.MethodPatch, target, vstsJSONPatchMediaType, ops, nil)
}

type vstsConnectionData struct {
	InstanceID        string `json:"instanceId"`
	AuthenticatedUser struct {
		ID string `json:"id"`
	} `json:"authenticatedUser"`
}

func (c *VSTSClient) connectionData(ctx context.Context, instance string) (*vstsConnectionData, error) {
	var data vstsConnectionData
	if err := c.rest.doJSON(ctx, http.MethodGet, c.url(instance, "/_apis/connectionData"), nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// VSTSInstallation is a VSTS integration bound to an organization.
type VSTSInstallation struct {
	client      *VSTSClient
	integration integrations.Integration
	org         OrgSettings
	instance    string
}

// NewVSTSInstallation fails with ErrIntegration when the metadata has no
// account URL.
func NewVSTSInstallation(client *VSTSClient, in integrations.Integration, org OrgSettings) (*VSTSInstallation, error) {
	instance := strings.TrimRight(in.Metadata.DomainName, "/")
	if instance == "" {
		return nil, integrationError("vsts integration %d has no domain_name", in.ID)
	}
	return &VSTSInstallation{client: client, integration: in, org: org, instance: instance}, nil
}

func (i *VSTSInstallation) Provider() string              { return integrations.ProviderVSTS }
func (i *VSTSInstallation) Instance() string              { return i.instance }
func (i *VSTSInstallation) Client() SubscriptionClient    { return i.client }
func (i *VSTSInstallation) ShouldSync(kind SyncKind) bool { return i.org.shouldSync(kind) }

// CreateComment appends to the work item's discussion. VSTS renders the
// history field as HTML.
func (i *VSTSInstallation) CreateComment(ctx context.Context, key, text string) error {
	body, err := renderCommentHTML(text)
	if err != nil {
		return fmt.Errorf("rendering comment: %w", err)
	}
	return i.client.updateWorkItem(ctx, i.instance, key, []jsonPatchOp{
		{Op: "add", Path: "/fields/System.History", Value: body},
	})
}

// SyncAssigneeOutbound sets System.AssignedTo to the user's email.
func (i *VSTSInstallation) SyncAssigneeOutbound(ctx context.Context, issue tracker.ExternalIssue, user *tracker.User, assign bool) error {
	assignee := ""
	if assign && user != nil {
		assignee = user.Email
	}
	return i.client.updateWorkItem(ctx, i.instance, issue.Key, []jsonPatchOp{
		{Op: "replace", Path: "/fields/System.AssignedTo", Value: assignee},
	})
}

// SyncStatusOutbound moves the work item to the organization's resolve or
// unresolve state.
func (i *VSTSInstallation) SyncStatusOutbound(ctx context.Context, issue tracker.ExternalIssue, resolved bool, projectID int64) error {
	state := i.org.Config.UnresolveStatus
	if state == "" {
		state = vstsDefaultUnresolved
	}
	if resolved {
		state = i.org.Config.ResolveStatus
		if state == "" {
			state = vstsDefaultResolved
		}
	}
	i.client.rest.logger.Debug("vsts status sync",
		"project_id", projectID,
		"work_item", issue.Key,
		"state", state,
	)
	return i.client.updateWorkItem(ctx, i.instance, issue.Key, []jsonPatchOp{
		{Op: "replace", Path: "/fields/System.State", Value: state},
	})
}

// SyncMetadata records the account's instance id.
func (i *VSTSInstallation) SyncMetadata(ctx context.Context) (integrations.Metadata, error) {
	data, err := i.client.connectionData(ctx, i.instance)
	if err != nil {
		return integrations.Metadata{}, err
	}
	if data.InstanceID == "" {
		return integrations.Metadata{}, integrationError("vsts account %s returned no instance id", i.instance)
	}
	return i.integration.Metadata.WithExtra("instance_id", data.InstanceID)
}
