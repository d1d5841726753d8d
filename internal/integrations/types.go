package integrations

import (
	"encoding/json"
	"fmt"
	"time"
)

// Provider keys understood by the installation resolver.
const (
	ProviderVSTS   = "vsts"
	ProviderGitHub = "github"
)

// Integration is a configured connection to one external provider
// account. It can be attached to several organizations.
type Integration struct {
	ID         int64     `json:"id"`
	Provider   string    `json:"provider"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name"`
	Metadata   Metadata  `json:"metadata"`
	CreatedAt  time.Time `json:"created_at"`
}

// Subscription is the webhook registration an integration holds with its
// provider. A nil Check means the subscription has never been inspected.
type Subscription struct {
	ID     string     `json:"id"`
	Status string     `json:"status,omitempty"`
	Check  *time.Time `json:"check,omitempty"`
}

// Metadata is the provider-specific blob stored with an integration.
// Known keys are typed; anything else is kept verbatim in Extra so a
// write never drops data it did not understand.
type Metadata struct {
	Subscription *Subscription
	// DomainName is the VSTS account URL, e.g. https://dev.azure.com/acme/.
	DomainName string
	Owner      string
	Repo       string
	Extra      map[string]json.RawMessage
}

var knownMetadataKeys = []string{"subscription", "domain_name", "owner", "repo"}

// WithSubscriptionCheck returns a copy of m whose subscription has been
// stamped as checked at t. If status is non-empty it replaces the stored
// status. m itself is not modified.
func (m Metadata) WithSubscriptionCheck(t time.Time, status string) Metadata {
	out := m.clone()
	if out.Subscription == nil {
		out.Subscription = &Subscription{}
	}
	checked := t.UTC()
	out.Subscription.Check = &checked
	if status != "" {
		out.Subscription.Status = status
	}
	return out
}

// WithExtra returns a copy of m with key set to the JSON encoding of v.
// Known keys cannot be set this way.
func (m Metadata) WithExtra(key string, v any) (Metadata, error) {
	for _, known := range knownMetadataKeys {
		if key == known {
			return Metadata{}, fmt.Errorf("metadata key %q is typed", key)
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Metadata{}, fmt.Errorf("encoding metadata.%s: %w", key, err)
	}
	out := m.clone()
	if out.Extra == nil {
		out.Extra = make(map[string]json.RawMessage)
	}
	out.Extra[key] = data
	return out, nil
}

func (m Metadata) clone() Metadata {
	out := m
	if m.Subscription != nil {
		sub := *m.Subscription
		if m.Subscription.Check != nil {
			check := *m.Subscription.Check
			sub.Check = &check
		}
		out.Subscription = &sub
	}
	if m.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// MarshalJSON flattens the typed fields and Extra into a single object.
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+len(knownMetadataKeys))
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.Subscription != nil {
		out["subscription"] = m.Subscription
	}
	if m.DomainName != "" {
		out["domain_name"] = m.DomainName
	}
	if m.Owner != "" {
		out["owner"] = m.Owner
	}
	if m.Repo != "" {
		out["repo"] = m.Repo
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits a metadata object into typed fields and Extra.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding metadata: %w", err)
	}

	*m = Metadata{}
	if v, ok := raw["subscription"]; ok && string(v) != "null" {
		var sub Subscription
		if err := json.Unmarshal(v, &sub); err != nil {
			return fmt.Errorf("decoding metadata.subscription: %w", err)
		}
		m.Subscription = &sub
	}
	for key, dst := range map[string]*string{"domain_name": &m.DomainName, "owner": &m.Owner, "repo": &m.Repo} {
		if v, ok := raw[key]; ok {
			if err := json.Unmarshal(v, dst); err != nil {
				return fmt.Errorf("decoding metadata.%s: %w", key, err)
			}
		}
	}

	for _, key := range knownMetadataKeys {
		delete(raw, key)
	}
	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}

// OrganizationIntegration attaches an integration to an organization and
// carries that organization's sync settings.
type OrganizationIntegration struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	IntegrationID  int64     `json:"integration_id"`
	Config         OrgConfig `json:"config"`
}

// OrgConfig is the per-organization sync configuration of an integration.
type OrgConfig struct {
	SyncComments          bool `json:"sync_comments"`
	SyncForwardAssignment bool `json:"sync_forward_assignment"`
	SyncStatusForward     bool `json:"sync_status_forward"`
	// ResolveStatus and UnresolveStatus name the external workflow states
	// a resolved/unresolved group maps to. Providers fall back to their
	// own defaults when empty.
	ResolveStatus   string `json:"resolve_status,omitempty"`
	UnresolveStatus string `json:"unresolve_status,omitempty"`
}
