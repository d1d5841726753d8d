package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/ziadkadry99/issue-sync/internal/integrations"
)

// Factory builds the Installation for one provider.
type Factory func(in integrations.Integration, org OrgSettings) (Installation, error)

// OrgConfigSource loads the per-organization settings of an integration.
type OrgConfigSource interface {
	GetOrganizationIntegration(ctx context.Context, organizationID, integrationID int64) (*integrations.OrganizationIntegration, error)
}

// Resolver maps an integration to its Installation by provider key.
type Resolver struct {
	orgs OrgConfigSource

	mu        sync.RWMutex
	factories map[string]Factory
}

// NewResolver creates a Resolver with no providers registered.
func NewResolver(orgs OrgConfigSource) *Resolver {
	return &Resolver{orgs: orgs, factories: make(map[string]Factory)}
}

// Register installs the factory for a provider key, replacing any
// previous one.
func (r *Resolver) Register(provider string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[provider] = f
}

// Installation returns the installation of in for organizationID. An
// organizationID of zero resolves an installation without organization
// settings, as used by metadata refreshes.
func (r *Resolver) Installation(ctx context.Context, in *integrations.Integration, organizationID int64) (Installation, error) {
	r.mu.RLock()
	f, ok := r.factories[in.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, integrationError("unsupported provider %q", in.Provider)
	}

	var org OrgSettings
	if organizationID != 0 {
		oi, err := r.orgs.GetOrganizationIntegration(ctx, organizationID, in.ID)
		if err != nil {
			return nil, fmt.Errorf("loading organization settings: %w", err)
		}
		org = OrgSettings{OrganizationID: organizationID, Config: oi.Config}
	}

	inst, err := f(*in, org)
	if err != nil {
		return nil, fmt.Errorf("building %s installation for integration %d: %w", in.Provider, in.ID, err)
	}
	return inst, nil
}

// Config selects which providers a default resolver supports.
type Config struct {
	VSTS   *VSTSClient
	GitHub *GitHubClient
}

// NewDefaultResolver registers every provider that has a client in cfg.
func NewDefaultResolver(orgs OrgConfigSource, cfg Config) *Resolver {
	r := NewResolver(orgs)
	if cfg.VSTS != nil {
		r.Register(integrations.ProviderVSTS, func(in integrations.Integration, org OrgSettings) (Installation, error) {
			inst, err := NewVSTSInstallation(cfg.VSTS, in, org)
			if err != nil {
				return nil, err
			}
			return inst, nil
		})
	}
	if cfg.GitHub != nil {
		r.Register(integrations.ProviderGitHub, func(in integrations.Integration, org OrgSettings) (Installation, error) {
			inst, err := NewGitHubInstallation(cfg.GitHub, in, org)
			if err != nil {
				return nil, err
			}
			return inst, nil
		})
	}
	return r
}
