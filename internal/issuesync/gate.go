package issuesync

import (
	"context"
	"fmt"

	"github.com/ziadkadry99/issue-sync/internal/features"
	"github.com/ziadkadry99/issue-sync/internal/provider"
	"github.com/ziadkadry99/issue-sync/internal/tracker"
)

// Decision is the gate's verdict for one sync.
type Decision int

const (
	Sync Decision = iota
	SkipFeatureDisabled
	SkipCapabilityDisabled
)

func (d Decision) String() string {
	switch d {
	case Sync:
		return "sync"
	case SkipFeatureDisabled:
		return "skip_feature_disabled"
	case SkipCapabilityDisabled:
		return "skip_capability_disabled"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Gate decides whether an outbound sync runs: the organization must have
// issue sync enabled and the installation must sync that kind.
type Gate struct {
	features features.Checker
}

// NewGate creates a Gate over the given flag service.
func NewGate(checker features.Checker) *Gate {
	return &Gate{features: checker}
}

// Enabled reports whether the organization has issue sync turned on.
func (g *Gate) Enabled(ctx context.Context, org tracker.Organization) (bool, error) {
	enabled, err := g.features.Has(ctx, features.IssueSync, org)
	if err != nil {
		return false, fmt.Errorf("checking %s for organization %d: %w", features.IssueSync, org.ID, err)
	}
	return enabled, nil
}

// Evaluate checks the feature flag first and the installation second.
// Only a flag lookup failure is an error.
func (g *Gate) Evaluate(ctx context.Context, org tracker.Organization, inst provider.Installation, kind provider.SyncKind) (Decision, error) {
	enabled, err := g.Enabled(ctx, org)
	if err != nil {
		return Sync, err
	}
	if !enabled {
		return SkipFeatureDisabled, nil
	}
	return capability(inst, kind), nil
}

func capability(inst provider.Installation, kind provider.SyncKind) Decision {
	if !inst.ShouldSync(kind) {
		return SkipCapabilityDisabled
	}
	return Sync
}
