// Package subscriptions keeps provider webhook subscriptions alive. A
// periodic scan selects integrations whose subscription has not been
// inspected within the interval and schedules one check per attached
// organization; the check re-enables a subscription the provider turned
// off.
package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ziadkadry99/issue-sync/internal/clock"
	"github.com/ziadkadry99/issue-sync/internal/integrations"
	"github.com/ziadkadry99/issue-sync/internal/provider"
	"github.com/ziadkadry99/issue-sync/internal/queue"
	"github.com/ziadkadry99/issue-sync/internal/retry"
)

// DefaultInterval is how long an inspected subscription is left alone.
const DefaultInterval = 6 * time.Hour

// Monitor is the per-provider configuration of the scan.
type Monitor struct {
	Provider string
	// DisabledStatus is the subscription status that triggers a renewal.
	DisabledStatus string
	// EnabledStatus is stored after a successful renewal.
	EnabledStatus string
	Interval      time.Duration
	// TouchHealthy also stamps the check time of healthy subscriptions,
	// so they are not inspected again until the interval elapses.
	TouchHealthy bool
}

// DefaultMonitor returns the monitor for a known provider.
func DefaultMonitor(providerKey string, interval time.Duration, touchHealthy bool) (Monitor, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	m := Monitor{Provider: providerKey, Interval: interval, TouchHealthy: touchHealthy}
	switch providerKey {
	case integrations.ProviderVSTS:
		m.DisabledStatus, m.EnabledStatus = provider.VSTSDisabledStatus, provider.VSTSEnabledStatus
	case integrations.ProviderGitHub:
		m.DisabledStatus, m.EnabledStatus = provider.GitHubDisabledStatus, provider.GitHubActiveStatus
	default:
		return Monitor{}, fmt.Errorf("%w %q", ErrUnknownProvider, providerKey)
	}
	return m, nil
}

// InstallationResolver binds an integration to an organization.
type InstallationResolver interface {
	Installation(ctx context.Context, in *integrations.Integration, organizationID int64) (provider.Installation, error)
}

// Config wires a Service.
type Config struct {
	Integrations  *integrations.Store
	Installations InstallationResolver
	Scheduler     queue.Scheduler
	Monitors      []Monitor
	Clock         clock.Clock
	Logger        *slog.Logger
}

// Service runs scans and checks for every configured monitor.
type Service struct {
	integrations  *integrations.Store
	installations InstallationResolver
	scheduler     queue.Scheduler
	monitors      map[string]Monitor
	clock         clock.Clock
	logger        *slog.Logger
}

// NewService creates a Service.
func NewService(cfg Config) *Service {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	monitors := make(map[string]Monitor, len(cfg.Monitors))
	for _, m := range cfg.Monitors {
		if m.Interval <= 0 {
			m.Interval = DefaultInterval
		}
		monitors[m.Provider] = m
	}
	return &Service{
		integrations:  cfg.Integrations,
		installations: cfg.Installations,
		scheduler:     cfg.Scheduler,
		monitors:      monitors,
		clock:         clk,
		logger:        logger,
	}
}

// Providers returns the provider keys with a monitor.
func (s *Service) Providers() []string {
	out := make([]string, 0, len(s.monitors))
	for p := range s.monitors {
		out = append(out, p)
	}
	return out
}

// ScanResult summarizes one scan.
type ScanResult struct {
	Provider  string `json:"provider"`
	Scanned   int    `json:"scanned"`
	Skipped   int    `json:"skipped"`
	Selected  int    `json:"selected"`
	Scheduled int    `json:"scheduled"`
}

// ProgressFunc is told how many integrations have been scanned so far.
type ProgressFunc func(done, total int)

// ErrUnknownProvider is returned for a provider without a monitor.
var ErrUnknownProvider = errors.New("no subscription monitor for provider")

// Scan selects stale subscriptions of providerKey and schedules a check
// for each (integration, organization) pair. progress may be nil.
func (s *Service) Scan(ctx context.Context, providerKey string, progress ProgressFunc) (ScanResult, error) {
	m, ok := s.monitors[providerKey]
	if !ok {
		return ScanResult{}, fmt.Errorf("%w %q", ErrUnknownProvider, providerKey)
	}

	all, err := s.integrations.ListByProvider(ctx, providerKey)
	if err != nil {
		return ScanResult{}, err
	}

	result := ScanResult{Provider: providerKey}
	cutoff := s.clock.Now().Add(-m.Interval)

	for i := range all {
		in := &all[i]
		result.Scanned++
		if progress != nil {
			progress(result.Scanned, len(all))
		}

		sub := in.Metadata.Subscription
		if sub == nil || sub.ID == "" {
			result.Skipped++
			continue
		}
		if sub.Check != nil && sub.Check.After(cutoff) {
			continue
		}
		result.Selected++

		orgIDs, err := s.integrations.OrganizationIDs(ctx, in.ID)
		if err != nil {
			return result, err
		}
		for _, orgID := range orgIDs {
			args := CheckArgs{IntegrationID: in.ID, OrganizationID: orgID}
			if err := s.scheduler.Schedule(ctx, TaskCheck, args, 0); err != nil {
				return result, fmt.Errorf("scheduling subscription check for integration %d: %w", in.ID, err)
			}
			result.Scheduled++
		}
	}

	s.logger.Info("subscription scan finished",
		"provider", providerKey,
		"scanned", result.Scanned,
		"skipped", result.Skipped,
		"selected", result.Selected,
		"scheduled", result.Scheduled,
	)
	return result, nil
}

// Check inspects the subscription of one integration through the given
// organization's installation and renews it if the provider disabled it.
func (s *Service) Check(ctx context.Context, integrationID, organizationID int64) error {
	in, err := s.integrations.Get(ctx, integrationID)
	if err != nil {
		return err
	}
	m, ok := s.monitors[in.Provider]
	if !ok {
		return retry.Permanent(fmt.Errorf("%w %q", ErrUnknownProvider, in.Provider))
	}
	sub := in.Metadata.Subscription
	if sub == nil || sub.ID == "" {
		s.logger.Debug("subscription removed before check", "integration_id", in.ID)
		return nil
	}

	inst, err := s.installations.Installation(ctx, in, organizationID)
	if err != nil {
		return err
	}
	client := inst.Client()

	remote, err := client.GetSubscription(ctx, inst.Instance(), sub.ID)
	if err != nil {
		return fmt.Errorf("fetching subscription %s: %w", sub.ID, err)
	}

	logger := s.logger.With(
		"provider", in.Provider,
		"integration_id", in.ID,
		"organization_id", organizationID,
		"subscription_id", sub.ID,
		"status", remote.Status,
	)

	if remote.Status != m.DisabledStatus {
		if !m.TouchHealthy {
			logger.Debug("subscription healthy")
			return nil
		}
		logger.Debug("subscription healthy, recording check")
		return s.integrations.UpdateMetadata(ctx, in.ID, in.Metadata.WithSubscriptionCheck(s.clock.Now(), remote.Status))
	}

	if err := client.UpdateSubscription(ctx, inst.Instance(), sub.ID); err != nil {
		return fmt.Errorf("renewing subscription %s: %w", sub.ID, err)
	}
	if err := s.integrations.UpdateMetadata(ctx, in.ID, in.Metadata.WithSubscriptionCheck(s.clock.Now(), m.EnabledStatus)); err != nil {
		return err
	}
	logger.Info("subscription renewed")
	return nil
}
