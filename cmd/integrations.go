package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/issue-sync/internal/integrations"
	"github.com/ziadkadry99/issue-sync/internal/issuesync"
	"github.com/ziadkadry99/issue-sync/internal/queue"
	"github.com/ziadkadry99/issue-sync/internal/tracker"
)

var orgsCmd = &cobra.Command{
	Use:   "orgs",
	Short: "Manage organizations",
}

var orgsAddCmd = &cobra.Command{
	Use:   "add <slug>",
	Short: "Create an organization",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrgsAdd,
}

var integrationsCmd = &cobra.Command{
	Use:   "integrations",
	Short: "Manage tracker integrations",
	Long:  `Add, list and attach integrations with external trackers.`,
}

var integrationsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register an integration",
	RunE:  runIntegrationsAdd,
}

var integrationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List integrations of a provider",
	RunE:  runIntegrationsList,
}

var integrationsAttachCmd = &cobra.Command{
	Use:   "attach <integration-id> <organization-id>",
	Short: "Attach an integration to an organization",
	Args:  cobra.ExactArgs(2),
	RunE:  runIntegrationsAttach,
}

var integrationsSyncMetadataCmd = &cobra.Command{
	Use:   "sync-metadata <integration-id>",
	Short: "Refresh provider account details stored on an integration",
	Args:  cobra.ExactArgs(1),
	RunE:  runIntegrationsSyncMetadata,
}

func init() {
	orgsAddCmd.Flags().String("name", "", "display name")
	orgsCmd.AddCommand(orgsAddCmd)

	integrationsAddCmd.Flags().String("provider", integrations.ProviderVSTS, "provider key (vsts, github)")
	integrationsAddCmd.Flags().String("external-id", "", "provider account id")
	integrationsAddCmd.Flags().String("name", "", "display name")
	integrationsAddCmd.Flags().String("domain", "", "VSTS account URL")
	integrationsAddCmd.Flags().String("owner", "", "GitHub repository owner")
	integrationsAddCmd.Flags().String("repo", "", "GitHub repository name")
	integrationsAddCmd.Flags().String("subscription", "", "webhook subscription id")

	integrationsListCmd.Flags().String("provider", integrations.ProviderVSTS, "provider key (vsts, github)")

	integrationsAttachCmd.Flags().Bool("sync-comments", false, "mirror comments")
	integrationsAttachCmd.Flags().Bool("sync-assignee", false, "mirror assignments")
	integrationsAttachCmd.Flags().Bool("sync-status", false, "mirror resolution changes")
	integrationsAttachCmd.Flags().String("resolve-status", "", "external status for resolved groups")
	integrationsAttachCmd.Flags().String("unresolve-status", "", "external status for unresolved groups")

	integrationsCmd.AddCommand(integrationsAddCmd)
	integrationsCmd.AddCommand(integrationsListCmd)
	integrationsCmd.AddCommand(integrationsAttachCmd)
	integrationsCmd.AddCommand(integrationsSyncMetadataCmd)
	rootCmd.AddCommand(orgsCmd)
	rootCmd.AddCommand(integrationsCmd)
}

func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(context.Background(), a)
}

func runOrgsAdd(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	return withApp(func(ctx context.Context, a *app) error {
		org, err := a.tracker.CreateOrganization(ctx, tracker.Organization{Slug: args[0], Name: name})
		if err != nil {
			return err
		}
		fmt.Printf("Created organization %q (id %d)\n", org.Slug, org.ID)
		return nil
	})
}

func runIntegrationsAdd(cmd *cobra.Command, args []string) error {
	providerKey, _ := cmd.Flags().GetString("provider")
	externalID, _ := cmd.Flags().GetString("external-id")
	name, _ := cmd.Flags().GetString("name")
	domain, _ := cmd.Flags().GetString("domain")
	owner, _ := cmd.Flags().GetString("owner")
	repo, _ := cmd.Flags().GetString("repo")
	subscriptionID, _ := cmd.Flags().GetString("subscription")

	if externalID == "" {
		return fmt.Errorf("--external-id is required")
	}
	switch providerKey {
	case integrations.ProviderVSTS:
		if domain == "" {
			return fmt.Errorf("--domain is required for vsts integrations")
		}
	case integrations.ProviderGitHub:
		if owner == "" || repo == "" {
			return fmt.Errorf("--owner and --repo are required for github integrations")
		}
	default:
		return fmt.Errorf("unknown provider %q", providerKey)
	}

	meta := integrations.Metadata{DomainName: domain, Owner: owner, Repo: repo}
	if subscriptionID != "" {
		meta.Subscription = &integrations.Subscription{ID: subscriptionID}
	}

	return withApp(func(ctx context.Context, a *app) error {
		in, err := a.integrations.Create(ctx, integrations.Integration{
			Provider:   providerKey,
			ExternalID: externalID,
			Name:       name,
			Metadata:   meta,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Registered %s integration %d\n", in.Provider, in.ID)
		return nil
	})
}

func runIntegrationsList(cmd *cobra.Command, args []string) error {
	providerKey, _ := cmd.Flags().GetString("provider")
	return withApp(func(ctx context.Context, a *app) error {
		list, err := a.integrations.ListByProvider(ctx, providerKey)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Printf("No %s integrations registered.\n", providerKey)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tEXTERNAL ID\tSUBSCRIPTION\tSTATUS\tLAST CHECK\tORGS")
		for _, in := range list {
			orgIDs, err := a.integrations.OrganizationIDs(ctx, in.ID)
			if err != nil {
				return err
			}
			subID, status, check := "-", "-", "never"
			if sub := in.Metadata.Subscription; sub != nil {
				subID = sub.ID
				if sub.Status != "" {
					status = sub.Status
				}
				if sub.Check != nil {
					check = sub.Check.Format(time.RFC3339)
				}
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%v\n", in.ID, in.Name, in.ExternalID, subID, status, check, orgIDs)
		}
		return w.Flush()
	})
}

func runIntegrationsAttach(cmd *cobra.Command, args []string) error {
	integrationID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integration id %q", args[0])
	}
	organizationID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid organization id %q", args[1])
	}

	var oc integrations.OrgConfig
	oc.SyncComments, _ = cmd.Flags().GetBool("sync-comments")
	oc.SyncForwardAssignment, _ = cmd.Flags().GetBool("sync-assignee")
	oc.SyncStatusForward, _ = cmd.Flags().GetBool("sync-status")
	oc.ResolveStatus, _ = cmd.Flags().GetString("resolve-status")
	oc.UnresolveStatus, _ = cmd.Flags().GetString("unresolve-status")

	return withApp(func(ctx context.Context, a *app) error {
		if _, err := a.tracker.GetOrganization(ctx, organizationID); err != nil {
			return err
		}
		if _, err := a.integrations.Get(ctx, integrationID); err != nil {
			return err
		}
		if _, err := a.integrations.AddOrganization(ctx, integrations.OrganizationIntegration{
			OrganizationID: organizationID,
			IntegrationID:  integrationID,
			Config:         oc,
		}); err != nil {
			return err
		}
		fmt.Printf("Attached integration %d to organization %d\n", integrationID, organizationID)
		return nil
	})
}

func runIntegrationsSyncMetadata(cmd *cobra.Command, args []string) error {
	integrationID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integration id %q", args[0])
	}
	return withApp(func(ctx context.Context, a *app) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		err := a.queue.Run(ctx, issuesync.TaskSyncMetadata, issuesync.MetadataArgs{IntegrationID: integrationID})
		if outcome, ok := queue.TerminalOutcome(err); ok {
			return fmt.Errorf("metadata sync %s: %w", outcome, err)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Refreshed metadata of integration %d\n", integrationID)
		return nil
	})
}
