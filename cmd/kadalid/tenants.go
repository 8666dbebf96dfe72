package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/kadali/pkg/cli/format"
	"github.com/rzbill/kadali/pkg/store"
	"github.com/rzbill/kadali/pkg/types"
)

func newTenantsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tenants",
		Aliases: []string{"tenant"},
		Short:   "Manage tenants in the configured store",
	}
	cmd.AddCommand(newTenantsAddCmd(a), newTenantsListCmd(a))
	return cmd
}

func newTenantsAddCmd(a *app) *cobra.Command {
	var name, tier, status string

	cmd := &cobra.Command{
		Use:   "add ID",
		Short: "Create or update a tenant",
		Example: `  kadalid tenants add acme --name "Acme Corp" --tier GROWTH
  kadalid tenants add acme --status SUSPENDED`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer st.Close()

			tenant := &types.Tenant{ID: args[0], CreatedAt: time.Now().UTC()}
			if existing, err := st.GetTenant(ctx, args[0]); err == nil {
				tenant = existing
			} else if !types.IsNotFound(err) {
				return err
			}

			if name != "" {
				tenant.Name = name
			}
			if tenant.Name == "" {
				tenant.Name = tenant.ID
			}
			if tier != "" {
				tenant.Tier = types.TenantTier(strings.ToUpper(tier))
			}
			if tenant.Tier == "" {
				tenant.Tier = types.TenantTierFree
			}
			if status != "" {
				tenant.Status = types.TenantStatus(strings.ToUpper(status))
			}
			if tenant.Status == "" {
				tenant.Status = types.TenantStatusActive
			}
			switch tenant.Status {
			case types.TenantStatusActive, types.TenantStatusSuspended:
			default:
				return types.NewValidationError(fmt.Sprintf("unknown tenant status %q (want ACTIVE or SUSPENDED)", status))
			}

			if err := tenant.Validate(); err != nil {
				return err
			}
			if err := st.SaveTenant(ctx, tenant); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), format.Success("Tenant %s saved (%s, %s)", tenant.ID, tenant.Tier, tenant.Status))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the id)")
	cmd.Flags().StringVar(&tier, "tier", "", "tier: FREE, STARTUP, GROWTH or ENTERPRISE (default FREE)")
	cmd.Flags().StringVar(&status, "status", "", "status: ACTIVE or SUSPENDED (default ACTIVE)")
	return cmd
}

func newTenantsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tenants",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer st.Close()

			tenants, err := st.ListTenants(ctx)
			if err != nil {
				return err
			}
			return renderTenants(cmd, st, tenants)
		},
	}
}

func renderTenants(cmd *cobra.Command, st store.ClusterStore, tenants []*types.Tenant) error {
	if len(tenants) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tenants found")
		return nil
	}

	table := format.NewTable("ID", "NAME", "TIER", "STATUS", "NAMESPACE", "ACTIVE CLUSTERS")
	for _, t := range tenants {
		clusters, err := st.ListClustersByTenant(cmd.Context(), t.ID)
		if err != nil {
			return err
		}
		active := 0
		for _, c := range clusters {
			if c.Status.IsActive() {
				active++
			}
		}
		table.AddRow(
			t.ID,
			t.Name,
			string(t.Tier),
			format.StatusLabel(string(t.Status)),
			types.NamespaceForTenant(t.ID),
			fmt.Sprint(active),
		)
	}
	return table.Render(cmd.OutOrStdout())
}
