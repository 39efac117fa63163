package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shawn/wecom-gateway/internal/cli/api"
	"github.com/shawn/wecom-gateway/internal/cli/output"
)

func newTenantListCmd(client api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()

			tenants, err := client.ListTenants(ctx)
			if err != nil {
				return failed(cmd, "list tenants", err)
			}

			return output.Render(cmd.OutOrStdout(), outputFormat, tenants, func(w io.Writer) {
				rows := make([][]string, 0, len(tenants))
				for _, t := range tenants {
					callback := "no"
					if t.CallbackConfigured {
						callback = "yes"
					}
					updated := "-"
					if !t.UpdatedAt.IsZero() {
						updated = t.UpdatedAt.Format("2006-01-02 15:04:05")
					}
					rows = append(rows, []string{t.TenantID, t.CorpID, strconv.FormatInt(t.AgentID, 10), callback, updated})
				}
				output.Table(w, []string{"tenant id", "corp id", "agent id", "callback", "updated"}, rows)
			})
		},
	}
}

func newTenantGetCmd(client api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "get <tenant-id>",
		Short: "Get tenant details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()

			tenant, err := client.GetTenant(ctx, args[0])
			if err != nil {
				return failed(cmd, "get tenant", err)
			}
			return printTenant(cmd.OutOrStdout(), tenant)
		},
	}
}

func newTenantDeleteCmd(client api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <tenant-id>",
		Short: "Delete a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := args[0]
			styler := output.NewStyler(noColor)
			styler.FprintInfo(cmd.OutOrStdout(), fmt.Sprintf("Deleting tenant '%s'...", tenantID))

			ctx, cancel := requestContext(cmd)
			defer cancel()

			if err := client.DeleteTenant(ctx, tenantID); err != nil {
				return failed(cmd, "delete tenant", err)
			}

			styler.FprintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Tenant '%s' deleted", tenantID))
			return nil
		},
	}
}

func newTenantResetTokenCmd(client api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-token <tenant-id>",
		Short: "Drop the tenant's cached access token",
		Long:  `Drop the cached access token so the next API call fetches a fresh one.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()

			if err := client.InvalidateToken(ctx, args[0]); err != nil {
				return failed(cmd, "reset token", err)
			}
			output.NewStyler(noColor).FprintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Access token for '%s' dropped", args[0]))
			return nil
		},
	}
}
