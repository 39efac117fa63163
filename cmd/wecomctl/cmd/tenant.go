package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shawn/wecom-gateway/internal/cli/api"
	"github.com/shawn/wecom-gateway/internal/cli/output"
)

func newTenantCmd(client api.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenant credentials",
		Long:  `Create, list, get, update, and delete tenant credential sets.`,
	}

	cmd.AddCommand(newTenantCreateCmd(client))
	cmd.AddCommand(newTenantListCmd(client))
	cmd.AddCommand(newTenantGetCmd(client))
	cmd.AddCommand(newTenantUpdateCmd(client))
	cmd.AddCommand(newTenantDeleteCmd(client))
	cmd.AddCommand(newTenantResetTokenCmd(client))

	return cmd
}

// printTenant renders one tenant in the selected output format.
func printTenant(w io.Writer, tenant *api.Tenant) error {
	return output.Render(w, outputFormat, tenant, func(w io.Writer) {
		callback := "not configured"
		if tenant.CallbackConfigured {
			callback = "configured"
		}
		pairs := [][2]string{
			{"Tenant ID", tenant.TenantID},
			{"Corp ID", tenant.CorpID},
			{"Agent ID", strconv.FormatInt(tenant.AgentID, 10)},
			{"Callback", callback},
		}
		if !tenant.CreatedAt.IsZero() {
			pairs = append(pairs, [2]string{"Created At", tenant.CreatedAt.Format(time.RFC3339)})
		}
		if !tenant.UpdatedAt.IsZero() {
			pairs = append(pairs, [2]string{"Updated At", tenant.UpdatedAt.Format(time.RFC3339)})
		}
		output.NewStyler(noColor).Fields(w, pairs...)
	})
}

func failed(cmd *cobra.Command, what string, err error) error {
	output.NewStyler(noColor).FprintError(cmd.ErrOrStderr(), fmt.Sprintf("Failed to %s: %v", what, err))
	return err
}
