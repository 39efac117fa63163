package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shawn/wecom-gateway/internal/cli/api"
	"github.com/shawn/wecom-gateway/internal/cli/output"
)

func newTenantCreateCmd(client api.Client) *cobra.Command {
	req := &api.CreateTenantRequest{}

	cmd := &cobra.Command{
		Use:   "create <tenant-id>",
		Short: "Register a tenant's credentials",
		Long: `Register the corp ID, application agent ID and secret for a tenant.

--token and --aes-key configure callback verification. They are optional,
but the tenant's callback URL answers 404 until both are set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.TenantID = args[0]
			styler := output.NewStyler(noColor)
			styler.FprintInfo(cmd.OutOrStdout(), fmt.Sprintf("Creating tenant '%s'...", req.TenantID))

			ctx, cancel := requestContext(cmd)
			defer cancel()

			tenant, err := client.CreateTenant(ctx, req)
			if err != nil {
				return failed(cmd, "create tenant", err)
			}

			styler.FprintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Tenant '%s' created", tenant.TenantID))
			return printTenant(cmd.OutOrStdout(), tenant)
		},
	}

	cmd.Flags().StringVar(&req.CorpID, "corp-id", "", "Corp ID")
	cmd.Flags().Int64Var(&req.AgentID, "agent-id", 0, "Application agent ID")
	cmd.Flags().StringVar(&req.Secret, "secret", "", "Application secret")
	cmd.Flags().StringVar(&req.Token, "token", "", "Callback verification token")
	cmd.Flags().StringVar(&req.EncodingAESKey, "aes-key", "", "Callback EncodingAESKey (43 characters)")
	cmd.MarkFlagRequired("corp-id")
	cmd.MarkFlagRequired("agent-id")
	cmd.MarkFlagRequired("secret")

	return cmd
}
