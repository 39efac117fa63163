package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shawn/wecom-gateway/internal/cli/api"
	"github.com/shawn/wecom-gateway/internal/cli/output"
)

func newTenantUpdateCmd(client api.Client) *cobra.Command {
	var (
		secret  string
		agentID int64
		token   string
		aesKey  string
	)

	cmd := &cobra.Command{
		Use:   "update <tenant-id>",
		Short: "Update tenant credentials",
		Long: `Update the secret, agent ID or callback settings of an existing tenant.

Changing the secret drops the tenant's cached access token. --token and
--aes-key must be given together.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			if !f.Changed("secret") && !f.Changed("agent-id") && !f.Changed("token") && !f.Changed("aes-key") {
				return errors.New("at least one of --secret, --agent-id, --token/--aes-key must be specified")
			}
			if f.Changed("token") != f.Changed("aes-key") {
				return errors.New("--token and --aes-key must be specified together")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := args[0]
			styler := output.NewStyler(noColor)
			styler.FprintInfo(cmd.OutOrStdout(), fmt.Sprintf("Updating tenant '%s'...", tenantID))

			req := &api.UpdateTenantRequest{}
			f := cmd.Flags()
			if f.Changed("secret") {
				req.Secret = &secret
			}
			if f.Changed("agent-id") {
				req.AgentID = &agentID
			}
			if f.Changed("token") {
				req.Token = &token
				req.EncodingAESKey = &aesKey
			}

			ctx, cancel := requestContext(cmd)
			defer cancel()

			tenant, err := client.UpdateTenant(ctx, tenantID, req)
			if err != nil {
				return failed(cmd, "update tenant", err)
			}

			styler.FprintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Tenant '%s' updated", tenantID))
			return printTenant(cmd.OutOrStdout(), tenant)
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "New application secret")
	cmd.Flags().Int64Var(&agentID, "agent-id", 0, "New application agent ID")
	cmd.Flags().StringVar(&token, "token", "", "New callback verification token")
	cmd.Flags().StringVar(&aesKey, "aes-key", "", "New callback EncodingAESKey")

	return cmd
}
