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

func newSyncCmd(client api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <tenant-id>",
		Short: "Sync a tenant's departments, users and tags now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := args[0]
			styler := output.NewStyler(noColor)
			styler.FprintInfo(cmd.OutOrStdout(), fmt.Sprintf("Syncing directory for '%s'...", tenantID))

			ctx, cancel := requestContext(cmd)
			defer cancel()

			res, err := client.SyncTenant(ctx, tenantID)
			if err != nil {
				return failed(cmd, "sync directory", err)
			}

			styler.FprintSuccess(cmd.OutOrStdout(), "Directory synced")
			return output.Render(cmd.OutOrStdout(), outputFormat, res, func(w io.Writer) {
				styler.Fields(w,
					[2]string{"Departments", strconv.Itoa(res.Departments)},
					[2]string{"Users", strconv.Itoa(res.Users)},
					[2]string{"Tags", strconv.Itoa(res.Tags)},
					[2]string{"Synced At", res.SyncedAt.Format(time.RFC3339)},
				)
			})
		},
	}
}
