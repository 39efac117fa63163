package cmd

import (
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/shawn/wecom-gateway/internal/cli/output"
)

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	Go        string `json:"go"`
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := versionInfo{Version: version, Commit: commit, BuildDate: buildDate, Go: runtime.Version()}
			return output.Render(cmd.OutOrStdout(), outputFormat, info, func(w io.Writer) {
				output.NewStyler(noColor).Fields(w,
					[2]string{"wecomctl", info.Version},
					[2]string{"commit", info.Commit},
					[2]string{"built", info.BuildDate},
					[2]string{"go", info.Go},
				)
			})
		},
	}
}
