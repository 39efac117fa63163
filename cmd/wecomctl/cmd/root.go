package cmd

import (
	stdcontext "context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shawn/wecom-gateway/internal/cli/api"
)

const (
	defaultServerURL = "http://localhost:8080"
	requestTimeout   = 30 * time.Second
)

var (
	version   string
	commit    string
	buildDate string

	// Resolved from flags, WECOMCTL_* env vars and the config file
	cfgFile      string
	serverURL    string
	outputFormat string
	noColor      bool

	httpClient = api.NewHTTPClient(defaultServerURL)
)

var rootCmd = &cobra.Command{
	Use:   "wecomctl",
	Short: "WeCom gateway CLI",
	Long: `wecomctl manages the WeCom gateway.

It registers tenant credentials, sends application messages, triggers
directory syncs and drops cached access tokens through the gateway admin
API. The crypto commands sign, encrypt and decrypt callback payloads
locally, which helps when testing a callback URL by hand.

Every global flag can also be set as WECOMCTL_<FLAG> or in
$HOME/.wecomctl.yaml.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		httpClient.SetBaseURL(serverURL)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default $HOME/.wecomctl.yaml)")
	pf.String("server", defaultServerURL, "Gateway admin URL")
	pf.String("output", "table", "Output format: json|table")
	pf.Bool("no-color", false, "Disable colored output")

	viper.BindPFlag("server", pf.Lookup("server"))
	viper.BindPFlag("output", pf.Lookup("output"))
	viper.BindPFlag("no_color", pf.Lookup("no-color"))

	viper.SetEnvPrefix("WECOMCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCryptoCmd())
}

// initConfig reads the config file if one exists and resolves the global settings.
func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigName(".wecomctl")
		viper.SetConfigType("yaml")
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	serverURL = viper.GetString("server")
	outputFormat = viper.GetString("output")
	noColor = viper.GetBool("no_color")
	return nil
}

func Execute() error {
	rootCmd.AddCommand(newTenantCmd(httpClient))
	rootCmd.AddCommand(newMessageCmd(httpClient))
	rootCmd.AddCommand(newSyncCmd(httpClient))

	return rootCmd.Execute()
}

func SetVersion(v, c, d string) {
	version = v
	commit = c
	buildDate = d
}

func requestContext(cmd *cobra.Command) (stdcontext.Context, stdcontext.CancelFunc) {
	return stdcontext.WithTimeout(cmd.Context(), requestTimeout)
}
