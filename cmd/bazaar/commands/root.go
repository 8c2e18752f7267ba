package commands

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version string
	commit  string
	date    string
)

// Viper keys for the global settings
const (
	keyConfig   = "config"
	keyRedisURL = "redis_url"
	keyInstance = "instance"
	keyOutput   = "output"
	keyEvents   = "events"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bazaar",
	Short: "Bazaar - marketplace provisioning factory",
	Long: `Bazaar provisions marketplace instances as sub-accounts of a factory
account. Each request runs an asynchronous pipeline (create account, fund,
install the marketplace artifact, initialize) and the marketplace is recorded
as owned only once the whole pipeline is confirmed.

State lives in Redis, namespaced per instance.`,
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Structured event lines go to stderr only on request
		if viper.GetBool(keyEvents) {
			log.SetOutput(os.Stderr)
		} else {
			log.SetOutput(io.Discard)
		}
		return nil
	},
	// Prevent silent success when unknown flags are passed to root command
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to bazaar.yml (default ./bazaar.yml when present)")
	flags.String("redis-url", "redis://localhost:6379", "Redis connection URL")
	flags.StringP("instance", "n", "default", "Instance name used to namespace Redis keys")
	flags.StringP("output", "o", "default", "Output format: default or jsonl")
	flags.Bool("events", false, "Write structured JSON event lines to stderr")

	// Precedence: flag > environment > default
	_ = viper.BindPFlag(keyConfig, flags.Lookup("config"))
	_ = viper.BindPFlag(keyRedisURL, flags.Lookup("redis-url"))
	_ = viper.BindPFlag(keyInstance, flags.Lookup("instance"))
	_ = viper.BindPFlag(keyOutput, flags.Lookup("output"))
	_ = viper.BindPFlag(keyEvents, flags.Lookup("events"))

	_ = viper.BindEnv(keyConfig, "BAZAAR_CONFIG")
	_ = viper.BindEnv(keyRedisURL, "REDIS_URL")
	_ = viper.BindEnv(keyInstance, "BAZAAR_INSTANCE_NAME")
}
