package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "epochsync",
	Short: "epochsync runs one countdown on several machines at once",
	Long: `epochsync coordinates a shared countdown across independent machines.

One participant starts a timer; anyone holding the starter's id can join it,
and every participant is notified at the same wall-clock instant. The end
time lives in an epochsync-store server, so the machines only need to agree
on the time of day, not talk to each other.

Common workflows:

  Start a five minute timer and share the printed id:
    epochsync new 5

  Join it from another machine:
    epochsync join a1b2c3d4e5f6

  Stop your own timer (others already waiting still fire):
    epochsync cancel

  Show this machine's id without touching the store:
    epochsync printid

Configuration:
  Flags override the config file, which overrides the defaults:
    EPOCHSYNC_STORE_URL   epochsync-store address (default: http://localhost:8080)
    EPOCHSYNC_API_KEY     API key sent to the store`,
	SilenceErrors: true,
}

// Execute runs the root command and stops on SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		rootCmd.PrintErrln("Error:", err)
	}
	return err
}

func initConfig() {
	// Read environment variables that match "EPOCHSYNC_SECTION_KEY".
	viper.SetEnvPrefix("EPOCHSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()

	flags.String("config", "", "config file (default is $HOME/.epochsync/config.yaml)")
	viper.BindPFlag("config", flags.Lookup("config"))

	flags.String("store", "remote", `store driver: "remote", "bolt", or "memory"`)
	viper.BindPFlag("store.driver", flags.Lookup("store"))

	flags.String("store-url", "http://localhost:8080", "epochsync-store URL")
	viper.BindPFlag("store.url", flags.Lookup("store-url"))

	flags.String("api-key", "", "API key for the store")
	viper.BindPFlag("store.api_key", flags.Lookup("api-key"))

	flags.String("id-source", "machine-id", `where the connection id comes from: "machine-id", "file", or "static"`)
	viper.BindPFlag("identity.source", flags.Lookup("id-source"))

	flags.String("static-id", "", `raw identifier hashed into the connection id when --id-source=static`)
	viper.BindPFlag("identity.static", flags.Lookup("static-id"))

	flags.Bool("follow-cancel", false, "stop waiting when the timer is canceled or restarted")
	viper.BindPFlag("session.follow_cancel", flags.Lookup("follow-cancel"))

	flags.String("log-level", "warn", "log level: debug, info, warn, error")
	viper.BindPFlag("log.level", flags.Lookup("log-level"))
}
