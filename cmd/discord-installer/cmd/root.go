package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/discord-installer/internal/config"
	"github.com/oshokin/discord-installer/internal/service/installer"
	"github.com/oshokin/discord-installer/internal/version"
)

var (
	// options are shared by the root command and its subcommands.
	options = &installer.Options{}

	// rootCmd downloads or picks up an archive and installs it.
	rootCmd = &cobra.Command{
		Use:   "discord-installer [archive]",
		Short: "Install or update Discord from the official tarball",
		Long: "Install or update Discord from the official Linux tarball.\n\n" +
			"In auto mode the latest archive is downloaded; in manual mode the newest " +
			"discord-*.tar.gz in the downloads directory is used. The installation runs " +
			"as one privileged transaction that is rolled back on failure.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if len(args) == 1 {
				options.Archive = args[0]
			}

			return installer.Run(ctx, options)
		},
	}

	// scanCmd reports what would be installed.
	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Show the installed version and what the installer would do",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return installer.Scan(ctx, options)
		},
	}

	// renderCmd prints the transaction for an archive without running it.
	renderCmd = &cobra.Command{
		Use:   "render <archive>",
		Short: "Print the installation transaction for an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Out = cmd.OutOrStdout()

			return installer.Render(cmd.Context(), options, args[0])
		},
	}
)

// Execute runs the discord-installer CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)
	rootCmd.AddCommand(scanCmd, renderCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&options.ConfigPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	flags.StringVarP(&options.Mode, "mode", "m", "", "acquisition mode: auto or manual (default from configuration)")
	flags.StringVar(&options.LogLevel, "log-level", installer.DefaultLogLevel, "console log level")

	rootCmd.Flags().BoolVarP(&options.Yes, "yes", "y", false, "do not ask for confirmation")
	rootCmd.Flags().BoolVarP(&options.Watch, "watch", "w", false, "in manual mode, wait for an archive to appear")
}
