package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hairizuan-noorazman/matomo-bootstrap/apitoken"
	"github.com/hairizuan-noorazman/matomo-bootstrap/browser"
	"github.com/hairizuan-noorazman/matomo-bootstrap/database"
	"github.com/hairizuan-noorazman/matomo-bootstrap/health"
	"github.com/hairizuan-noorazman/matomo-bootstrap/installer"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const (
	exitOK          = 0
	exitOperational = 2
	exitUnexpected  = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command line and returns the process exit code. Only the token is
// ever written to stdout.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	code := exitCode(err)
	if code == exitOperational {
		fmt.Fprintf(stderr, "[ERROR] %v\n", err)
	} else {
		fmt.Fprintf(stderr, "[FATAL] %v\n", err)
	}
	return code
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "matomo-bootstrap",
		Short: "Install Matomo headlessly and print an API token",
		Long: "Waits until Matomo answers over HTTP, completes the web installer in a headless " +
			"browser if needed and prints a freshly created API token on stdout.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd, configPath)
			if err != nil {
				return err
			}
			cfg := loadConfig(v)
			if err := cfg.Validate(); err != nil {
				return err
			}

			token, err := bootstrapToken(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &UsageError{Msg: err.Error()}
	})

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default $HOME/.matomo-bootstrap.yaml)")
	flags.String("base-url", "", "Matomo base URL, e.g. http://matomo:80 (env: MATOMO_URL)")
	flags.String("admin-user", "", "superuser login (env: MATOMO_ADMIN_USER)")
	flags.String("admin-password", "", "superuser password (env: MATOMO_ADMIN_PASSWORD)")
	flags.String("admin-email", "", "superuser email (env: MATOMO_ADMIN_EMAIL)")
	flags.String("token-description", "matomo-bootstrap", "description of the created app token (env: MATOMO_TOKEN_DESCRIPTION)")
	flags.Int("timeout", 20, "HTTP timeout in seconds for API calls (env: MATOMO_TIMEOUT)")
	flags.Bool("debug", false, "enable debug logging on stderr (env: MATOMO_DEBUG)")
	flags.String("token-strategy", "exchange", "token acquisition strategy: exchange or session (env: MATOMO_TOKEN_STRATEGY)")
	flags.Bool("db-preflight", false, "check the database before running the installer (env: MATOMO_DB_PREFLIGHT)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "matomo-bootstrap %s (commit: %s, built: %s)\n", Version, Commit, BuildDate)
		},
	}

	installCmd := &cobra.Command{
		Use:   "install-browsers",
		Short: "Install the playwright driver and Chromium",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := browser.InstallDriver(args...); err != nil {
				return fmt.Errorf("failed to install browsers: %w", err)
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "browsers installed")
			return nil
		},
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(newConfigCmd(&configPath))

	return rootCmd
}

// exitCode maps an error to 2 for expected operational failures and 3 for anything else.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var (
		usageErr    *UsageError
		reachErr    *health.NotReachableError
		readyErr    *health.NotReadyError
		stepErr     *installer.StepTimeoutError
		fieldErr    *installer.FieldNotFoundError
		creationErr *apitoken.CreationError
		dbNotReady  *database.NotReadyError
	)

	switch {
	case errors.As(err, &usageErr),
		errors.As(err, &reachErr),
		errors.As(err, &readyErr),
		errors.As(err, &stepErr),
		errors.As(err, &fieldErr),
		errors.As(err, &creationErr),
		errors.As(err, &dbNotReady),
		errors.Is(err, installer.ErrNotInstalled),
		errors.Is(err, apitoken.ErrUnknownStrategy),
		errors.Is(err, apitoken.ErrMissingLogin):
		return exitOperational
	}
	return exitUnexpected
}
