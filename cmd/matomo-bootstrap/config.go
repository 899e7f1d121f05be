package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// UsageError marks invalid or missing invocation parameters.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string {
	return e.Msg
}

// envBindings maps viper keys to the environment variables they are read from.
var envBindings = map[string]string{
	"base_url":          "MATOMO_URL",
	"admin_user":        "MATOMO_ADMIN_USER",
	"admin_password":    "MATOMO_ADMIN_PASSWORD",
	"admin_email":       "MATOMO_ADMIN_EMAIL",
	"token_description": "MATOMO_TOKEN_DESCRIPTION",
	"timeout":           "MATOMO_TIMEOUT",
	"debug":             "MATOMO_DEBUG",
	"token_strategy":    "MATOMO_TOKEN_STRATEGY",
	"token_override":    "MATOMO_BOOTSTRAP_TOKEN_AUTH",

	"db.host":      "MATOMO_DB_HOST",
	"db.port":      "MATOMO_DB_PORT",
	"db.user":      "MATOMO_DB_USER",
	"db.password":  "MATOMO_DB_PASS",
	"db.name":      "MATOMO_DB_NAME",
	"db.prefix":    "MATOMO_DB_PREFIX",
	"db.preflight": "MATOMO_DB_PREFLIGHT",

	"site.name":      "MATOMO_SITE_NAME",
	"site.url":       "MATOMO_SITE_URL",
	"site.timezone":  "MATOMO_TIMEZONE",
	"site.ecommerce": "MATOMO_ECOMMERCE",

	"wait_timeout_s": "MATOMO_WAIT_TIMEOUT_S",

	"installer.ready_timeout_s":           "MATOMO_INSTALLER_READY_TIMEOUT_S",
	"installer.step_timeout_s":            "MATOMO_INSTALLER_STEP_TIMEOUT_S",
	"installer.step_deadline_s":           "MATOMO_INSTALLER_STEP_DEADLINE_S",
	"installer.tables_creation_timeout_s": "MATOMO_INSTALLER_TABLES_CREATION_TIMEOUT_S",
	"installer.tables_erase_timeout_s":    "MATOMO_INSTALLER_TABLES_ERASE_TIMEOUT_S",
	"installer.poll_interval_ms":          "MATOMO_INSTALLER_POLL_INTERVAL_MS",
	"installer.click_timeout_ms":          "MATOMO_INSTALLER_CLICK_TIMEOUT_MS",
	"installer.dialog_wait_ms":            "MATOMO_INSTALLER_DIALOG_WAIT_MS",
	"installer.locator_retry_ms":          "MATOMO_INSTALLER_LOCATOR_RETRY_MS",

	"playwright.headless":       "MATOMO_PLAYWRIGHT_HEADLESS",
	"playwright.slowmo_ms":      "MATOMO_PLAYWRIGHT_SLOWMO_MS",
	"playwright.nav_timeout_ms": "MATOMO_PLAYWRIGHT_NAV_TIMEOUT_MS",

	"artifacts.dir":       "MATOMO_INSTALLER_DEBUG_DIR",
	"artifacts.storage":   "MATOMO_INSTALLER_ARTIFACT_STORAGE",
	"artifacts.s3_bucket": "MATOMO_INSTALLER_S3_BUCKET",
	"artifacts.s3_region": "MATOMO_INSTALLER_S3_REGION",
	"artifacts.s3_prefix": "MATOMO_INSTALLER_S3_PREFIX",

	"log.level":  "MATOMO_LOG_LEVEL",
	"log.format": "MATOMO_LOG_FORMAT",
	"log.file":   "MATOMO_LOG_FILE",
}

// flagBindings maps root command flags to viper keys.
var flagBindings = map[string]string{
	"base-url":          "base_url",
	"admin-user":        "admin_user",
	"admin-password":    "admin_password",
	"admin-email":       "admin_email",
	"token-description": "token_description",
	"timeout":           "timeout",
	"debug":             "debug",
	"token-strategy":    "token_strategy",
	"db-preflight":      "db.preflight",
}

// Config is the resolved configuration of one run.
type Config struct {
	BaseURL          string
	AdminUser        string
	AdminPassword    string
	AdminEmail       string
	TokenDescription string
	Timeout          time.Duration
	Debug            bool
	TokenStrategy    string
	TokenOverride    string

	Database  DatabaseConfig
	Site      SiteConfig
	Installer InstallerConfig
	Browser   BrowserConfig
	Artifacts ArtifactsConfig
	Log       LogConfig
}

// DatabaseConfig holds the values typed into the installer's database form and used by
// the optional preflight.
type DatabaseConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	Name      string
	Prefix    string
	Preflight bool
}

// SiteConfig describes the first website.
type SiteConfig struct {
	Name      string
	URL       string
	Timezone  string
	Ecommerce string
}

// InstallerConfig holds the wizard timings.
type InstallerConfig struct {
	WaitTimeout          time.Duration
	ReadyTimeout         time.Duration
	StepTimeout          time.Duration
	StepDeadline         time.Duration
	TableCreationTimeout time.Duration
	TableEraseTimeout    time.Duration
	PollInterval         time.Duration
	ClickTimeout         time.Duration
	DialogWait           time.Duration
	LocatorRetry         time.Duration
}

// BrowserConfig controls the Chromium launch.
type BrowserConfig struct {
	Headless          bool
	SlowMo            time.Duration
	NavigationTimeout time.Duration
}

// ArtifactsConfig selects where failure artifacts are written.
type ArtifactsConfig struct {
	Storage  string
	Dir      string
	S3Bucket string
	S3Region string
	S3Prefix string
}

// LogConfig configures the diagnostic logger.
type LogConfig struct {
	Level  string
	Format string
	File   string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("token_description", "matomo-bootstrap")
	v.SetDefault("timeout", 20)
	v.SetDefault("debug", false)
	v.SetDefault("token_strategy", "exchange")

	v.SetDefault("db.host", "db")
	v.SetDefault("db.port", 3306)
	v.SetDefault("db.user", "matomo")
	v.SetDefault("db.password", "matomo_pw")
	v.SetDefault("db.name", "matomo")
	v.SetDefault("db.prefix", "matomo_")
	v.SetDefault("db.preflight", false)

	v.SetDefault("site.name", "localhost")
	v.SetDefault("site.url", "http://localhost")
	v.SetDefault("site.timezone", "Germany - Berlin")
	v.SetDefault("site.ecommerce", "Ecommerce enabled")

	v.SetDefault("wait_timeout_s", 180)

	v.SetDefault("installer.ready_timeout_s", 180)
	v.SetDefault("installer.step_timeout_s", 30)
	v.SetDefault("installer.step_deadline_s", 180)
	v.SetDefault("installer.tables_creation_timeout_s", 180)
	v.SetDefault("installer.tables_erase_timeout_s", 60)
	v.SetDefault("installer.poll_interval_ms", 300)
	v.SetDefault("installer.click_timeout_ms", 2000)
	v.SetDefault("installer.dialog_wait_ms", 500)
	v.SetDefault("installer.locator_retry_ms", 2000)

	v.SetDefault("playwright.headless", true)
	v.SetDefault("playwright.slowmo_ms", 0)
	v.SetDefault("playwright.nav_timeout_ms", 60000)

	v.SetDefault("artifacts.storage", "local")
	v.SetDefault("artifacts.dir", "/tmp/matomo-bootstrap")
	v.SetDefault("artifacts.s3_region", "us-east-1")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// newViper builds a viper instance layered as flags > env > config file > defaults.
func newViper(cmd *cobra.Command, configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	for flag, key := range flagBindings {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("failed to bind flag --%s: %w", flag, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(".matomo-bootstrap")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

func seconds(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetFloat64(key) * float64(time.Second))
}

func millis(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt64(key)) * time.Millisecond
}

// loadConfig reads the layered configuration into a Config.
func loadConfig(v *viper.Viper) *Config {
	var config Config

	config.BaseURL = strings.TrimSpace(v.GetString("base_url"))
	config.AdminUser = v.GetString("admin_user")
	config.AdminPassword = v.GetString("admin_password")
	config.AdminEmail = v.GetString("admin_email")
	config.TokenDescription = v.GetString("token_description")
	config.Timeout = seconds(v, "timeout")
	config.Debug = v.GetBool("debug")
	config.TokenStrategy = strings.ToLower(v.GetString("token_strategy"))
	config.TokenOverride = strings.TrimSpace(v.GetString("token_override"))

	config.Database.Host = v.GetString("db.host")
	config.Database.Port = v.GetInt("db.port")
	config.Database.User = v.GetString("db.user")
	config.Database.Password = v.GetString("db.password")
	config.Database.Name = v.GetString("db.name")
	config.Database.Prefix = v.GetString("db.prefix")
	config.Database.Preflight = v.GetBool("db.preflight")

	config.Site.Name = v.GetString("site.name")
	config.Site.URL = v.GetString("site.url")
	config.Site.Timezone = v.GetString("site.timezone")
	config.Site.Ecommerce = v.GetString("site.ecommerce")

	config.Installer.WaitTimeout = seconds(v, "wait_timeout_s")
	config.Installer.ReadyTimeout = seconds(v, "installer.ready_timeout_s")
	config.Installer.StepTimeout = seconds(v, "installer.step_timeout_s")
	config.Installer.StepDeadline = seconds(v, "installer.step_deadline_s")
	config.Installer.TableCreationTimeout = seconds(v, "installer.tables_creation_timeout_s")
	config.Installer.TableEraseTimeout = seconds(v, "installer.tables_erase_timeout_s")
	config.Installer.PollInterval = millis(v, "installer.poll_interval_ms")
	config.Installer.ClickTimeout = millis(v, "installer.click_timeout_ms")
	config.Installer.DialogWait = millis(v, "installer.dialog_wait_ms")
	config.Installer.LocatorRetry = millis(v, "installer.locator_retry_ms")

	config.Browser.Headless = v.GetBool("playwright.headless")
	config.Browser.SlowMo = millis(v, "playwright.slowmo_ms")
	config.Browser.NavigationTimeout = millis(v, "playwright.nav_timeout_ms")

	config.Artifacts.Storage = strings.ToLower(v.GetString("artifacts.storage"))
	config.Artifacts.Dir = v.GetString("artifacts.dir")
	config.Artifacts.S3Bucket = v.GetString("artifacts.s3_bucket")
	config.Artifacts.S3Region = v.GetString("artifacts.s3_region")
	config.Artifacts.S3Prefix = v.GetString("artifacts.s3_prefix")

	config.Log.Level = v.GetString("log.level")
	config.Log.Format = v.GetString("log.format")
	config.Log.File = v.GetString("log.file")
	if config.Debug {
		config.Log.Level = "debug"
	}

	return &config
}

// Validate reports missing required values before anything touches the network.
func (c *Config) Validate() error {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "--base-url (MATOMO_URL)")
	}
	if c.AdminUser == "" {
		missing = append(missing, "--admin-user (MATOMO_ADMIN_USER)")
	}
	if c.AdminPassword == "" {
		missing = append(missing, "--admin-password (MATOMO_ADMIN_PASSWORD)")
	}
	if c.AdminEmail == "" {
		missing = append(missing, "--admin-email (MATOMO_ADMIN_EMAIL)")
	}
	if len(missing) > 0 {
		return &UsageError{Msg: "missing required values: " + strings.Join(missing, ", ")}
	}

	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return &UsageError{Msg: fmt.Sprintf("base url must start with http:// or https://, got %q", c.BaseURL)}
	}
	if c.Timeout <= 0 {
		return &UsageError{Msg: "timeout must be positive"}
	}
	return nil
}

func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) > 8 {
		return s[:4] + "..." + s[len(s)-4:]
	}
	return "****"
}

func newConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the resolved configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd, *configPath)
			if err != nil {
				return err
			}
			c := loadConfig(v)

			out := cmd.OutOrStdout()
			if used := v.ConfigFileUsed(); used != "" {
				fmt.Fprintf(out, "Config file:        %s\n", used)
			} else {
				fmt.Fprintf(out, "Config file:        (none)\n")
			}
			fmt.Fprintf(out, "Base URL:           %s\n", c.BaseURL)
			fmt.Fprintf(out, "Admin user:         %s\n", c.AdminUser)
			fmt.Fprintf(out, "Admin password:     %s\n", maskSecret(c.AdminPassword))
			fmt.Fprintf(out, "Admin email:        %s\n", c.AdminEmail)
			fmt.Fprintf(out, "Token description:  %s\n", c.TokenDescription)
			fmt.Fprintf(out, "Token strategy:     %s\n", c.TokenStrategy)
			fmt.Fprintf(out, "Token override:     %s\n", maskSecret(c.TokenOverride))
			fmt.Fprintf(out, "HTTP timeout:       %s\n", c.Timeout)
			fmt.Fprintf(out, "Database:           %s@%s:%d/%s (prefix %s)\n",
				c.Database.User, c.Database.Host, c.Database.Port, c.Database.Name, c.Database.Prefix)
			fmt.Fprintf(out, "Database password:  %s\n", maskSecret(c.Database.Password))
			fmt.Fprintf(out, "Database preflight: %t\n", c.Database.Preflight)
			fmt.Fprintf(out, "Site:               %s (%s, %s)\n", c.Site.Name, c.Site.URL, c.Site.Timezone)
			fmt.Fprintf(out, "Headless:           %t\n", c.Browser.Headless)
			fmt.Fprintf(out, "Artifacts:          %s %s\n", c.Artifacts.Storage, artifactTarget(c.Artifacts))
			fmt.Fprintf(out, "Log level:          %s\n", c.Log.Level)
			return nil
		},
	}

	cmd.AddCommand(showCmd)
	return cmd
}

func artifactTarget(a ArtifactsConfig) string {
	if a.Storage == "s3" {
		return "s3://" + a.S3Bucket + "/" + strings.Trim(a.S3Prefix, "/")
	}
	return a.Dir
}
