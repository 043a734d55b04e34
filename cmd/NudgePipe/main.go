// Command NudgePipe runs the accountability bot.
//
//	NudgePipe serve          run the bot, scheduler and HTTP API
//	NudgePipe tick <kind>    run one daily, weekly or session tick and exit
//
// Configuration comes from flags, then environment variables (a .env file in
// the working directory is loaded first), then built-in defaults.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/BTreeMap/NudgePipe/internal/api"
	"github.com/BTreeMap/NudgePipe/internal/flow"
	"github.com/BTreeMap/NudgePipe/internal/genai"
	"github.com/BTreeMap/NudgePipe/internal/lockfile"
	"github.com/BTreeMap/NudgePipe/internal/store"
	"github.com/BTreeMap/NudgePipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/NudgePipe/internal/util"
	"github.com/BTreeMap/NudgePipe/internal/whatsapp"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for NudgePipe state data.
	DefaultStateDir = "/var/lib/nudgepipe"
	// DefaultAppDBFileName is the SQLite file for bot data.
	DefaultAppDBFileName = "nudgepipe.db"
	// DefaultWhatsAppDBFileName is the SQLite file for the WhatsApp device session.
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

// Config holds the resolved configuration.
type Config struct {
	StateDir           string
	DatabaseDSN        string
	WhatsAppDBDSN      string
	APIAddr            string
	Transport          string
	QROutput           string
	NumericCode        bool
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioFromNumber   string
	TwilioWebhookURL   string
	GenAIProvider      string
	OpenAIKey          string
	GeminiKey          string
	GenAIModel         string
	Timezone           string
	DefaultCheckinHour int
	RedisURL           string
	FlavorFile         string
	Debug              bool
}

func main() {
	loadDotEnv()
	cfg := loadEnvironmentConfig()
	if err := newRootCmd(&cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadDotEnv() {
	// Missing .env is normal in production.
	_ = godotenv.Load()
}

// initializeLogger installs a text slog handler on stdout.
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

// loadEnvironmentConfig reads configuration from environment variables.
// DSNs left empty are derived from the state directory by finalize.
func loadEnvironmentConfig() Config {
	return Config{
		StateDir:           util.GetEnvOrDefault("NUDGEPIPE_STATE_DIR", DefaultStateDir),
		DatabaseDSN:        os.Getenv("DATABASE_URL"),
		WhatsAppDBDSN:      os.Getenv("WHATSAPP_DB_DSN"),
		APIAddr:            util.GetEnvOrDefault("API_ADDR", api.DefaultServerAddr),
		Transport:          util.GetEnvOrDefault("NUDGEPIPE_TRANSPORT", api.TransportWhatsApp),
		TwilioAccountSID:   os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:   os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL:   os.Getenv("TWILIO_WEBHOOK_URL"),
		GenAIProvider:      util.GetEnvOrDefault("GENAI_PROVIDER", genai.ProviderOpenAI),
		OpenAIKey:          os.Getenv("OPENAI_API_KEY"),
		GeminiKey:          os.Getenv("GEMINI_API_KEY"),
		GenAIModel:         os.Getenv("GENAI_MODEL"),
		Timezone:           util.GetEnvOrDefault("NUDGEPIPE_TZ", flow.DefaultTimezone),
		DefaultCheckinHour: util.ParseIntEnv("DEFAULT_CHECKIN_HOUR", flow.DefaultCheckinHour),
		RedisURL:           os.Getenv("REDIS_URL"),
		FlavorFile:         os.Getenv("FLAVOR_FILE"),
		Debug:              util.ParseBoolEnv("NUDGEPIPE_DEBUG", false),
	}
}

// finalize fills in derived defaults after flags are parsed and validates
// the result.
func (c *Config) finalize() error {
	if c.DatabaseDSN == "" {
		c.DatabaseDSN = filepath.Join(c.StateDir, DefaultAppDBFileName)
	}
	if c.WhatsAppDBDSN == "" {
		c.WhatsAppDBDSN = "file:" + filepath.Join(c.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	if c.Transport != api.TransportWhatsApp && c.Transport != api.TransportTwilio {
		return fmt.Errorf("unknown transport %q (want whatsapp or twilio)", c.Transport)
	}
	if c.DefaultCheckinHour < 0 || c.DefaultCheckinHour > 23 {
		return fmt.Errorf("default check-in hour must be 0-23, got %d", c.DefaultCheckinHour)
	}
	return nil
}

// genaiKey returns the API key for the selected provider.
func (c Config) genaiKey() string {
	if strings.EqualFold(c.GenAIProvider, genai.ProviderGemini) {
		return c.GeminiKey
	}
	return c.OpenAIKey
}

// buildModules turns the configuration into per-package options.
func buildModules(c Config) api.Modules {
	var mods api.Modules

	mods.WhatsApp = append(mods.WhatsApp, whatsapp.WithDBDSN(c.WhatsAppDBDSN))
	if c.QROutput != "" {
		mods.WhatsApp = append(mods.WhatsApp, whatsapp.WithQRCodeOutput(c.QROutput))
	}
	if c.NumericCode {
		mods.WhatsApp = append(mods.WhatsApp, whatsapp.WithNumericCode())
	}
	if c.Debug {
		mods.WhatsApp = append(mods.WhatsApp, whatsapp.WithLogLevel("DEBUG"))
	}

	mods.Twilio = []twiliowhatsapp.Option{
		twiliowhatsapp.WithAccountSID(c.TwilioAccountSID),
		twiliowhatsapp.WithAuthToken(c.TwilioAuthToken),
		twiliowhatsapp.WithFromWhats(c.TwilioFromNumber),
	}

	if store.DetectDSNType(c.DatabaseDSN) == "postgres" {
		slog.Debug("buildModules: using PostgreSQL store")
		mods.Store = append(mods.Store, store.WithPostgresDSN(c.DatabaseDSN))
	} else {
		slog.Debug("buildModules: using SQLite store", "db_path", c.DatabaseDSN)
		mods.Store = append(mods.Store, store.WithSQLiteDSN(c.DatabaseDSN))
	}

	mods.GenAI = append(mods.GenAI, genai.WithProvider(c.GenAIProvider), genai.WithAPIKey(c.genaiKey()))
	if c.GenAIModel != "" {
		mods.GenAI = append(mods.GenAI, genai.WithModel(c.GenAIModel))
	}
	if c.Debug {
		mods.GenAI = append(mods.GenAI, genai.WithDebug(c.StateDir))
	}

	mods.API = []api.Option{
		api.WithAddr(c.APIAddr),
		api.WithTransport(c.Transport),
		api.WithTimezone(c.Timezone),
		api.WithDefaultCheckinHour(c.DefaultCheckinHour),
	}
	if c.RedisURL != "" {
		mods.API = append(mods.API, api.WithRedisURL(c.RedisURL))
	}
	if c.FlavorFile != "" {
		mods.API = append(mods.API, api.WithFlavorFile(c.FlavorFile))
	}
	if c.TwilioWebhookURL != "" {
		mods.API = append(mods.API, api.WithTwilioWebhook(c.TwilioWebhookURL, c.TwilioAuthToken))
	}
	return mods
}

func newRootCmd(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "NudgePipe",
		Short:         "Personal accountability bot for WhatsApp",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			initializeLogger(cfg.Debug)
			return cfg.finalize()
		},
	}
	f := root.PersistentFlags()
	f.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory (overrides $NUDGEPIPE_STATE_DIR)")
	f.StringVar(&cfg.DatabaseDSN, "db-dsn", cfg.DatabaseDSN, "bot database DSN, Postgres URL or SQLite path (overrides $DATABASE_URL)")
	f.StringVar(&cfg.WhatsAppDBDSN, "whatsapp-db-dsn", cfg.WhatsAppDBDSN, "WhatsApp device database DSN (overrides $WHATSAPP_DB_DSN)")
	f.StringVar(&cfg.Transport, "transport", cfg.Transport, "chat transport: whatsapp|twilio (overrides $NUDGEPIPE_TRANSPORT)")
	f.StringVar(&cfg.GenAIProvider, "genai-provider", cfg.GenAIProvider, "text generator: openai|gemini (overrides $GENAI_PROVIDER)")
	f.StringVar(&cfg.GenAIModel, "genai-model", cfg.GenAIModel, "text generator model (overrides $GENAI_MODEL)")
	f.StringVar(&cfg.OpenAIKey, "openai-api-key", cfg.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	f.StringVar(&cfg.GeminiKey, "gemini-api-key", cfg.GeminiKey, "Gemini API key (overrides $GEMINI_API_KEY)")
	f.StringVar(&cfg.Timezone, "tz", cfg.Timezone, "IANA time zone for check-ins (overrides $NUDGEPIPE_TZ)")
	f.IntVar(&cfg.DefaultCheckinHour, "default-checkin-hour", cfg.DefaultCheckinHour, "check-in hour for new users (overrides $DEFAULT_CHECKIN_HOUR)")
	f.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Redis URL for tick locks (overrides $REDIS_URL)")
	f.StringVar(&cfg.FlavorFile, "flavor-file", cfg.FlavorFile, "YAML praise and tiny-step tables (overrides $FLAVOR_FILE)")
	f.BoolVar(&cfg.Debug, "debug", cfg.Debug, "debug logging (overrides $NUDGEPIPE_DEBUG)")

	root.AddCommand(newServeCmd(cfg))
	root.AddCommand(newTickCmd(cfg))
	return root
}

func newServeCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, scheduler and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lock, err := lockfile.AcquireLock(cfg.StateDir, "serve")
			if err != nil {
				return err
			}
			defer lock.Release()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			slog.Info("Bootstrapping NudgePipe", "transport", cfg.Transport, "state_dir", cfg.StateDir, "api_addr", cfg.APIAddr, "tz", cfg.Timezone)
			if err := api.Run(ctx, buildModules(*cfg)); err != nil {
				return fmt.Errorf("NudgePipe failed to run: %w", err)
			}
			slog.Info("NudgePipe exited successfully")
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)")
	cmd.Flags().StringVar(&cfg.QROutput, "qr-output", cfg.QROutput, "path to write the WhatsApp login QR code")
	cmd.Flags().BoolVar(&cfg.NumericCode, "numeric-code", cfg.NumericCode, "print the raw pairing code instead of a QR code")
	cmd.Flags().StringVar(&cfg.TwilioWebhookURL, "twilio-webhook-url", cfg.TwilioWebhookURL, "public Twilio webhook URL for signature checks (overrides $TWILIO_WEBHOOK_URL)")
	return cmd
}

func newTickCmd(cfg *Config) *cobra.Command {
	kinds := make([]string, len(flow.TickKinds))
	for i, k := range flow.TickKinds {
		kinds[i] = string(k)
	}
	return &cobra.Command{
		Use:       "tick <" + strings.Join(kinds, "|") + ">",
		Short:     "Run one timer tick and exit",
		Long:      "Run one timer tick for use from an external scheduler. Fails if a server holds the state directory; use POST /ticks/{kind} then.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: kinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := flow.ParseTickKind(args[0])
			if err != nil {
				return err
			}
			lock, err := lockfile.AcquireLock(cfg.StateDir, "tick")
			if err != nil {
				return err
			}
			defer lock.Release()

			res, err := api.RunTick(cmd.Context(), buildModules(*cfg), kind)
			if err != nil {
				return fmt.Errorf("%s tick failed: %w", kind, err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}
