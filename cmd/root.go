package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/nacre/internal/app"
	"github.com/zjrosen/nacre/internal/binding"
	"github.com/zjrosen/nacre/internal/config"
	_ "github.com/zjrosen/nacre/internal/engine/claude"
	_ "github.com/zjrosen/nacre/internal/engine/codex"
	_ "github.com/zjrosen/nacre/internal/engine/gemini"
	"github.com/zjrosen/nacre/internal/host/wshub"
	"github.com/zjrosen/nacre/internal/infrastructure/sqlite"
	"github.com/zjrosen/nacre/internal/log"
	"github.com/zjrosen/nacre/internal/session"
	"github.com/zjrosen/nacre/internal/stream"
	"github.com/zjrosen/nacre/internal/tabs"
	"github.com/zjrosen/nacre/internal/tracing"
	"github.com/zjrosen/nacre/internal/windows"
)

func init() {
	// Force lipgloss/termenv to query terminal background color BEFORE
	// any Bubble Tea program starts. This prevents the terminal's OSC 11
	// response from racing with Bubble Tea's input loop and appearing as
	// garbage text in input fields.
	//
	// See: https://github.com/charmbracelet/bubbletea/issues/1036
	_ = lipgloss.HasDarkBackground()
}

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:     "nacre",
	Short:   "A terminal client for concurrent AI agent sessions",
	Long:    `A terminal client that runs concurrent AI agent sessions in tabs, streaming output from claude, codex, and gemini engines through a local sync hub.`,
	Version: version,
	RunE:    runApp,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/nacre/config.yaml)")
	rootCmd.Flags().String("hub", "",
		"window-sync hub URL (overrides config)")
	rootCmd.Flags().Bool("no-auto-refresh", false,
		"disable reloading tab state when another window writes it")
	rootCmd.Flags().Bool("debug", false,
		"write debug logs to nacre.log")

	_ = viper.BindPFlag("hub.url", rootCmd.Flags().Lookup("hub"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("state_dir", defaults.StateDir)
	viper.SetDefault("auto_refresh", defaults.AutoRefresh)
	viper.SetDefault("ui.show_status_bar", defaults.UI.ShowStatusBar)
	viper.SetDefault("ui.vim_mode", defaults.UI.VimMode)
	viper.SetDefault("hub.url", defaults.Hub.URL)
	viper.SetDefault("engines.default", defaults.Engines.Default)
	viper.SetDefault("engines.claude.model", defaults.Engines.Claude.Model)
	viper.SetDefault("engines.codex.model", defaults.Engines.Codex.Model)
	viper.SetDefault("engines.gemini.model", defaults.Engines.Gemini.Model)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .nacre/config.yaml (current directory)
		// 2. ~/.config/nacre/config.yaml (user config)
		if _, err := os.Stat(".nacre/config.yaml"); err == nil {
			viper.SetConfigFile(".nacre/config.yaml")
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "nacre"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			defaultPath := filepath.Join(config.DefaultStateDir(), "config.yaml")
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				viper.SetConfigFile(defaultPath)
				_ = viper.ReadInConfig()
			}
			// If write fails, just continue with defaults (no config file)
		}
	}

	_ = viper.Unmarshal(&cfg)
}

func runApp(cmd *cobra.Command, args []string) error {
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		closeLog, err := log.Init("nacre.log")
		if err != nil {
			return fmt.Errorf("initializing debug log: %w", err)
		}
		defer closeLog()
	}

	if noAutoRefresh, _ := cmd.Flags().GetBool("no-auto-refresh"); noAutoRefresh {
		cfg.AutoRefresh = false
	}

	ctx := context.Background()

	hubHost, err := wshub.Dial(ctx, wshub.Options{URL: cfg.Hub.URL})
	if err != nil {
		return fmt.Errorf("connecting to sync hub at %s: %w", cfg.Hub.URL, err)
	}
	defer hubHost.Close()

	stateDir := cfg.StateDir
	if stateDir == "" {
		stateDir = config.DefaultStateDir()
	}
	if err := os.MkdirAll(stateDir, 0o750); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	dbPath := cfg.StatePath()
	db, err := sqlite.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	defer db.Close()

	tracer, err := tracing.NewProvider(cfg.Tracing.ToTracing(stateDir))
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer tracer.Shutdown(ctx)

	store := tabs.NewStore(db.StateRepository(sqlite.TabStateKey))
	streams := stream.NewManager()
	history := session.NewHistoryLoader()
	binder := binding.NewBinder(store, streams, history, hubHost, tracer.Tracer())
	bridge := windows.NewBridge(hubHost, store)
	bridge.Start()
	defer bridge.Stop()

	model := app.New(app.Options{
		Config: cfg,
		Store:  store,
		Binder: binder,
		Bridge: bridge,
		Host:   hubHost,
		DBPath: dbPath,
	})
	p := tea.NewProgram(
		&model,
		tea.WithAltScreen(),
	)

	_, err = p.Run()

	streams.DetachAll()
	if closeErr := model.Close(); closeErr != nil && err == nil {
		err = closeErr
	}

	if err != nil {
		return fmt.Errorf("running program: %w", err)
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
