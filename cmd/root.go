package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apexion-ai/taskloop/internal/config"
	"github.com/apexion-ai/taskloop/internal/logging"
	"github.com/apexion-ai/taskloop/internal/metrics"
	"github.com/apexion-ai/taskloop/internal/provider"
	"github.com/apexion-ai/taskloop/internal/storage"
)

var (
	cfgFile      string
	autoApprove  bool
	modelFlag    string
	providerFlag string
	metricsAddr  string
)

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	rootCmd := &cobra.Command{
		Use:   "taskloop",
		Short: "Autonomous coding agent",
		Long: "taskloop runs a coding task to completion: it streams model responses,\n" +
			"asks before changing anything and keeps every task resumable.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default ~/.config/taskloop/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&autoApprove, "auto-approve", false, "run tools without asking (denied commands stay denied)")
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "override model")
	rootCmd.PersistentFlags().StringVarP(&providerFlag, "provider", "p", "", "override provider")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newResumeCmd())
	rootCmd.AddCommand(newTasksCmd())
	rootCmd.AddCommand(newVersionCmd(version, commit, date))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig loads configuration, applying CLI flag overrides.
func initConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// CLI flags override config values
	if providerFlag != "" {
		cfg.Provider = providerFlag
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}
	if autoApprove {
		cfg.Permissions.Mode = "auto-approve"
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	if cfg.DataDir == "" {
		dir, err := storage.DefaultDataDir()
		if err != nil {
			return nil, fmt.Errorf("data directory: %w", err)
		}
		cfg.DataDir = dir
	}
	return cfg, nil
}

// providerBaseURLs maps OpenAI-compatible provider names to their base URLs.
var providerBaseURLs = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"deepseek":   "https://api.deepseek.com",
	"minimax":    "https://api.minimax.chat/v1",
	"kimi":       "https://api.moonshot.cn/v1",
	"qwen":       "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"openrouter": "https://openrouter.ai/api/v1",
}

// buildProvider creates a Provider instance based on configuration.
func buildProvider(cfg *config.Config) (provider.Provider, error) {
	name := cfg.Provider
	pc := cfg.GetProviderConfig(name)

	if pc.APIKey == "" {
		return nil, fmt.Errorf(
			"API key not configured for provider %q.\n"+
				"Set it via:\n"+
				"  - config file: providers.%s.api_key\n"+
				"  - environment: LLM_API_KEY",
			name, name,
		)
	}

	model := cfg.ModelFor(name)
	switch name {
	case "anthropic":
		return provider.NewAnthropicProvider(pc.APIKey, model, cfg.ContextWindow), nil
	default:
		// All other providers use the OpenAI-compatible API
		baseURL := pc.BaseURL
		if baseURL == "" {
			u, ok := providerBaseURLs[name]
			if !ok {
				return nil, fmt.Errorf("unknown provider %q; set providers.%s.base_url in config", name, name)
			}
			baseURL = u
		}
		return provider.NewOpenAIProvider(pc.APIKey, baseURL, model, cfg.ContextWindow), nil
	}
}

// app holds what every task command needs. close releases it.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *storage.FileStore
	index   *storage.Index
	metrics *metrics.Metrics
}

// openApp loads config, logging and storage. The model provider is built
// separately since the tasks subcommands never talk to a model.
func openApp() (*app, error) {
	cfg, err := initConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewFileStore(cfg.DataDir)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	index, err := storage.OpenIndex(indexPath(cfg))
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, store: store, index: index}, nil
}

func indexPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "tasks.db")
}

// serveMetrics registers the collectors and, when an address is
// configured, serves them until ctx ends.
func (a *app) serveMetrics(ctx context.Context) {
	a.metrics = metrics.New(nil)
	if a.cfg.Metrics.Addr == "" {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, a.cfg.Metrics.Addr, a.logger); err != nil {
			a.logger.Error("metrics server", zap.Error(err))
		}
	}()
}

func (a *app) close() {
	if err := a.index.Close(); err != nil {
		a.logger.Warn("close task index", zap.Error(err))
	}
	_ = a.logger.Sync()
}
