// Command picobot runs the assistant REPL and the memory maintenance
// subcommands.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/picobot/picobot/agent"
	"github.com/picobot/picobot/config"
	"github.com/picobot/picobot/memory"
	"github.com/picobot/picobot/memory/notes"
	"github.com/picobot/picobot/memory/store/chromem"
	"github.com/picobot/picobot/memory/store/sqlite"
	"github.com/picobot/picobot/provider"
	"github.com/picobot/picobot/session"
	"github.com/picobot/picobot/tools"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var verbose bool

	root := &cobra.Command{
		Use:           "picobot",
		Short:         "A personal assistant with long-term memory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "config file path")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newRunCmd(&configPath, &verbose))
	root.AddCommand(newMemoryCmd(&configPath, &verbose))
	return root
}

func newRunCmd(configPath *string, verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the interactive assistant",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*configPath, *verbose)
			if err != nil {
				return err
			}
			defer app.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runREPL(ctx, app)
		},
	}
}

func newMemoryCmd(configPath *string, verbose *bool) *cobra.Command {
	memoryCmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and edit long-term memory",
	}

	memoryCmd.AddCommand(&cobra.Command{
		Use:   "search <query>",
		Short: "Search memories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTool(cmd.Context(), *configPath, *verbose, "memory_search",
				map[string]any{"query": strings.Join(args, " ")})
		},
	})
	memoryCmd.AddCommand(&cobra.Command{
		Use:   "add <fact>",
		Short: "Store a fact",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTool(cmd.Context(), *configPath, *verbose, "memory_save",
				map[string]any{"content": strings.Join(args, " ")})
		},
	})
	memoryCmd.AddCommand(&cobra.Command{
		Use:   "forget <id>",
		Short: "Delete a memory by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTool(cmd.Context(), *configPath, *verbose, "memory_forget",
				map[string]any{"memory_id": args[0]})
		},
	})
	memoryCmd.AddCommand(&cobra.Command{
		Use:   "note <line>",
		Short: "Append to today's notes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTool(cmd.Context(), *configPath, *verbose, "notes_append",
				map[string]any{"line": strings.Join(args, " ")})
		},
	})
	return memoryCmd
}

// app holds the wired components for one process.
type app struct {
	cfg       config.Config
	logger    *log.Logger
	assistant *agent.Assistant
	registry  *tools.Registry

	store    *memory.VectorStore
	embCache *provider.CachedEmbedder
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing vector store", "error", err)
		}
	}
	if a.embCache != nil {
		a.embCache.Close()
	}
}

func buildApp(configPath string, verbose bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}

	completer, err := buildCompleter(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}

	var notesStore *notes.Store
	var extractor *memory.Extractor
	var consolidator *memory.Consolidator
	if cfg.Memory.Enabled {
		notesStore, err = notes.NewStore(cfg.MemoryDir(), logger)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Memory.Enabled && cfg.Memory.VectorEnabled {
		embedder, cache, err := buildEmbedder(cfg, logger)
		if err != nil {
			return nil, err
		}
		a.embCache = cache

		backend, err := buildBackend(cfg, logger)
		if err != nil {
			return nil, err
		}
		a.store = memory.NewVectorStore(backend, embedder, cfg.Memory.MaxMemories, logger)
		extractor = memory.NewExtractor(completer, cfg.Memory.ExtractionModel, cfg.Memory.MaxFactsPerExtraction, logger)
		consolidator = memory.NewConsolidator(a.store, completer, cfg.Memory.ExtractionModel,
			cfg.Memory.CandidateThreshold, cfg.Memory.Namespace, logger)
	}
	if cfg.Memory.Enabled {
		// Notes tooling stays available even when the vector store is off.
		a.registry = tools.MemoryTools(a.store, notesStore, cfg.Memory.Namespace, cfg.Memory.RecallThreshold)
	}

	compactor := session.NewCompactor(completer, cfg.Model,
		cfg.Compaction.Threshold, cfg.Compaction.RecentTurnsKeep,
		cfg.Compaction.SummaryMaxTurns, cfg.Compaction.MaxFacts, logger)

	a.assistant = agent.NewAssistant(cfg, completer, compactor, a.store, extractor, consolidator, notesStore, logger)
	return a, nil
}

func buildCompleter(cfg config.Config) (provider.Completer, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return provider.NewAnthropic(cfg.APIKey, cfg.RequestTimeout())
	default:
		return provider.NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.RequestTimeout())
	}
}

func buildEmbedder(cfg config.Config, logger *log.Logger) (memory.Embedder, *provider.CachedEmbedder, error) {
	var base provider.Embedder
	if cfg.Memory.EmbeddingModel == "local" {
		local, err := localEmbedder(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		base = local
	} else {
		remote, err := provider.NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Memory.EmbeddingModel, 0, cfg.RequestTimeout())
		if err != nil {
			return nil, nil, err
		}
		base = remote
	}
	cached, err := provider.NewCachedEmbedder(base, cfg.Memory.EmbeddingCacheSize)
	if err != nil {
		return nil, nil, err
	}
	return cached, cached, nil
}

func buildBackend(cfg config.Config, logger *log.Logger) (memory.Backend, error) {
	switch cfg.Memory.Backend {
	case "chromem":
		return chromem.New(), nil
	default:
		if err := os.MkdirAll(cfg.MemoryDir(), 0o755); err != nil {
			return nil, fmt.Errorf("create memory dir: %w", err)
		}
		return sqlite.Open(cfg.VectorDBPath(), logger)
	}
}

func runREPL(ctx context.Context, a *app) error {
	bus := agent.NewBus()
	errCh := make(chan error, 1)
	go func() { errCh <- a.assistant.Run(ctx, bus) }()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case out := <-bus.Outbound():
				fmt.Printf("\n%s\n\n> ", out.Content)
			}
		}
	}()

	fmt.Print("picobot ready. Ctrl-D to exit.\n\n> ")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}
		if err := bus.Send(ctx, agent.InboundMessage{SessionID: "cli", Content: line}); err != nil {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}

func runTool(ctx context.Context, configPath string, verbose bool, name string, args map[string]any) error {
	a, err := buildApp(configPath, verbose)
	if err != nil {
		return err
	}
	defer a.close()
	if a.registry == nil {
		return fmt.Errorf("memory is disabled in config")
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	out, err := a.registry.Execute(ctx, name, raw)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "picobot.yaml"
	}
	return filepath.Join(home, ".picobot", "config.yaml")
}
