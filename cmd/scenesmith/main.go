package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"scenesmith/internal/config"
	"scenesmith/internal/embedding"
	"scenesmith/internal/llm"
	"scenesmith/internal/logging"
	"scenesmith/internal/memory"
	"scenesmith/internal/pipeline"
	"scenesmith/internal/render"
	"scenesmith/internal/research"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

var (
	// Global flags
	verbose    bool
	configPath string
	outputDir  string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "scenesmith",
	Short: "scenesmith - self-correcting scene production pipeline",
	Long: `scenesmith turns per-scene plans into rendered video clips.

Each scene is generated by an LLM, structurally validated, and rendered by an
external renderer. Failures are classified and repaired through an escalating
fix chain (deterministic rules, remembered fixes, web-researched fixes,
unseeded regeneration), and every successful fix is stored so future videos
fail less.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// generateCmd runs the full pipeline for one video plan
var generateCmd = &cobra.Command{
	Use:   "generate [plan-file]",
	Short: "Generate and render all scenes of a video plan",
	Long: `Reads a YAML plan file listing scenes, drives every scene to a terminal
state under a bounded worker pool, and assembles the rendered clips into a
single video.

Plan file format:

  title: Pythagorean theorem
  scenes:
    - number: 1
      plan: |
        Draw a right triangle and label the sides a, b, c.
    - number: 2
      plan: |
        Animate the square construction on each side.`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

// statusCmd lists artifacts of past runs
var statusCmd = &cobra.Command{
	Use:   "status [video-dir]",
	Short: "Summarize scene artifacts of a finished or interrupted run",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

// memoryCmd reports fix memory statistics
var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Show fix memory statistics",
	RunE:  runMemoryStats,
}

// assembleCmd concatenates already-rendered clips
var assembleCmd = &cobra.Command{
	Use:   "assemble [clip...]",
	Short: "Concatenate rendered scene clips into one video",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAssemble,
}

var assembleOut string

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: scenesmith.yaml if present)")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "", "Output directory (overrides config)")

	assembleCmd.Flags().StringVar(&assembleOut, "out", "video.mp4", "Assembled video path")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(assembleCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runDurations are the parsed timeout fields of a validated config.
type runDurations struct {
	llm      time.Duration
	render   time.Duration
	kill     time.Duration
	research time.Duration
}

func resolveDurations(cfg *config.Config) (runDurations, error) {
	var d runDurations
	var err error
	if d.llm, err = cfg.LLMTimeout(); err != nil {
		return d, err
	}
	if d.render, err = cfg.RenderTimeout(); err != nil {
		return d, err
	}
	if d.kill, err = cfg.KillGrace(); err != nil {
		return d, err
	}
	if d.research, err = cfg.ResearchTimeout(); err != nil {
		return d, err
	}
	return d, nil
}

// planFile is the on-disk shape of a video plan. It doubles as the
// pipeline's plan provider, keyed by scene number.
type planFile struct {
	Title  string `yaml:"title"`
	Scenes []struct {
		Number int    `yaml:"number"`
		Plan   string `yaml:"plan"`
	} `yaml:"scenes"`
}

func (pf *planFile) GetScenePlan(_ context.Context, _ string, sceneNumber int) (string, error) {
	for _, sc := range pf.Scenes {
		if sc.Number == sceneNumber {
			return sc.Plan, nil
		}
	}
	return "", fmt.Errorf("no plan for scene %d", sceneNumber)
}

func loadPlan(path string) (*planFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	var pf planFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse plan file: %w", err)
	}
	if len(pf.Scenes) == 0 {
		return nil, fmt.Errorf("plan file %s lists no scenes", path)
	}
	for i := range pf.Scenes {
		if pf.Scenes[i].Number == 0 {
			pf.Scenes[i].Number = i + 1
		}
	}
	return &pf, nil
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		if _, err := os.Stat("scenesmith.yaml"); err == nil {
			path = "scenesmith.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if outputDir != "" {
		cfg.Pipeline.OutputDir = outputDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal, cancelling run")
		cancel()
	}()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	durs, err := resolveDurations(cfg)
	if err != nil {
		return err
	}
	plan, err := loadPlan(args[0])
	if err != nil {
		return err
	}

	videoID := uuid.NewString()
	videoDir := filepath.Join(cfg.Pipeline.OutputDir, videoID)
	if err := logging.Initialize(videoDir, cfg.Logging.DebugMode || verbose, cfg.Logging.Level); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer logging.CloseAll()
	logger.Info("Starting video run",
		zap.String("video_id", videoID),
		zap.String("title", plan.Title),
		zap.Int("scenes", len(plan.Scenes)))

	client := llm.NewGeminiClient(llm.GeminiConfig{
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         cfg.LLM.BaseURL,
		Model:           cfg.LLM.Model,
		Timeout:         durs.llm,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
	})

	storeOpts := []memory.Option{memory.WithMaxSnippetLen(cfg.Memory.MaxSnippetLen)}
	if cfg.LLM.EmbeddingModel != "" {
		engine, err := embedding.NewGenAIEngine(ctx, cfg.LLM.APIKey, cfg.LLM.EmbeddingModel)
		if err != nil {
			logger.Warn("Embedding engine unavailable, falling back to recency ordering", zap.Error(err))
		} else {
			storeOpts = append(storeOpts, memory.WithEmbeddings(engine))
		}
	}
	store, err := memory.Open(cfg.Memory.DatabasePath, storeOpts...)
	if err != nil {
		return fmt.Errorf("open fix memory: %w", err)
	}
	defer store.Close()

	var searcher pipeline.Searcher
	if cfg.Research.Enabled {
		searcher = research.NewClient(research.Config{
			Timeout:          durs.research,
			PreferredDomains: cfg.Research.PreferredDomains,
		})
	}

	var rules *pipeline.RulesWatcher
	if cfg.Pipeline.AutoFixRulesPath != "" {
		rules, err = pipeline.NewRulesWatcher(cfg.Pipeline.AutoFixRulesPath)
		if err != nil {
			return fmt.Errorf("auto-fix rules: %w", err)
		}
		if err := rules.Start(ctx); err != nil {
			return fmt.Errorf("watch auto-fix rules: %w", err)
		}
		defer rules.Stop()
	}

	workspace, err := render.NewWorkspace(videoDir)
	if err != nil {
		return fmt.Errorf("prepare workspace: %w", err)
	}
	executor := render.NewExecutor(render.Config{
		Command:   cfg.Render.Command,
		Args:      cfg.Render.Args,
		Timeout:   durs.render,
		KillGrace: durs.kill,
	})

	chain := pipeline.NewChain(
		pipeline.NewClassifier(0),
		pipeline.NewAutoFixer(),
		rules,
		store,
		searcher,
		client,
		cfg.Pipeline.MemoryHitLimit,
	)
	orch := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Generator:   pipeline.NewGenerator(client, store, cfg.Pipeline.PreventiveExampleLimit),
		Validator:   pipeline.NewValidator(),
		Chain:       chain,
		Renderer:    executor,
		Store:       store,
		Workspace:   workspace,
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		Concurrency: cfg.Pipeline.MaxSceneConcurrency,
	})

	scenes, err := pipeline.LoadScenes(ctx, plan, videoID, len(plan.Scenes))
	if err != nil {
		return err
	}

	result, err := orch.ProcessVideo(ctx, scenes)
	printSnapshots(orch.Snapshots(scenes))
	if err != nil {
		return fmt.Errorf("video run aborted: %w", err)
	}
	logger.Info("Video run complete",
		zap.Int("rendered", result.Rendered),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration))

	if result.Rendered == 0 {
		return fmt.Errorf("no scene rendered successfully")
	}
	finalPath := filepath.Join(videoDir, videoName(plan.Title)+".mp4")
	assembler := render.NewAssembler(cfg.Render.AssembleCommand, durs.render)
	if err := assembler.Assemble(ctx, result.Clips, finalPath); err != nil {
		return fmt.Errorf("assemble video: %w", err)
	}
	fmt.Printf("Video written to %s (%d/%d scenes rendered)\n", finalPath, result.Rendered, len(scenes))
	return nil
}

// videoName derives a filesystem-safe name from the plan title.
func videoName(title string) string {
	title = strings.TrimSpace(strings.ToLower(title))
	if title == "" {
		return "video"
	}
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		return "video"
	}
	return name
}

func printSnapshots(snaps []pipeline.Snapshot) {
	for _, s := range snaps {
		line, err := json.Marshal(s)
		if err != nil {
			continue
		}
		fmt.Println(string(line))
	}
}

// sceneArtifact aggregates on-disk evidence of one scene's attempts.
type sceneArtifact struct {
	Scene    int
	Attempts int
	HasError bool
}

func runStatus(cmd *cobra.Command, args []string) error {
	videoDir := args[0]
	codeDir := filepath.Join(videoDir, "code")
	entries, err := os.ReadDir(codeDir)
	if err != nil {
		return fmt.Errorf("read %s: %w", codeDir, err)
	}

	byScene := make(map[int]*sceneArtifact)
	for _, e := range entries {
		var scene, attempt int
		if _, err := fmt.Sscanf(e.Name(), "scene_%d_attempt_%d.py", &scene, &attempt); err != nil {
			continue
		}
		a := byScene[scene]
		if a == nil {
			a = &sceneArtifact{Scene: scene}
			byScene[scene] = a
		}
		if attempt > a.Attempts {
			a.Attempts = attempt
		}
	}
	logEntries, err := os.ReadDir(filepath.Join(videoDir, "logs"))
	if err == nil {
		for _, e := range logEntries {
			var scene, attempt int
			if _, err := fmt.Sscanf(e.Name(), "scene_%d_attempt_%d_error.log", &scene, &attempt); err != nil {
				continue
			}
			if a := byScene[scene]; a != nil {
				a.HasError = true
			}
		}
	}

	ordered := make([]*sceneArtifact, 0, len(byScene))
	for _, a := range byScene {
		ordered = append(ordered, a)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Scene < ordered[j].Scene })

	for _, a := range ordered {
		state := "clean"
		if a.HasError {
			state = "had failures"
		}
		fmt.Printf("scene %d: %d attempt(s), %s\n", a.Scene, a.Attempts, state)
	}
	if len(ordered) == 0 {
		fmt.Println("no scene artifacts found")
	}
	return nil
}

func runMemoryStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := memory.Open(cfg.Memory.DatabasePath, memory.WithMaxSnippetLen(cfg.Memory.MaxSnippetLen))
	if err != nil {
		return fmt.Errorf("open fix memory: %w", err)
	}
	defer store.Close()

	stats, err := store.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("query fix memory: %w", err)
	}
	fmt.Printf("fixes: %d (total successes %d)\n", stats.FixCount, stats.TotalSuccesses)
	fmt.Printf("preventive examples: %d\n", stats.ExampleCount)
	printSortedCounts("by category", stats.ByCategory)
	printSortedCounts("by method", stats.ByMethod)
	return nil
}

func printSortedCounts(label string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Printf("%s:\n", label)
	for _, k := range keys {
		fmt.Printf("  %s: %d\n", k, counts[k])
	}
}

func runAssemble(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	durs, err := resolveDurations(cfg)
	if err != nil {
		return err
	}
	assembler := render.NewAssembler(cfg.Render.AssembleCommand, durs.render)
	if err := assembler.Assemble(ctx, args, assembleOut); err != nil {
		return fmt.Errorf("assemble video: %w", err)
	}
	fmt.Printf("Video written to %s\n", assembleOut)
	return nil
}
