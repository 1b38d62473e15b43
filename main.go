package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"auto_article_curator/config"
	"auto_article_curator/pipeline"
	"auto_article_curator/publisher"
	"auto_article_curator/store"
)

var (
	configPath string
	verbose    bool
	timeout    time.Duration

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "curator",
	Short: "Curate cited, Wikipedia-style articles from web research",
	Long: `curator researches a topic through simulated writer/expert conversations,
builds an outline, writes every section from the collected evidence with
globally numbered citations and polishes the result.

Artifacts are written to <output_dir>/<topic>/ so stages can be re-run
individually.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		logger, err = buildLogger(cfg.Logging, verbose)
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

var (
	runTopic    string
	excludeURLs []string
	skipStages  []string
	maxPersonas int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Research a topic and write the article",
	RunE:  runPipeline,
}

var (
	exportTopic  string
	exportOut    string
	exportAuthor string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Render a curated article as a standalone HTML page",
	RunE:  exportArticle,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logs")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Hour, "overall timeout")

	runCmd.Flags().StringVarP(&runTopic, "topic", "t", "", "topic to write about (required)")
	runCmd.Flags().StringSliceVar(&excludeURLs, "exclude-url", nil, "URL never used as a source (repeatable)")
	runCmd.Flags().StringSliceVar(&skipStages, "skip", nil, "stages to skip and load from disk: research, outline, article, polish")
	runCmd.Flags().IntVar(&maxPersonas, "max-perspective", -1, "override research.max_perspective")
	runCmd.MarkFlagRequired("topic")

	exportCmd.Flags().StringVarP(&exportTopic, "topic", "t", "", "topic whose article is exported (required)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default <output_dir>/<topic>/article.html)")
	exportCmd.Flags().StringVar(&exportAuthor, "author", "", "author name")
	exportCmd.MarkFlagRequired("topic")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildLogger(lc config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if !lc.JSON {
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	if lc.Level != "" {
		level, err := zap.ParseAtomicLevel(lc.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zc.Build()
}

func parseStages(skip []string) (pipeline.Stages, error) {
	stages := pipeline.AllStages()
	for _, s := range skip {
		switch pipeline.Stage(s) {
		case pipeline.StageResearch:
			stages.Research = false
		case pipeline.StageOutline:
			stages.Outline = false
		case pipeline.StageArticle:
			stages.Article = false
		case pipeline.StagePolish:
			stages.Polish = false
		default:
			return stages, fmt.Errorf("unknown stage %q", s)
		}
	}
	return stages, nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	stages, err := parseStages(skipStages)
	if err != nil {
		return err
	}
	if maxPersonas >= 0 {
		cfg.Research.MaxPerspective = maxPersonas
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	runner, err := app.Runner(excludeURLs)
	if err != nil {
		return err
	}
	res, err := runner.Run(ctx, runTopic, stages)
	if err != nil {
		return err
	}
	dir := app.Store.Dir(runTopic)
	if res.UsedFallback {
		logger.Warn("article was written by the fallback model", zap.String("dir", dir))
	}
	logger.Info("run complete", zap.String("run_id", res.RunID), zap.String("dir", dir))
	fmt.Println(dir)
	return nil
}

func exportArticle(cmd *cobra.Command, args []string) error {
	st, err := store.New(cfg.OutputDir)
	if err != nil {
		return err
	}
	name := store.PolishedArticle
	if !st.Exists(exportTopic, name) {
		name = store.DraftArticle
	}
	a, meta, err := st.LoadArticle(exportTopic, name)
	if err != nil {
		return err
	}
	logger.Debug("loaded article", zap.String("artifact", name), zap.Bool("fallback", meta.Fallback))

	out := exportOut
	if out == "" {
		out = filepath.Join(st.Dir(exportTopic), "article.html")
	}
	if err := publisher.New(logger).Export(a, out, publisher.ExportParams{Author: exportAuthor}); err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}
