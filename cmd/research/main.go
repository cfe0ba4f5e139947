package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/config"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/export"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/fetch"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/llm"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/logging"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/research"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/search"
)

type runner interface {
	Execute(ctx context.Context, objective string, opts research.RunOptions) (research.AgentRunResult, error)
}

var (
	loadConfig = config.Load
	newLogger  = logging.New
	newRunner  = func(cfg config.Config, logger *zap.Logger) (runner, error) {
		completer, err := llm.NewProvider(cfg.LLMConfig())
		if err != nil {
			return nil, err
		}
		provider, err := search.NewProvider(cfg.SearchConfig())
		if err != nil {
			return nil, err
		}
		fetcher := fetch.New(fetch.WithHTTPClient(&http.Client{Timeout: cfg.SearchTimeout}))
		return research.New(completer, provider, fetcher, cfg.ResearchConfig(), research.WithLogger(logger)), nil
	}
)

var (
	outputFormat string
	outputPath   string
	reportTitle  string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "research",
	Short: "Plan, search and synthesize a research report",
	Long: `research runs the research pipeline in-process: an LLM plans the
investigation, each step runs a web search, highlights are extracted and
the findings are synthesized into a summary and a cited report.

Configuration comes from the same environment variables and optional
RESEARCH_CONFIG_FILE the server uses.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run <objective>",
	Short: "Run one research objective and print the report",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runResearch,
}

func init() {
	runCmd.Flags().StringVarP(&outputFormat, "format", "f", "markdown", "output format: markdown or json")
	runCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the report to this file instead of stdout")
	runCmd.Flags().StringVar(&reportTitle, "title", "", "heading for the markdown export")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print progress events to stderr")
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func runResearch(cmd *cobra.Command, args []string) error {
	format := strings.ToLower(strings.TrimSpace(outputFormat))
	if format != "markdown" && format != "json" {
		return fmt.Errorf("unsupported format %q (want markdown or json)", outputFormat)
	}
	objective, err := research.ValidateObjective(strings.Join(args, " "))
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if missing := cfg.MissingKeys(); len(missing) > 0 {
		return fmt.Errorf("missing credentials: %s", strings.Join(missing, ", "))
	}

	r, err := newRunner(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := research.RunOptions{}
	if verbose {
		opts.Progress = progressPrinter(cmd.ErrOrStderr())
	}
	result, err := r.Execute(ctx, objective, opts)
	if err != nil {
		logger.Debug("research run failed", zap.Error(err))
		return errors.New(research.PublicMessage(err))
	}

	out := cmd.OutOrStdout()
	if outputPath != "" {
		file, err := os.Create(outputPath)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}
	return writeResult(out, format, objective, result)
}

func writeResult(w io.Writer, format, objective string, result research.AgentRunResult) error {
	if format == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}
	_, err := io.WriteString(w, export.MarkdownWith(result, export.MarkdownOptions{
		Objective: objective,
		Title:     reportTitle,
	}))
	return err
}

func progressPrinter(w io.Writer) research.ProgressFunc {
	return func(event research.ProgressEvent) {
		line := fmt.Sprintf("[%s] %s", event.Stage, event.Type)
		if event.StepIndex != nil {
			line += fmt.Sprintf(" step=%d", *event.StepIndex)
		}
		if event.Message != "" {
			line += " " + event.Message
		}
		fmt.Fprintln(w, line)
	}
}
