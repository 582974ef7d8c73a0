package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mikeboe/research-canvas/pkg/agent"
	"github.com/mikeboe/research-canvas/pkg/charts"
	"github.com/mikeboe/research-canvas/pkg/clients"
	"github.com/mikeboe/research-canvas/pkg/config"
	"github.com/mikeboe/research-canvas/pkg/search"
)

var question string

func main() {
	handler := slog.NewTextHandler(os.Stderr, nil)
	slog.SetDefault(slog.New(handler))

	// Load .env file
	if err := godotenv.Load(); err != nil {
		// It's okay if .env doesn't exist, as long as env vars are set
	}

	rootCmd := &cobra.Command{
		Use:   "research-canvas",
		Short: "A terminal research assistant",
		Long:  `research-canvas runs the conversational research loop in the terminal: it gathers chart and web evidence for your question and drafts a report.`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.Load()
			ctx := context.Background()

			runner, err := buildRunner(ctx, cfg)
			if err != nil {
				slog.Error("Failed to initialize", "error", err)
				os.Exit(1)
			}

			state := agent.State{}
			reader := bufio.NewReader(os.Stdin)

			if cmd.Flags().Changed("question") {
				if strings.TrimSpace(question) == "" {
					slog.Error("--question flag provided but empty")
					os.Exit(1)
				}
				state = runTurn(ctx, runner, state, question)
				return
			}

			// Interactive Mode
			for {
				fmt.Print("> ")
				input, err := reader.ReadString('\n')
				if err != nil {
					return
				}
				input = strings.TrimSpace(input)
				if input == "" || input == "exit" || input == "quit" {
					return
				}
				state = runTurn(ctx, runner, state, input)
			}
		},
	}

	rootCmd.Flags().StringVarP(&question, "question", "q", "", "Run a single research question and exit")

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRunner(ctx context.Context, cfg *config.Config) (*agent.Runner, error) {
	reasoning, err := clients.GoogleAI(ctx, cfg.GoogleApiKey, cfg.ReasoningModel)
	if err != nil {
		return nil, fmt.Errorf("creating reasoning model: %w", err)
	}
	fast, err := clients.GoogleAI(ctx, cfg.GoogleApiKey, cfg.FastModel)
	if err != nil {
		return nil, fmt.Errorf("creating fast model: %w", err)
	}

	fanout := &agent.FanoutNode{
		Model: clients.NewLangChainModel(fast),
		Config: agent.FanoutConfig{
			Concurrency:  cfg.SearchConcurrency,
			MaxResources: cfg.MaxResources,
		},
	}
	if cfg.TavilyApiKey != "" {
		web, err := search.NewTavilyClient(cfg.TavilyApiKey)
		if err != nil {
			slog.Warn("Web search disabled", "error", err)
		} else {
			fanout.Web = web
		}
	}
	chartClient, err := charts.NewClient(cfg.ChartMCPURL, cfg.ChartApiToken, cfg.ChartDataURL)
	if err != nil {
		slog.Warn("Chart search disabled", "error", err)
	} else {
		fanout.Charts = chartClient
	}

	return &agent.Runner{
		Assistant:  &agent.AssistantNode{Model: clients.NewLangChainModel(reasoning)},
		Retrieval:  fanout,
		MaxSteps:   cfg.MaxSteps,
		OnSnapshot: printProgress,
	}, nil
}

var printedLogs int

func printProgress(s agent.State) {
	for ; printedLogs < len(s.Logs); printedLogs++ {
		fmt.Printf("  * %s\n", s.Logs[printedLogs].Message)
	}
}

func runTurn(ctx context.Context, runner *agent.Runner, state agent.State, input string) agent.State {
	printedLogs = 0
	next, err := runner.Run(ctx, state, input)
	if err != nil {
		slog.Error("Research turn failed", "error", err)
		return next
	}

	if len(next.Messages) > 0 {
		last := next.Messages[len(next.Messages)-1]
		if last.Role == agent.RoleAssistant && last.Content != "" {
			fmt.Println(last.Content)
		}
	}
	if next.Report != "" && next.Report != state.Report {
		fmt.Println("\n--- Report ---")
		fmt.Println(next.Report)
		if len(next.Resources) > 0 {
			fmt.Println("\nResources:")
			for _, r := range next.Resources {
				fmt.Printf("  - [%s] %s (%s)\n", r.Kind, r.Title, r.URL)
			}
		}
	}
	return next
}
