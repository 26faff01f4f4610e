package root

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turnwheel/turnwheel/pkg/config"
	anthropicprovider "github.com/turnwheel/turnwheel/pkg/model/provider/anthropic"
	"github.com/turnwheel/turnwheel/pkg/runtime"
	"github.com/turnwheel/turnwheel/pkg/session"
	"github.com/turnwheel/turnwheel/pkg/tools"
	"github.com/turnwheel/turnwheel/pkg/tools/builtin"
)

type runFlags struct {
	configPath    string
	maxIterations int
	costBudget    float64
	noStream      bool
}

func newRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run [prompt|-]",
		Short: "Run a conversation",
		Long:  `Run a single conversation through to completion, dispatching tool calls as the model requests them`,
		Example: `  turnwheel run "Summarize the design doc"
  turnwheel run --budget 0.50 "Summarize the design doc"
  echo "Summarize the design doc" | turnwheel run -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, args, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Path to the configuration file")
	cmd.Flags().IntVar(&flags.maxIterations, "max-iterations", 0, "Override the iteration budget")
	cmd.Flags().Float64Var(&flags.costBudget, "budget", 0, "Override the cost budget in dollars (0 = unlimited)")
	cmd.Flags().BoolVar(&flags.noStream, "no-stream", false, "Use batch completions instead of streaming")

	return cmd
}

func runCommand(cmd *cobra.Command, args []string, flags runFlags) error {
	prompt, err := readPrompt(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}

	cfg := config.Default()
	if flags.configPath != "" {
		cfg, err = config.Load(flags.configPath)
		if err != nil {
			return err
		}
	}
	if flags.maxIterations > 0 {
		cfg.Budgets.MaxIterations = flags.maxIterations
	}
	if cmd.Flags().Changed("budget") {
		cfg.Budgets.Cost = flags.costBudget
	}
	if flags.noStream {
		cfg.Streaming.Enabled = false
	}

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return errors.New("ANTHROPIC_API_KEY environment variable is required")
	}

	provider, err := anthropicprovider.NewClient(anthropicprovider.Config{
		APIKey:  apiKey,
		Model:   cfg.Model.Name,
		BaseURL: cfg.Model.BaseURL,
	})
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cfg.Session.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := tools.NewRegistry(
		builtin.NewThinkTool().Tool(),
		builtin.NewTaskCompleteTool(),
	)

	out := cmd.OutOrStdout()
	opts := []runtime.Opt{
		runtime.WithRegistry(registry),
		runtime.WithStore(store),
		runtime.WithSystemPrompt(cfg.SystemPrompt),
		runtime.WithMaxIterations(cfg.Budgets.MaxIterations),
		runtime.WithCostBudget(cfg.Budgets.Cost),
		runtime.WithStreaming(cfg.Streaming.Enabled),
		runtime.WithIdleTimeout(cfg.Streaming.IdleTimeout),
		runtime.WithMaxTokens(cfg.Model.MaxTokens),
		runtime.WithThinkingBudget(cfg.Model.ThinkingBudget),
		runtime.WithPartialText(func(text string) {
			fmt.Fprint(out, text)
		}),
	}
	if cfg.Streaming.Typewriter {
		opts = append(opts, runtime.WithTypewriterDelay(cfg.Streaming.CharDelay))
	}
	if cfg.Session.MaxHistoryTokens > 0 {
		opts = append(opts, runtime.WithMaxHistoryTokens(cfg.Session.MaxHistoryTokens))
	}
	if cfg.Retry.MaxAttempts > 0 {
		retry := runtime.DefaultRetryConfig()
		retry.MaxAttempts = cfg.Retry.MaxAttempts
		if cfg.Retry.BaseDelay > 0 {
			retry.BaseDelay = cfg.Retry.BaseDelay
		}
		if cfg.Retry.MaxDelay > 0 {
			retry.MaxDelay = cfg.Retry.MaxDelay
		}
		if cfg.Retry.JitterFactor > 0 {
			retry.JitterFactor = cfg.Retry.JitterFactor
		}
		opts = append(opts, runtime.WithRetryConfig(retry))
	}

	rt, err := runtime.New(provider, opts...)
	if err != nil {
		return err
	}

	result, err := rt.RunConversation(cmd.Context(), prompt)
	if err != nil {
		return err
	}

	if !cfg.Streaming.Enabled && result.FinalTurn != nil {
		fmt.Fprintln(out, result.FinalTurn.Text)
	} else {
		fmt.Fprintln(out)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "status=%s iterations=%d cost=$%.4f\n",
		result.Status, result.Iterations, result.TotalCost)

	if result.Status != runtime.StatusCompleted {
		return fmt.Errorf("conversation ended with status %s", result.Status)
	}
	return nil
}

func readPrompt(stdin io.Reader, arg string) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("reading prompt from stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("empty prompt")
	}
	return prompt, nil
}

func openStore(database string) (session.Store, func(), error) {
	if database == "" {
		return session.NewInMemoryStore(), func() {}, nil
	}
	store, err := session.NewSQLiteStore(database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening session database: %w", err)
	}
	return store, func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "closing session database: %v\n", err)
		}
	}, nil
}
