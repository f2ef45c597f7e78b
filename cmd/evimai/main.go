package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"evimai-api/internal/config"
	"evimai-api/internal/logging"
	"evimai-api/internal/modules/client/domain"
	"evimai-api/internal/modules/client/infrastructure"
	"evimai-api/internal/modules/client/usecase"
	processingdomain "evimai-api/internal/modules/processing/domain"
)

// options CLIフラグ
type options struct {
	server   string
	userID   string
	lang     string
	timeout  time.Duration
	logLevel string
	asJSON   bool

	style     string
	imagePath string
	imageURL  string
	maxBytes  int64
}

// newRootCmd ルートコマンドを作成
func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "evimai",
		Short: "EvimAI relay client",
		Long: `evimai sends interior photos to an EvimAI relay and prints the result.

Examples:
  evimai process redesign --image ./living-room.jpg --style modern --user u1
  evimai process estimate --user u1
  evimai credits --user u1 --lang en`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(logging.NewWithWriter(config.LogConfig{
				Level:   opts.logLevel,
				Format:  "text",
				Service: "evimai-cli",
			}, cmd.ErrOrStderr()))
		},
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.server, "server", "s", envOr("EVIMAI_SERVER", "http://localhost:8080"), "Relay base URL")
	flags.StringVarP(&opts.userID, "user", "u", envOr("EVIMAI_USER", "mobile_user"), "User ID")
	flags.StringVar(&opts.lang, "lang", localeFromEnv(), "Message language (tr, en)")
	flags.DurationVar(&opts.timeout, "timeout", domain.DefaultSubmitTimeout, "Client-side request timeout")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flags.BoolVar(&opts.asJSON, "json", false, "Print raw JSON output")

	root.AddCommand(newProcessCmd(opts), newCreditsCmd(opts))
	return root
}

// newProcessCmd processサブコマンドを作成
func newProcessCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "process <mode>",
		Short:     "Process an image with redesign, staging, estimate or renovation",
		Args:      cobra.ExactArgs(1),
		ValidArgs: modeNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := processingdomain.DefaultRegistry()
			if err != nil {
				return err
			}

			messages := domain.NewMessages(opts.lang)
			orchestrator := usecase.NewOrchestrator(
				infrastructure.NewRelayClient(opts.server, nil),
				infrastructure.NewEncoder(opts.maxBytes),
				registry,
				usecase.Options{
					Timeout:  opts.timeout,
					Messages: messages,
					OnState: func(state domain.State) {
						slog.Debug("State changed", "state", state)
					},
				},
			)

			outcome := orchestrator.Run(cmd.Context(), domain.Capture{
				Mode:      args[0],
				Style:     opts.style,
				UserID:    opts.userID,
				ImagePath: opts.imagePath,
				ImageURL:  opts.imageURL,
			})
			if outcome.Err != nil {
				return errors.New(outcome.Message)
			}

			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), outcome.Result)
			}
			printOutcome(cmd.OutOrStdout(), outcome, orchestrator)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.style, "style", "", "Design style (e.g. modern, scandinavian)")
	cmd.Flags().StringVarP(&opts.imagePath, "image", "i", "", "Path to a local image")
	cmd.Flags().StringVar(&opts.imageURL, "image-url", "", "Public image URL")
	cmd.Flags().Int64Var(&opts.maxBytes, "max-bytes", 0, "Maximum image size in bytes (0 = 20MB)")
	return cmd
}

// newCreditsCmd creditsサブコマンドを作成
func newCreditsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "credits",
		Short: "Show the credit balance of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := processingdomain.DefaultRegistry()
			if err != nil {
				return err
			}

			messages := domain.NewMessages(opts.lang)
			orchestrator := usecase.NewOrchestrator(
				infrastructure.NewRelayClient(opts.server, nil),
				infrastructure.NewEncoder(0),
				registry,
				usecase.Options{Timeout: opts.timeout, Messages: messages},
			)

			account, err := orchestrator.RefreshAccount(cmd.Context(), opts.userID)
			if err != nil {
				slog.Warn("Failed to load credits", "user_id", opts.userID, "error", err)
				return errors.New(messages.Failure(err))
			}

			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), account)
			}
			plan := "free"
			if account.IsPremium {
				plan = "premium"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "User:    %s\nPlan:    %s\nCredits: %d\n", account.UserID, plan, account.Credits)
			return nil
		},
	}
}

// printOutcome 処理結果を人間向けに出力
func printOutcome(w io.Writer, outcome domain.Outcome, orchestrator *usecase.Orchestrator) {
	result := outcome.Result
	_, _ = fmt.Fprintf(w, "Mode:       %s\n", result.Mode)
	if result.Style != "" {
		_, _ = fmt.Fprintf(w, "Style:      %s\n", result.Style)
	}
	if result.ProcessedImageRef != "" {
		_, _ = fmt.Fprintf(w, "Image:      %s\n", result.ProcessedImageRef)
	}
	if result.Description != "" {
		_, _ = fmt.Fprintf(w, "Summary:    %s\n", result.Description)
	}
	_, _ = fmt.Fprintf(w, "Confidence: %.2f\n", result.ConfidenceScore)
	for _, feature := range result.Features {
		_, _ = fmt.Fprintf(w, "  - %s\n", feature)
	}
	if outcome.FromCache {
		_, _ = fmt.Fprintln(w, "(cached)")
	}
	if outcome.Degraded {
		_, _ = fmt.Fprintln(w, "(image could not be read, processed without image)")
	}
	if account := orchestrator.Account(); account != nil && !account.IsPremium {
		_, _ = fmt.Fprintf(w, "Credits:    %d\n", account.Credits)
	}
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func modeNames() []string {
	names := make([]string, 0, len(processingdomain.AllModes))
	for _, m := range processingdomain.AllModes {
		names = append(names, string(m))
	}
	return names
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// localeFromEnv LANG（例: en_US.UTF-8）から言語タグを取り出す
func localeFromEnv() string {
	locale := os.Getenv("LANG")
	if i := strings.IndexAny(locale, ".@"); i >= 0 {
		locale = locale[:i]
	}
	locale = strings.ReplaceAll(locale, "_", "-")
	if locale == "" || locale == "C" || locale == "POSIX" {
		return "tr"
	}
	return locale
}

func main() {
	root := newRootCmd(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(root.ErrOrStderr(), err)
		os.Exit(1)
	}
}
