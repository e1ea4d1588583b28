package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brbranch/parmira/internal/agent"
	"github.com/brbranch/parmira/internal/bootstrap"
	"github.com/brbranch/parmira/internal/logging"
	"github.com/brbranch/parmira/internal/render"
)

// REPLの組み込みコマンド
const (
	rememberPrefix = "/remember "
	promptLabel    = "parmira"
)

func (a *app) askCmd() *cobra.Command {
	var showSteps bool

	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Ask the terminal agent a single question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := setupSignalHandler(cmd.Context())
			defer cancel()

			services, cleanup, err := a.services(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			agents, err := services.Agents(ctx)
			if err != nil {
				return err
			}
			r := render.New(cmd.OutOrStdout())
			return answer(ctx, agents.Terminal, r, strings.Join(args, " "), showSteps)
		},
	}
	cmd.Flags().BoolVarP(&showSteps, "steps", "s", false, "print each tool call")
	return cmd
}

func (a *app) chatCmd() *cobra.Command {
	var showSteps bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session with the terminal agent",
		Long: `chat reads one request per line. "exit" or "quit" ends the session and
"/remember <text>" hands the text to the memory agent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := setupSignalHandler(cmd.Context())
			defer cancel()

			services, cleanup, err := a.services(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			agents, err := services.Agents(ctx)
			if err != nil {
				return err
			}

			logger := logging.New(services.Config.Log, logging.ComponentTerminal)
			logger.Info("chat session started")
			defer logger.Info("chat session ended")

			r := render.New(cmd.OutOrStdout())
			return repl(ctx, cmd, agents, r, showSteps)
		},
	}
	cmd.Flags().BoolVarP(&showSteps, "steps", "s", false, "print each tool call")
	return cmd
}

// repl は入力が尽きるか exit が来るまで1行ずつ処理する
func repl(ctx context.Context, cmd *cobra.Command, agents *bootstrap.Agents, r *render.Renderer, showSteps bool) error {
	scanner := bufio.NewScanner(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	for {
		fmt.Fprint(out, r.Prompt(promptLabel))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			return nil
		case strings.HasPrefix(line, rememberPrefix):
			outcome, err := agents.Memory.Run(ctx, strings.TrimPrefix(line, rememberPrefix))
			if err != nil {
				r.Error(err)
				continue
			}
			r.Notice("memory", describeOutcome(outcome))
		default:
			if err := answer(ctx, agents.Terminal, r, line, showSteps); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.Error(err)
			}
		}
	}
}

// answer はエージェントを実行して結果を表示する
// 上限に達した場合も途中までの回答を表示してからエラーを返す
func answer(ctx context.Context, t *agent.TerminalAgent, r *render.Renderer, query string, showSteps bool) error {
	ans, err := t.Run(ctx, query)
	if ans != nil {
		if showSteps {
			for _, step := range ans.Steps {
				if step.Call == nil {
					continue
				}
				status := "ok"
				if step.IsError {
					status = "error"
				}
				r.Notice(fmt.Sprintf("step %d", step.N),
					fmt.Sprintf("%s %s (%s)", step.Target.Category, step.Target.Tool, status))
			}
		}
		if ans.Text != "" {
			r.Answer(ans.Text)
		}
	}
	if errors.Is(err, agent.ErrStepLimit) {
		return fmt.Errorf("%w (raise agent.maxSteps to allow more)", err)
	}
	return err
}

func describeOutcome(o *agent.MemoryOutcome) string {
	if o.Tool == "" {
		return o.Decision.Action
	}
	msg := o.Decision.Action + " via " + o.Tool
	if o.IsError {
		msg += " failed: " + logging.Preview(o.Result, 120)
	}
	return msg
}
