package tools

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/brbranch/parmira/internal/model"
	"github.com/brbranch/parmira/internal/sandbox"
)

// DefaultShellTimeout はシェルコマンドのデフォルトタイムアウト
const DefaultShellTimeout = 10 * time.Second

// ShellTool はコマンドをシェルを介さずに実行する（execute_shell）
type ShellTool struct {
	runner  sandbox.Runner
	timeout time.Duration
	dir     string
}

// NewShellTool はShellToolを作成する
func NewShellTool(runner sandbox.Runner, timeout time.Duration, dir string) *ShellTool {
	if runner == nil {
		runner = sandbox.NewDirect()
	}
	if timeout <= 0 {
		timeout = DefaultShellTimeout
	}
	return &ShellTool{runner: runner, timeout: timeout, dir: dir}
}

func (t *ShellTool) Name() string { return "execute_shell" }

func (t *ShellTool) Description() string {
	return "Execute a single command (no shell pipes or redirects) and return its output."
}

func (t *ShellTool) Schema() model.JSONSchema {
	return objectSchema(map[string]model.JSONSchema{
		"command": prop("string", "Command line, split like a POSIX shell would."),
	}, "command")
}

// Call はコマンドを実行する
// 非ゼロ終了は200のままstatus=errorで返す
func (t *ShellTool) Call(ctx context.Context, args map[string]any) *Result {
	command, _ := stringArg(args, "command")
	if strings.TrimSpace(command) == "" {
		return Failure(http.StatusBadRequest, "command is required")
	}

	argv, err := shellwords.Parse(command)
	if err != nil {
		return Failure(http.StatusBadRequest, "Invalid command: %v", err)
	}
	if len(argv) == 0 {
		return Failure(http.StatusBadRequest, "command is required")
	}

	res, err := t.runner.Run(ctx, sandbox.Command{
		Argv:    argv,
		Dir:     t.dir,
		Timeout: t.timeout,
	})
	switch {
	case errors.Is(err, sandbox.ErrCommandNotFound):
		return Failure(http.StatusBadRequest, "Command not found on the system: %s", argv[0])
	case errors.Is(err, sandbox.ErrDenied):
		return Failure(http.StatusForbidden, "%v", err)
	case err != nil:
		return Failure(http.StatusInternalServerError, "Internal Shell Error: %v", err)
	case res.TimedOut:
		return Failure(http.StatusRequestTimeout, "Command timed out after %s.", t.timeout)
	}

	if res.ExitCode != 0 {
		r := Success(map[string]any{
			"return_code": res.ExitCode,
			"output":      strings.TrimSpace(res.Stderr),
		})
		r.Status = StatusError
		r.Fields["status"] = StatusError
		return r
	}
	return Success(map[string]any{
		"return_code": 0,
		"output":      strings.TrimSpace(res.Stdout),
	})
}
