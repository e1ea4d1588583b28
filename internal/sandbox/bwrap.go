package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// roBinds は読み取り専用でバインドするホストのディレクトリ
var roBinds = []string{"/usr", "/bin", "/sbin", "/lib", "/lib64", "/lib32", "/etc"}

// Bwrap はbubblewrapでコマンドを隔離して実行する
type Bwrap struct {
	Path    string
	WorkDir string
	Network bool
	direct  *Direct
}

// NewBwrap はBwrapを作成する（bwrapがPATHにない場合はErrUnavailable）
func NewBwrap(workDir string, network bool) (*Bwrap, error) {
	path, err := exec.LookPath("bwrap")
	if err != nil {
		return nil, fmt.Errorf("%w: bwrap not found", ErrUnavailable)
	}
	return &Bwrap{Path: path, WorkDir: workDir, Network: network, direct: NewDirect()}, nil
}

// Args はbwrapに渡す引数を組み立てる
func (b *Bwrap) Args(c Command) ([]string, error) {
	workDir := c.Dir
	if workDir == "" {
		workDir = b.WorkDir
	}
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		workDir = wd
	}
	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}

	args := []string{"--unshare-all", "--die-with-parent", "--new-session"}
	if b.Network {
		args = append(args, "--share-net")
	}
	for _, dir := range roBinds {
		// 存在しないディレクトリ（/lib32など）は無視される
		args = append(args, "--ro-bind-try", dir, dir)
	}
	args = append(args,
		"--proc", "/proc",
		"--dev", "/dev",
		"--tmpfs", "/tmp",
		"--bind", workDir, workDir,
		"--chdir", workDir,
		"--",
	)
	return append(args, c.Argv...), nil
}

// Run はbwrap経由でコマンドを実行する
func (b *Bwrap) Run(ctx context.Context, c Command) (Result, error) {
	if len(c.Argv) == 0 || c.Argv[0] == "" {
		return Result{}, ErrEmptyCommand
	}
	// /usrなどはホストと同じものが見えるので、ホストのPATHで先に解決する
	if _, err := exec.LookPath(c.Argv[0]); err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrCommandNotFound, c.Argv[0])
	}
	args, err := b.Args(c)
	if err != nil {
		return Result{}, err
	}

	wrapped := c
	wrapped.Argv = append([]string{b.Path}, args...)
	wrapped.Dir = ""
	return b.direct.Run(ctx, wrapped)
}
