package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// DefaultImage はコンテナ実行で使うイメージ
const DefaultImage = "docker.io/library/alpine:3.20"

// containerWorkDir はコンテナ内の作業ディレクトリ
const containerWorkDir = "/work"

// engines は検出するコンテナエンジン（優先順）
var engines = []string{"podman", "docker"}

// Container はdocker/podmanの使い捨てコンテナでコマンドを実行する
type Container struct {
	Engine  string
	Image   string
	WorkDir string
	Network bool
	direct  *Direct
}

// NewContainer はContainerを作成する
// engineが空の場合はpodman、dockerの順に探す
func NewContainer(engine, image, workDir string, network bool) (*Container, error) {
	candidates := engines
	if engine != "" {
		candidates = []string{engine}
	}

	var path string
	for _, name := range candidates {
		if p, err := exec.LookPath(name); err == nil {
			path = p
			break
		}
	}
	if path == "" {
		return nil, fmt.Errorf("%w: no container engine found", ErrUnavailable)
	}
	if image == "" {
		image = DefaultImage
	}
	return &Container{Engine: path, Image: image, WorkDir: workDir, Network: network, direct: NewDirect()}, nil
}

// Args はコンテナエンジンに渡す引数を組み立てる
func (c *Container) Args(cmd Command) ([]string, error) {
	dir := cmd.Dir
	if dir == "" {
		dir = c.WorkDir
	}
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		dir = wd
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}

	args := []string{"run", "--rm", "-i"}
	if !c.Network {
		args = append(args, "--network", "none")
	}
	for _, env := range cmd.Env {
		args = append(args, "-e", env)
	}
	args = append(args, "-v", dir+":"+containerWorkDir, "-w", containerWorkDir, c.Image)
	return append(args, cmd.Argv...), nil
}

// Run はコンテナ内でコマンドを実行する
func (c *Container) Run(ctx context.Context, cmd Command) (Result, error) {
	if len(cmd.Argv) == 0 || cmd.Argv[0] == "" {
		return Result{}, ErrEmptyCommand
	}
	args, err := c.Args(cmd)
	if err != nil {
		return Result{}, err
	}

	wrapped := Command{
		Argv:    append([]string{c.Engine}, args...),
		Timeout: cmd.Timeout,
		Stdin:   cmd.Stdin,
	}
	return c.direct.Run(ctx, wrapped)
}
