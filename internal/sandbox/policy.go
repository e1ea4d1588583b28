package sandbox

import (
	"context"
	"fmt"
	"path/filepath"
)

// Policy はプログラム名の許可リスト・拒否リストで実行を制限する
type Policy struct {
	next  Runner
	allow map[string]bool
	deny  map[string]bool
}

// NewPolicy はPolicyを作成する
// allowが空の場合はdenyにないプログラムをすべて許可する
func NewPolicy(next Runner, allow, deny []string) *Policy {
	p := &Policy{next: next, allow: map[string]bool{}, deny: map[string]bool{}}
	for _, name := range allow {
		p.allow[name] = true
	}
	for _, name := range deny {
		p.deny[name] = true
	}
	return p
}

// Check はプログラムの実行可否を返す
func (p *Policy) Check(argv []string) error {
	if len(argv) == 0 || argv[0] == "" {
		return ErrEmptyCommand
	}
	name := filepath.Base(argv[0])
	if p.deny[name] {
		return fmt.Errorf("%w: %s", ErrDenied, name)
	}
	if len(p.allow) > 0 && !p.allow[name] {
		return fmt.Errorf("%w: %s is not in the allowlist", ErrDenied, name)
	}
	return nil
}

// Run はポリシーを確認してからコマンドを実行する
func (p *Policy) Run(ctx context.Context, c Command) (Result, error) {
	if err := p.Check(c.Argv); err != nil {
		return Result{}, err
	}
	return p.next.Run(ctx, c)
}
