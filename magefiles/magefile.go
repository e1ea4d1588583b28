//go:build mage

// Package main contains Mage build targets for parmira.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binDir  = "bin"
	binName = "parmira"
	cmdPkg  = "./cmd/parmira"
)

// Default はmageを引数なしで実行したときのターゲット
var Default = Build

// Build はCLIをbin/にビルドする
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", binDir, err)
	}
	out := filepath.Join(binDir, binName)
	version := os.Getenv("VERSION")
	if version == "" {
		version = "dev"
	}
	if err := sh.RunV("go", "build", "-ldflags", "-X main.version="+version, "-o", out, cmdPkg); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	fmt.Printf("Built %s\n", out)
	return nil
}

// Test はユニットテストを実行する
func Test() error {
	return sh.RunV("go", "test", "./...")
}

// Lint はgo vetを実行する
func Lint() error {
	return sh.RunV("go", "vet", "./...")
}

// E2E はビルドタグ e2e のテストを実行する
func E2E() error {
	mg.Deps(Test)
	return sh.RunV("go", "test", "-tags", "e2e", "./e2e/...")
}

// Qdrant はローカルのQdrantに対するテストを実行する（QDRANT_URL で接続先を変更）
func Qdrant() error {
	return sh.RunV("go", "test", "-tags", "qdrant_e2e", "./e2e/...")
}

// Check はlintとテストをまとめて実行する
func Check() {
	mg.SerialDeps(Lint, Test)
}

// Prompts は組み込みプロンプトをprompts/に書き出す
func Prompts() error {
	return sh.RunV("go", "run", cmdPkg, "prompts", "init", "prompts")
}

// Clean はビルド成果物を削除する
func Clean() error {
	fmt.Println("Removing", binDir)
	return sh.Rm(binDir)
}
