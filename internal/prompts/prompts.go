// Package prompts loads the YAML prompt sets used by the agents.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults/*.yaml
var defaults embed.FS

// DefaultTerminalSystemPrompt はシステムプロンプトが空のときに使う
const DefaultTerminalSystemPrompt = "You are a specialized debugging and execution agent."

// プレースホルダ
const (
	VarUserInput = "user_input"
	VarRAGOutput = "rag_output"
	VarTools     = "tools"
)

// ファイル名とトップレベルのキー
const (
	TerminalFile = "terminal_prompts.yaml"
	MemoryFile   = "memory_prompts.yaml"
	RAGFile      = "rag_prompts.yaml"

	terminalKey = "terminal_agent"
	memoryKey   = "memory_agent"
	ragKey      = "rag_agent"
)

// Prompt はsystem/userのプロンプト組
type Prompt struct {
	SystemPrompt string `yaml:"system_prompt"`
	UserPrompt   string `yaml:"user_prompt"`
}

// Set は全エージェントのプロンプト
type Set struct {
	Terminal Prompt
	Memory   Prompt
	RAG      Prompt
}

// Load はdirのYAMLを読み、無いファイルは組み込みの既定値を使う
// dirが空なら既定値だけを返す
func Load(dir string) (*Set, error) {
	set := &Set{}
	for _, f := range []struct {
		file string
		key  string
		dst  *Prompt
	}{
		{TerminalFile, terminalKey, &set.Terminal},
		{MemoryFile, memoryKey, &set.Memory},
		{RAGFile, ragKey, &set.RAG},
	} {
		p, err := loadFile(dir, f.file, f.key)
		if err != nil {
			return nil, err
		}
		*f.dst = p
	}

	if strings.TrimSpace(set.Terminal.SystemPrompt) == "" {
		set.Terminal.SystemPrompt = DefaultTerminalSystemPrompt
	}
	return set, nil
}

// Default は組み込みのプロンプトを返す
func Default() *Set {
	set, err := Load("")
	if err != nil {
		panic(err)
	}
	return set
}

func loadFile(dir, file, key string) (Prompt, error) {
	var data []byte
	var err error
	if dir != "" {
		data, err = os.ReadFile(filepath.Join(dir, file))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Prompt{}, fmt.Errorf("failed to read prompts %s: %w", file, err)
		}
	}
	if data == nil {
		data, err = defaults.ReadFile("defaults/" + file)
		if err != nil {
			return Prompt{}, err
		}
	}

	var doc map[string]Prompt
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Prompt{}, fmt.Errorf("failed to parse prompts %s: %w", file, err)
	}
	return doc[key], nil
}

// Render はプレースホルダ {{name}} を置き換える
func Render(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// Messages はsystem/userを描画して返す
func (p Prompt) Messages(vars map[string]string) (system, user string) {
	return Render(p.SystemPrompt, vars), Render(p.UserPrompt, vars)
}

// WriteDefaults は組み込みのプロンプトをdirに書き出す（既存ファイルは上書きしない）
func WriteDefaults(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	var written []string
	for _, file := range []string{TerminalFile, MemoryFile, RAGFile} {
		path := filepath.Join(dir, file)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		data, err := defaults.ReadFile("defaults/" + file)
		if err != nil {
			return written, err
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}
