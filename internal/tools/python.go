package tools

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/brbranch/parmira/internal/model"
)

// DefaultPythonMaxSteps は1回の評価で許可する実行ステップ数
const DefaultPythonMaxSteps = 1_000_000

// restrictedKeywords を含むコードは実行しない
var restrictedKeywords = []string{"os.", "sys.", "open(", "import ", "while", "def"}

// noResultMessage はresult/outputのどちらも定義されなかった場合の出力
const noResultMessage = "Code executed but no explicit 'result' variable found."

var pythonFileOptions = &syntax.FileOptions{
	Set:             true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// maxIntExponent を超える整数のべき乗は拒否する
const maxIntExponent = 4096

// Starlarkには**がないので、べき乗はpow(x, y)で書く
var pythonPredeclared = starlark.StringDict{
	"pow": starlark.NewBuiltin("pow", starlarkPow),
}

// starlarkPow は整数同士（指数が非負）なら整数、それ以外はfloatを返す
func starlarkPow(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x, y starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &x, &y); err != nil {
		return nil, err
	}
	if base, ok := x.(starlark.Int); ok {
		if exp, ok := y.(starlark.Int); ok && exp.Sign() >= 0 {
			n, ok := exp.Int64()
			if !ok || n > maxIntExponent {
				return nil, fmt.Errorf("%s: exponent too large", b.Name())
			}
			result, sq := starlark.MakeInt(1), base
			for n > 0 {
				if n&1 == 1 {
					result = result.Mul(sq)
				}
				n >>= 1
				if n > 0 {
					sq = sq.Mul(sq)
				}
			}
			return result, nil
		}
	}
	fx, okx := starlark.AsFloat(x)
	fy, oky := starlark.AsFloat(y)
	if !okx || !oky {
		return nil, fmt.Errorf("%s: unsupported operand types %s and %s", b.Name(), x.Type(), y.Type())
	}
	return starlark.Float(math.Pow(fx, fy)), nil
}

// PythonTool は簡単な計算と代入をStarlarkで評価する（execute_python）
type PythonTool struct {
	maxSteps uint64
}

// NewPythonTool はPythonToolを作成する
func NewPythonTool(maxSteps uint64) *PythonTool {
	if maxSteps == 0 {
		maxSteps = DefaultPythonMaxSteps
	}
	return &PythonTool{maxSteps: maxSteps}
}

func (t *PythonTool) Name() string { return "execute_python" }

func (t *PythonTool) Description() string {
	return "Evaluate simple Python-style math and assignments. Assign the answer to `result`. Use pow(x, y) instead of x ** y."
}

func (t *PythonTool) Schema() model.JSONSchema {
	return objectSchema(map[string]model.JSONSchema{
		"code": prop("string", "Code to evaluate. No imports, loops with while, or function definitions."),
	}, "code")
}

// Call はコードを評価してresult（なければoutput）を返す
func (t *PythonTool) Call(ctx context.Context, args map[string]any) *Result {
	code, _ := stringArg(args, "code")
	for _, kw := range restrictedKeywords {
		if strings.Contains(code, kw) {
			return Failure(http.StatusForbidden, "Restricted keyword found. Only simple math and assignments are allowed.")
		}
	}

	thread := &starlark.Thread{
		Name:  "execute_python",
		Print: func(*starlark.Thread, string) {},
	}
	thread.SetMaxExecutionSteps(t.maxSteps)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	globals, err := starlark.ExecFileOptions(pythonFileOptions, thread, "<code>", code, pythonPredeclared)
	if err != nil {
		if strings.Contains(code, "**") {
			return Failure(http.StatusBadRequest, "Python Execution Error: %v (use pow(x, y) for exponents)", err)
		}
		return Failure(http.StatusBadRequest, "Python Execution Error: %v", err)
	}

	for _, name := range []string{"result", "output"} {
		if v, ok := globals[name]; ok {
			return Success(map[string]any{"output": fromStarlark(v)})
		}
	}
	return Success(map[string]any{"output": noResultMessage})
}

// fromStarlark はStarlarkの値をJSONに変換できるGoの値にする
func fromStarlark(v starlark.Value) any {
	switch v := v.(type) {
	case starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(v)
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return i
		}
		return v.String()
	case starlark.Float:
		if f := float64(v); !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
		return v.String()
	case starlark.String:
		return string(v)
	case *starlark.List:
		out := make([]any, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			out = append(out, fromStarlark(v.Index(i)))
		}
		return out
	case starlark.Tuple:
		out := make([]any, 0, len(v))
		for _, e := range v {
			out = append(out, fromStarlark(e))
		}
		return out
	case *starlark.Dict:
		out := make(map[string]any, v.Len())
		for _, item := range v.Items() {
			key := item[0].String()
			if s, ok := item[0].(starlark.String); ok {
				key = string(s)
			}
			out[key] = fromStarlark(item[1])
		}
		return out
	default:
		return v.String()
	}
}
