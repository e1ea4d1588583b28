package tools

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/brbranch/parmira/internal/model"
)

// stringArg は文字列引数を取り出す
func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// intArg は整数引数を取り出す（JSONの数値はfloat64、文字列も受け付ける）
func intArg(args map[string]any, key string) (int64, bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, true, fmt.Errorf("%s must be an integer", key)
		}
		return int64(n), true, nil
	case int:
		return int64(n), true, nil
	case int64:
		return n, true, nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, true, fmt.Errorf("%s must be an integer", key)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("%s must be an integer", key)
	}
}

// secondsArg は秒数の引数をDurationにする
func secondsArg(args map[string]any, key string) (time.Duration, bool) {
	switch n := args[key].(type) {
	case float64:
		if n > 0 {
			return time.Duration(n * float64(time.Second)), true
		}
	case int:
		if n > 0 {
			return time.Duration(n) * time.Second, true
		}
	}
	return 0, false
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

// stringMapArg はオブジェクト引数を文字列のmapにする
func stringMapArg(args map[string]any, key string) map[string]string {
	m, ok := args[key].(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

// objectSchema はtype=objectのスキーマを作る
func objectSchema(props map[string]model.JSONSchema, required ...string) model.JSONSchema {
	if props == nil {
		props = map[string]model.JSONSchema{}
	}
	return model.JSONSchema{Type: "object", Properties: props, Required: required}
}

func prop(typ, description string) model.JSONSchema {
	return model.JSONSchema{Type: typ, Description: description}
}
