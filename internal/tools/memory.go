package tools

import (
	"context"
	"errors"
	"net/http"

	"github.com/brbranch/parmira/internal/memory"
	"github.com/brbranch/parmira/internal/model"
)

// MemoryTools はmemory.Serviceの操作をツールとして公開する
func MemoryTools(svc *memory.Service) []Tool {
	return []Tool{
		&memoryTool{
			name:        "store_memory",
			description: "Store a short note in short-term memory.",
			schema: objectSchema(map[string]model.JSONSchema{
				"content": prop("string", "Text to remember."),
			}, "content"),
			call: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				content, _ := stringArg(args, "content")
				id, err := svc.StoreMemory(ctx, content)
				if err != nil {
					return nil, err
				}
				return map[string]any{"id": id}, nil
			},
		},
		&memoryTool{
			name:        "tombstone_memory",
			description: "Mark a short-term memory as deleted.",
			schema: objectSchema(map[string]model.JSONSchema{
				"id": prop("integer", "Memory id."),
			}, "id"),
			call: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				id, ok, err := intArg(args, "id")
				if err != nil {
					return nil, &badInput{msg: err.Error()}
				}
				if !ok {
					return nil, &badInput{msg: "id is required"}
				}
				if err := svc.TombstoneMemory(ctx, id); err != nil {
					return nil, err
				}
				return map[string]any{"id": id, "tombstoned": true}, nil
			},
		},
		&memoryTool{
			name:        "search_memory",
			description: "Search short-term memory by keyword (substring match).",
			schema: objectSchema(map[string]model.JSONSchema{
				"keyword": prop("string", "Keyword to look for."),
			}, "keyword"),
			call: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				keyword, _ := stringArg(args, "keyword")
				if keyword == "" {
					return nil, &badInput{msg: "keyword is required"}
				}
				results, err := svc.SearchMemory(ctx, keyword)
				if err != nil {
					return nil, err
				}
				return map[string]any{"results": results, "count": len(results)}, nil
			},
		},
		&memoryTool{
			name:        "fetch_all_memories",
			description: "Return every short-term memory that has not been deleted.",
			schema:      objectSchema(nil),
			call: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				results, err := svc.FetchAllMemories(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]any{"results": results, "count": len(results)}, nil
			},
		},
		&memoryTool{
			name:        "store_ltm_memory",
			description: "Store a fact in long-term semantic memory.",
			schema: objectSchema(map[string]model.JSONSchema{
				"content":  prop("string", "Text to remember."),
				"metadata": prop("object", "Optional string metadata."),
			}, "content"),
			call: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				content, _ := stringArg(args, "content")
				id, err := svc.StoreLTMMemory(ctx, content, stringMapArg(args, "metadata"))
				if err != nil {
					return nil, err
				}
				return map[string]any{"id": id}, nil
			},
		},
		&memoryTool{
			name:        "search_ltm_memory",
			description: "Search long-term memory by meaning.",
			schema: objectSchema(map[string]model.JSONSchema{
				"query": prop("string", "What to look for."),
				"top_k": prop("integer", "Number of results (default 5)."),
			}, "query"),
			call: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				query, _ := stringArg(args, "query")
				topK, _, err := intArg(args, "top_k")
				if err != nil {
					return nil, &badInput{msg: err.Error()}
				}
				results, err := svc.SearchLTMMemory(ctx, query, int(topK))
				if err != nil {
					return nil, err
				}
				return map[string]any{"results": results, "count": len(results)}, nil
			},
		},
	}
}

type badInput struct{ msg string }

func (e *badInput) Error() string { return e.msg }

type memoryTool struct {
	name        string
	description string
	schema      model.JSONSchema
	call        func(ctx context.Context, args map[string]any) (map[string]any, error)
}

func (t *memoryTool) Name() string             { return t.name }
func (t *memoryTool) Description() string      { return t.description }
func (t *memoryTool) Schema() model.JSONSchema { return t.schema }

func (t *memoryTool) Call(ctx context.Context, args map[string]any) *Result {
	fields, err := t.call(ctx, args)
	if err != nil {
		return memoryFailure(err)
	}
	return Success(fields)
}

func memoryFailure(err error) *Result {
	var bad *badInput
	switch {
	case errors.As(err, &bad), errors.Is(err, memory.ErrEmptyContent):
		return Failure(http.StatusBadRequest, "%v", err)
	case errors.Is(err, memory.ErrNotFound):
		return Failure(http.StatusNotFound, "%v", err)
	case errors.Is(err, memory.ErrLTMDisabled):
		return Failure(http.StatusServiceUnavailable, "%v", err)
	default:
		return Failure(http.StatusInternalServerError, "Memory Error: %v", err)
	}
}
