package embedder

import (
	"context"
	"errors"
	"math"
	"testing"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestLocalEmbedder_Deterministic(t *testing.T) {
	emb := NewLocalEmbedder(0)
	if emb.GetDimension() != DefaultLocalDim {
		t.Fatalf("expected dim %d, got %d", DefaultLocalDim, emb.GetDimension())
	}

	a, err := emb.Embed(context.Background(), "List the files in my home directory")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	b, err := emb.Embed(context.Background(), "List the files in my home directory")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("element %d differs: %f vs %f", i, a[i], b[i])
		}
	}
}

func TestLocalEmbedder_Normalized(t *testing.T) {
	emb := NewLocalEmbedder(64)
	vec, err := emb.Embed(context.Background(), "the quick brown fox")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != 64 {
		t.Fatalf("expected 64 elements, got %d", len(vec))
	}
	if n := cosine(vec, vec); math.Abs(n-1) > 1e-5 {
		t.Errorf("expected unit norm, got %f", n)
	}
}

func TestLocalEmbedder_SimilarTextsScoreHigher(t *testing.T) {
	emb := NewLocalEmbedder(0)
	ctx := context.Background()

	query, _ := emb.Embed(ctx, "favorite programming language")
	near, _ := emb.Embed(ctx, "My favorite programming language is Go")
	far, _ := emb.Embed(ctx, "the weather in Tokyo is rainy today")

	if cosine(query, near) <= cosine(query, far) {
		t.Errorf("expected related text to score higher: near=%f far=%f", cosine(query, near), cosine(query, far))
	}
}

func TestLocalEmbedder_EmptyText(t *testing.T) {
	emb := NewLocalEmbedder(0)
	for _, text := range []string{"", "   ", "!!! ---"} {
		if _, err := emb.Embed(context.Background(), text); !errors.Is(err, ErrEmptyEmbedding) {
			t.Errorf("Embed(%q): expected ErrEmptyEmbedding, got %v", text, err)
		}
	}
}

func TestLocalEmbedder_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewLocalEmbedder(0).Embed(ctx, "text"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
