package embedder

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
	"unicode"

	"github.com/zeebo/blake3"
)

// DefaultLocalDim はローカルEmbedderの既定次元（all-MiniLM-L6-v2と同じ）
const DefaultLocalDim = 384

// trigramWeight は文字3-gram特徴の重み（単語特徴は1.0）
const trigramWeight = 0.5

// LocalEmbedder は外部APIを使わない特徴ハッシングによるEmbedder実装
// 同じテキストからは常に同じベクトルを返す
type LocalEmbedder struct {
	dim int
}

// NewLocalEmbedder は新しいLocalEmbedderを作成
// dimが0以下の場合は DefaultLocalDim を使用
func NewLocalEmbedder(dim int) *LocalEmbedder {
	if dim <= 0 {
		dim = DefaultLocalDim
	}
	return &LocalEmbedder{dim: dim}
}

// Embed はテキストを単語と文字3-gramのハッシュ特徴でベクトル化する（L2正規化済み）
func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil, ErrEmptyText
	}

	vec := make([]float64, e.dim)
	for _, tok := range tokens {
		e.add(vec, "w:"+tok, 1.0)

		padded := []rune("#" + tok + "#")
		for i := 0; i+3 <= len(padded); i++ {
			e.add(vec, "c:"+string(padded[i:i+3]), trigramWeight)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return nil, ErrEmptyEmbedding
	}
	norm = math.Sqrt(norm)

	out := make([]float32, e.dim)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func (e *LocalEmbedder) add(vec []float64, feature string, weight float64) {
	sum := blake3.Sum256([]byte(feature))
	idx := binary.LittleEndian.Uint64(sum[:8]) % uint64(e.dim)
	if sum[8]&1 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

// GetDimension は次元を返す
func (e *LocalEmbedder) GetDimension() int {
	return e.dim
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
