package store

import (
	"math"
	"sort"
	"time"

	"github.com/brbranch/parmira/internal/model"
)

// CosineDistance はcosine distanceを返す（0=同一、2=正反対）
// 次元が異なる、またはゼロベクトルの場合は2を返す
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return 2.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	normA = math.Sqrt(normA)
	normB = math.Sqrt(normB)
	if normA == 0 || normB == 0 {
		return 2.0
	}

	return 1.0 - dotProduct/(normA*normB)
}

// DistanceToScore はcosine distanceを0-1のスコアに変換する
func DistanceToScore(distance float64) float64 {
	return 1.0 - distance/2.0
}

// MatchesWhere はmetadataがwhereの全キーに一致するかをチェックする
func MatchesWhere(metadata, where map[string]string) bool {
	for k, v := range where {
		if got, ok := metadata[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// createdAtLayout は文字列比較でも時系列順になる固定長のUTC表記
const createdAtLayout = "2006-01-02T15:04:05.000000Z07:00"

// ensureCreatedAt はcreatedAtが未設定なら現在時刻を設定する
func ensureCreatedAt(doc *model.Document) {
	if doc.CreatedAt == nil {
		now := time.Now().UTC().Format(createdAtLayout)
		doc.CreatedAt = &now
	}
}

func parseCreatedAt(doc *model.Document) (time.Time, bool) {
	if doc.CreatedAt == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, *doc.CreatedAt)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// sortRecent はcreatedAt降順に並べる（未設定・パース不能は末尾）
func sortRecent(docs []*model.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		ti, oki := parseCreatedAt(docs[i])
		tj, okj := parseCreatedAt(docs[j])
		if !oki {
			return false
		}
		if !okj {
			return true
		}
		return ti.After(tj)
	})
}

// sortByScore はスコア降順に並べてtopKで切る
func sortByScore(results []QueryResult, topK int) []QueryResult {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

func copyDocument(doc *model.Document) *model.Document {
	cp := &model.Document{
		ID:   doc.ID,
		Text: doc.Text,
	}
	if doc.CreatedAt != nil {
		createdAt := *doc.CreatedAt
		cp.CreatedAt = &createdAt
	}
	if doc.Metadata != nil {
		cp.Metadata = make(map[string]string, len(doc.Metadata))
		for k, v := range doc.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}
