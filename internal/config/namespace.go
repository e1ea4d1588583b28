package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// maxCollectionNameLen はChromaのコレクション名の上限
const maxCollectionNameLen = 63

var collectionInvalidChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// GenerateNamespace はembedder設定からnamespaceを生成する
// 形式: "{provider}:{model}:{dim}"
func GenerateNamespace(provider, model string, dim int) string {
	return fmt.Sprintf("%s:%s:%d", provider, model, dim)
}

// ParseNamespace はnamespaceをprovider, model, dimに分解する
// dimは0以上の整数であること
func ParseNamespace(namespace string) (provider, model string, dim int, err error) {
	parts := strings.Split(namespace, ":")
	if len(parts) != 3 {
		return "", "", 0, fmt.Errorf("invalid namespace format: expected 'provider:model:dim', got %q", namespace)
	}

	provider = parts[0]
	model = parts[1]

	dim, err = strconv.Atoi(parts[2])
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid dim in namespace %q: %w", namespace, err)
	}
	if dim < 0 {
		return "", "", 0, fmt.Errorf("invalid dim in namespace %q: dim must be non-negative, got %d", namespace, dim)
	}

	return provider, model, dim, nil
}

// CollectionName はベースのコレクション名とnamespaceから物理コレクション名を作る
// 次元の異なる埋め込みが同じコレクションに混在しないようにする
// 例: ("semantic_memory", "local:hash:384") -> "semantic_memory-local-hash-384"
func CollectionName(base, namespace string) string {
	name := base
	if namespace != "" {
		name = base + "-" + strings.ReplaceAll(namespace, ":", "-")
	}
	name = collectionInvalidChars.ReplaceAllString(name, "_")
	if len(name) > maxCollectionNameLen {
		name = name[:maxCollectionNameLen]
	}
	return strings.Trim(name, "_-")
}
