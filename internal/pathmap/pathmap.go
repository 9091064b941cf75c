// Package pathmap 负责本地路径到远端路径的换算：
// 剥掉本地根前缀，把剩余部分用正斜杠接到远端根上。
// 换算是纯函数，LocalRoot 之外的路径一律拒绝。
package pathmap

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

var ErrOutsideRoot = errors.New("path outside local root")

// Mapper 持有一对根目录映射。LocalRoot 必须是绝对路径；
// RemoteRoot 按远端约定使用正斜杠，与本地 OS 无关。
type Mapper struct {
	LocalRoot  string
	RemoteRoot string
}

// NewMapper 创建 Mapper（本地根转为绝对路径并规范化）
func NewMapper(localRoot, remoteRoot string) (*Mapper, error) {
	abs, err := filepath.Abs(localRoot)
	if err != nil {
		return nil, fmt.Errorf("解析本地根目录失败: %w", err)
	}
	return &Mapper{
		LocalRoot:  abs,
		RemoteRoot: strings.TrimRight(remoteRoot, "/"),
	}, nil
}

// Map 把本地路径换算为远端路径。localPath 可以是相对路径（基于 LocalRoot）。
// 换算结果越出 LocalRoot 时返回 ErrOutsideRoot。
func (m *Mapper) Map(localPath string) (string, error) {
	abs := localPath
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(m.LocalRoot, abs)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(m.LocalRoot, abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, localPath)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, localPath)
	}
	if rel == "." {
		return "", fmt.Errorf("%w: %s is the root itself", ErrOutsideRoot, localPath)
	}

	remote := path.Join(m.RemoteRoot, filepath.ToSlash(rel))
	// 远端根为空时落到远端的根目录（与原插件行为一致）
	if m.RemoteRoot == "" {
		remote = "/" + remote
	}
	return remote, nil
}

// Abs 把相对于 LocalRoot 的路径转为规范化的本地绝对路径
func (m *Mapper) Abs(localPath string) string {
	if filepath.IsAbs(localPath) {
		return filepath.Clean(localPath)
	}
	return filepath.Join(m.LocalRoot, localPath)
}
