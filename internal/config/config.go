// Package config 负责解析编辑器的连接配置（.vscode/sftp.json）
// 以及本工具自身的可选选项文件（.sftpwatch.yaml）。
// 连接配置在启动时读取一次，此后不可变。
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	ConfigDirName  = ".vscode"   // 编辑器配置目录，位于项目根下
	ConfigFileName = "sftp.json" // 连接配置文件名

	ProtocolSFTP = "sftp"
	ProtocolFTP  = "ftp"

	DefaultSFTPPort = 22
	DefaultFTPPort  = 21
)

var (
	ErrConfigNotFound  = errors.New("sftp.json not found")
	ErrConfigMalformed = errors.New("sftp.json malformed")
)

// Profile 规范化后的连接配置，对应 sftp.json 的字段。
// LocalRoot 为解析时传入的项目根目录（绝对路径），不来自文件本身。
type Profile struct {
	Protocol       string   `json:"protocol"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Username       string   `json:"username"`
	Password       string   `json:"password"`
	PrivateKeyPath string   `json:"privateKeyPath"`
	RemotePath     string   `json:"remotePath"`
	TransferFiles  []string `json:"transferFiles"`

	LocalRoot string `json:"-"`
}

// ConfigPath 返回项目根下连接配置文件的完整路径
func ConfigPath(root string) string {
	return filepath.Join(root, ConfigDirName, ConfigFileName)
}

// Load 读取 <root>/.vscode/sftp.json 并返回规范化的 Profile。
// 文件缺失返回 ErrConfigNotFound，JSON 非法或必填字段缺失返回 ErrConfigMalformed。
func Load(root string) (*Profile, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("解析项目根目录失败: %w", err)
	}

	path := ConfigPath(absRoot)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("读取 %s 失败: %w", path, err)
	}

	profile, err := parse(data)
	if err != nil {
		return nil, err
	}
	profile.LocalRoot = absRoot

	return profile, nil
}

// parse 解析并校验 sftp.json 内容。协议缺省为 ftp（与原编辑器插件一致），
// 端口按协议缺省为 22/21。
func parse(data []byte) (*Profile, error) {
	var profile Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigMalformed, err)
	}

	if profile.Protocol == "" {
		profile.Protocol = ProtocolFTP
	}
	profile.Protocol = strings.ToLower(profile.Protocol)

	if profile.Protocol != ProtocolSFTP && profile.Protocol != ProtocolFTP {
		return nil, fmt.Errorf("%w: unsupported protocol %q", ErrConfigMalformed, profile.Protocol)
	}
	if profile.Host == "" {
		return nil, fmt.Errorf("%w: missing required field \"host\"", ErrConfigMalformed)
	}
	if profile.Username == "" {
		return nil, fmt.Errorf("%w: missing required field \"username\"", ErrConfigMalformed)
	}
	if profile.RemotePath == "" {
		return nil, fmt.Errorf("%w: missing required field \"remotePath\"", ErrConfigMalformed)
	}

	if profile.Port == 0 {
		if profile.Protocol == ProtocolSFTP {
			profile.Port = DefaultSFTPPort
		} else {
			profile.Port = DefaultFTPPort
		}
	}
	if profile.Port < 0 || profile.Port > 65535 {
		return nil, fmt.Errorf("%w: port out of range: %d", ErrConfigMalformed, profile.Port)
	}

	return &profile, nil
}

// HasCredential 判断配置中是否带有可用凭证（密码或私钥路径）
func (p *Profile) HasCredential() bool {
	return p.Password != "" || p.PrivateKeyPath != ""
}

// Addr 返回 host:port 形式的连接地址
func (p *Profile) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// ResolveKeyPath 将 privateKeyPath 解析为绝对路径。
// 相对路径基于项目根目录；~ 前缀基于用户 home。
func (p *Profile) ResolveKeyPath() (string, error) {
	key := p.PrivateKeyPath
	if key == "" {
		return "", nil
	}
	if strings.HasPrefix(key, "~/") || key == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(key, "~")), nil
	}
	if filepath.IsAbs(key) {
		return key, nil
	}
	return filepath.Join(p.LocalRoot, key), nil
}
