package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const OptionsFileName = ".sftpwatch.yaml"

// 选项缺省值
const (
	DefaultDebounce       = 500 * time.Millisecond
	DefaultConnectTimeout = 30 * time.Second
	DefaultUploadTimeout  = 2 * time.Minute
)

// Options 工具自身的可调参数，来自项目根下可选的 .sftpwatch.yaml。
// 连接配置归编辑器所有（sftp.json），这里只放 sftp.json 管不到的行为开关。
type Options struct {
	Debounce       time.Duration
	ConnectTimeout time.Duration
	UploadTimeout  time.Duration
}

// DefaultOptions 返回全部取缺省值的 Options
func DefaultOptions() Options {
	return Options{
		Debounce:       DefaultDebounce,
		ConnectTimeout: DefaultConnectTimeout,
		UploadTimeout:  DefaultUploadTimeout,
	}
}

// optionsFile .sftpwatch.yaml 的原始形态。时长写成 Go 风格字符串（"500ms"、"1m"）。
type optionsFile struct {
	Debounce       string `yaml:"debounce"`
	ConnectTimeout string `yaml:"connectTimeout"`
	UploadTimeout  string `yaml:"uploadTimeout"`
}

// LoadOptions 读取 <root>/.sftpwatch.yaml。文件不存在不是错误，返回缺省值。
func LoadOptions(root string) (Options, error) {
	opts := DefaultOptions()

	path := filepath.Join(root, OptionsFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return opts, nil
		}
		return opts, fmt.Errorf("读取 %s 失败: %w", path, err)
	}

	var raw optionsFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return opts, fmt.Errorf("解析 %s 失败: %w", path, err)
	}

	if err := applyDuration(&opts.Debounce, raw.Debounce, "debounce"); err != nil {
		return opts, fmt.Errorf("%s: %w", path, err)
	}
	if err := applyDuration(&opts.ConnectTimeout, raw.ConnectTimeout, "connectTimeout"); err != nil {
		return opts, fmt.Errorf("%s: %w", path, err)
	}
	if err := applyDuration(&opts.UploadTimeout, raw.UploadTimeout, "uploadTimeout"); err != nil {
		return opts, fmt.Errorf("%s: %w", path, err)
	}

	return opts, nil
}

// applyDuration 把非空的时长字符串解析进目标字段。
// 零值和负值无意义（0 超时会把上传直接掐死），保留缺省值。
func applyDuration(dst *time.Duration, value, field string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("字段 %s 非法: %w", field, err)
	}
	if d > 0 {
		*dst = d
	}
	return nil
}
