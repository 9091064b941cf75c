// Package remote 提供到远端服务器的文件上传通道。
// Uploader 是唯一对外接口，SFTP/FTP 两种实现按 Profile.Protocol 选择；
// 上传语义为整文件覆盖写，并自动创建缺失的远端父目录。
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/hwuu/sftpwatch/internal/config"
)

var ErrUnsupportedProtocol = errors.New("unsupported protocol")

// Uploader 抽象单文件上传，支持 mock 测试
type Uploader interface {
	Upload(ctx context.Context, localPath, remotePath string) error
	Close() error
}

// Dial 按配置建立到远端的会话。连接或认证失败时返回错误（启动期致命）。
func Dial(ctx context.Context, profile *config.Profile, opts config.Options) (Uploader, error) {
	switch profile.Protocol {
	case config.ProtocolSFTP:
		return dialSFTP(profile, opts)
	case config.ProtocolFTP:
		return dialFTP(ctx, profile, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, profile.Protocol)
	}
}

// Pair 一次上传的本地/远端路径对
type Pair struct {
	Local  string
	Remote string
}

// UploadAll 批量上传文件，任一失败立即返回错误
func UploadAll(ctx context.Context, up Uploader, pairs []Pair) error {
	for _, p := range pairs {
		if err := up.Upload(ctx, p.Local, p.Remote); err != nil {
			return fmt.Errorf("failed to upload %s: %w", p.Remote, err)
		}
	}
	return nil
}
