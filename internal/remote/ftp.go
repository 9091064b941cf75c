// ftp.go 提供明文 FTP 的真实实现。FTP 的一条控制连接不能并发传输，
// 上传用互斥锁串行化。
package remote

import (
	"context"
	"fmt"
	"net"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/jlaffaye/ftp"

	"github.com/hwuu/sftpwatch/internal/config"
)

// ftpUploader 真实 FTP 客户端实现
type ftpUploader struct {
	mu   sync.Mutex
	conn *ftp.ServerConn
}

// dialFTP 建立 FTP 控制连接并登录
func dialFTP(ctx context.Context, profile *config.Profile, opts config.Options) (Uploader, error) {
	addr := net.JoinHostPort(profile.Host, fmt.Sprintf("%d", profile.Port))
	conn, err := ftp.Dial(addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(opts.ConnectTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("FTP 连接失败 (%s): %w", addr, err)
	}

	if err := conn.Login(profile.Username, profile.Password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("FTP 登录失败: %w", err)
	}

	return &ftpUploader{conn: conn}, nil
}

// Upload 把本地文件整体写到远端路径（逐段创建缺失目录后 STOR）
func (c *ftpUploader) Upload(ctx context.Context, localPath, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("打开本地文件 %s 失败: %w", localPath, err)
	}
	defer src.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureDirs(path.Dir(remotePath))

	if err := c.conn.Stor(remotePath, src); err != nil {
		return fmt.Errorf("写入远端文件 %s 失败: %w", remotePath, err)
	}
	return nil
}

// ensureDirs 逐段 MKD 远端目录。目录已存在时服务器返回错误，忽略即可；
// 目录真正缺失会在随后的 STOR 上报错。
func (c *ftpUploader) ensureDirs(dir string) {
	prefix := ""
	if strings.HasPrefix(dir, "/") {
		prefix = "/"
	}
	dir = strings.Trim(dir, "/")
	if dir == "" || dir == "." {
		return
	}

	built := prefix
	for _, part := range strings.Split(dir, "/") {
		built = built + part
		_ = c.conn.MakeDir(built)
		built = built + "/"
	}
}

func (c *ftpUploader) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Quit()
}
