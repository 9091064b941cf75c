// sftp.go 提供 SFTP 的真实实现：SSH 连接（密码或私钥认证）+ 整文件上传。
// 整个进程共用一条 SSH 连接，pkg/sftp 在其上多路复用请求。
package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/hwuu/sftpwatch/internal/config"
)

// sftpUploader 真实 SFTP 客户端实现
type sftpUploader struct {
	sftpClient *sftp.Client
	sshClient  *ssh.Client
}

// dialSFTP 建立 SSH 连接并在其上打开 SFTP 子系统
func dialSFTP(profile *config.Profile, opts config.Options) (Uploader, error) {
	auth, err := sshAuthMethods(profile)
	if err != nil {
		return nil, err
	}

	clientConfig := &ssh.ClientConfig{
		User:            profile.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         opts.ConnectTimeout,
	}

	addr := net.JoinHostPort(profile.Host, fmt.Sprintf("%d", profile.Port))
	sshConn, err := ssh.Dial("tcp", addr, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("SSH 连接失败 (%s): %w", addr, err)
	}

	sftpConn, err := sftp.NewClient(sshConn)
	if err != nil {
		sshConn.Close()
		return nil, fmt.Errorf("SFTP 连接失败: %w", err)
	}

	return &sftpUploader{
		sftpClient: sftpConn,
		sshClient:  sshConn,
	}, nil
}

// sshAuthMethods 按配置组装认证方式：优先私钥，其次密码
func sshAuthMethods(profile *config.Profile) ([]ssh.AuthMethod, error) {
	var auth []ssh.AuthMethod

	if profile.PrivateKeyPath != "" {
		keyPath, err := profile.ResolveKeyPath()
		if err != nil {
			return nil, err
		}
		keyBytes, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("读取 SSH 私钥失败 (%s): %w", keyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("解析 SSH 私钥失败: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}

	if profile.Password != "" {
		auth = append(auth, ssh.Password(profile.Password))
	}

	if len(auth) == 0 {
		return nil, fmt.Errorf("sftp.json 未提供密码或私钥")
	}
	return auth, nil
}

// Upload 把本地文件整体写到远端路径（自动创建父目录）。
// 拷贝在独立 goroutine 中进行，context 取消时关闭远端句柄解除阻塞。
func (c *sftpUploader) Upload(ctx context.Context, localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("打开本地文件 %s 失败: %w", localPath, err)
	}
	defer src.Close()

	dir := path.Dir(remotePath)
	if err := c.sftpClient.MkdirAll(dir); err != nil {
		return fmt.Errorf("创建远端目录 %s 失败: %w", dir, err)
	}

	dst, err := c.sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("创建远端文件 %s 失败: %w", remotePath, err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(dst, src)
		done <- err
	}()

	select {
	case <-ctx.Done():
		_ = dst.Close()
		<-done
		return fmt.Errorf("上传 %s 中断: %w", remotePath, ctx.Err())
	case err := <-done:
		closeErr := dst.Close()
		if err != nil {
			return fmt.Errorf("写入远端文件 %s 失败: %w", remotePath, err)
		}
		if closeErr != nil {
			return fmt.Errorf("关闭远端文件 %s 失败: %w", remotePath, closeErr)
		}
		return nil
	}
}

func (c *sftpUploader) Close() error {
	c.sftpClient.Close()
	return c.sshClient.Close()
}
