// run.go 把配置解析、路径映射、远端会话和监视循环串起来。
// 启动期错误（配置缺失/非法、连接失败、文件越界）直接返回并以非零码退出；
// 监视期的单次上传失败只记录，循环继续。
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/hwuu/sftpwatch/internal/config"
	"github.com/hwuu/sftpwatch/internal/pathmap"
	"github.com/hwuu/sftpwatch/internal/remote"
	"github.com/hwuu/sftpwatch/internal/watch"
)

// session 启动期组装好的全部依赖
type session struct {
	profile *config.Profile
	opts    config.Options
	mapper  *pathmap.Mapper
	files   []string
}

// setup 解析配置、合并文件列表、必要时询问密码。
// files 为命令行给出的相对路径，与 sftp.json 的 transferFiles 合并去重。
func setup(root string, files []string, out io.Writer) (*session, error) {
	profile, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	opts, err := config.LoadOptions(profile.LocalRoot)
	if err != nil {
		return nil, err
	}

	merged := mergeFiles(files, profile.TransferFiles)
	if len(merged) == 0 {
		return nil, fmt.Errorf("没有要处理的文件：命令行和 transferFiles 均为空")
	}

	if !profile.HasCredential() {
		prompter := config.NewPrompter(os.Stdin, out)
		password, err := prompter.PromptPassword(fmt.Sprintf("%s@%s 的密码: ", profile.Username, profile.Host))
		if err != nil {
			return nil, err
		}
		if password == "" {
			return nil, fmt.Errorf("sftp.json 未提供凭证且未输入密码")
		}
		profile.Password = password
	}

	mapper, err := pathmap.NewMapper(profile.LocalRoot, profile.RemotePath)
	if err != nil {
		return nil, err
	}

	return &session{
		profile: profile,
		opts:    opts,
		mapper:  mapper,
		files:   merged,
	}, nil
}

// mergeFiles 合并命令行参数与 transferFiles，保持先后顺序并去重
func mergeFiles(args, transferFiles []string) []string {
	seen := make(map[string]bool)
	var merged []string
	for _, f := range append(append([]string{}, args...), transferFiles...) {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		merged = append(merged, f)
	}
	return merged
}

// runWatch 建立远端会话并进入监视循环，直到收到中断信号
func runWatch(ctx context.Context, root string, files []string, out io.Writer) error {
	s, err := setup(root, files, out)
	if err != nil {
		return err
	}

	uploader, err := remote.Dial(ctx, s.profile, s.opts)
	if err != nil {
		return err
	}
	defer uploader.Close()

	w, err := watch.New(watch.Config{
		Uploader: uploader,
		Mapper:   s.mapper,
		Files:    s.files,
		Debounce: s.opts.Debounce,
		Timeout:  s.opts.UploadTimeout,
		Output:   out,
	})
	if err != nil {
		return err
	}
	defer w.Close()

	fmt.Fprintf(out, "监视 %d 个文件（协议 %s，远端 %s:%s），Ctrl+C 退出\n",
		len(s.files), s.profile.Protocol, s.profile.Host, s.profile.RemotePath)

	return w.Run(ctx)
}

// runPush 一次性上传全部文件。任一文件失败即返回错误（没有监视循环兜底重试）。
func runPush(ctx context.Context, root string, files []string, out io.Writer) error {
	s, err := setup(root, files, out)
	if err != nil {
		return err
	}

	uploader, err := remote.Dial(ctx, s.profile, s.opts)
	if err != nil {
		return err
	}
	defer uploader.Close()

	pairs := make([]remote.Pair, 0, len(s.files))
	for _, f := range s.files {
		local := s.mapper.Abs(f)
		remotePath, err := s.mapper.Map(local)
		if err != nil {
			return fmt.Errorf("无法上传 %s: %w", f, err)
		}
		pairs = append(pairs, remote.Pair{Local: local, Remote: remotePath})
		fmt.Fprintf(out, "上传 %s -> %s\n", local, remotePath)
	}

	uploadCtx, cancel := context.WithTimeout(ctx, s.opts.UploadTimeout)
	defer cancel()

	if err := remote.UploadAll(uploadCtx, uploader, pairs); err != nil {
		return err
	}

	fmt.Fprintf(out, "  ✓ 已上传 %d 个文件\n", len(pairs))
	return nil
}
