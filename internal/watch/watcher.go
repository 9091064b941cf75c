// Package watch 把文件变更通知接到上传通道上。
// 每个被监视文件持有独立的去抖定时器和 uploading/pending 两个标志：
// 上传在途时新的变更只置 pending，在途上传结束后立即补传一次，
// 保证远端最终是最后一次写入的内容。不同文件的上传互不阻塞。
package watch

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hwuu/sftpwatch/internal/pathmap"
	"github.com/hwuu/sftpwatch/internal/remote"
)

// fileState 单个被监视文件的状态
type fileState struct {
	local     string // 本地绝对路径
	remote    string // 注册时派生的远端路径
	timer     *time.Timer
	uploading bool
	pending   bool
}

// result 一次上传的结果，由上传 goroutine 送回事件循环
type result struct {
	key  string
	err  error
	took time.Duration
}

// Watcher 监视一组文件并在变更后上传
type Watcher struct {
	uploader remote.Uploader
	debounce time.Duration
	timeout  time.Duration
	output   io.Writer

	fsw   *fsnotify.Watcher
	files map[string]*fileState

	due  chan string // 去抖定时器到期的文件
	done chan result // 上传完成通知
}

// Config Watcher 的构造参数
type Config struct {
	Uploader remote.Uploader
	Mapper   *pathmap.Mapper
	Files    []string // 相对项目根（或绝对）的文件列表
	Debounce time.Duration
	Timeout  time.Duration // 单次上传超时
	Output   io.Writer
}

// New 注册所有文件并建立底层监视。fsnotify 只能监视目录，
// 因此按文件的父目录去重注册；这也顺带兼容编辑器“写临时文件再改名”的保存方式。
// 任一文件落在本地根之外、或其父目录不存在时，注册整体失败。
func New(cfg Config) (*Watcher, error) {
	if len(cfg.Files) == 0 {
		return nil, fmt.Errorf("没有要监视的文件")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监视器失败: %w", err)
	}

	w := &Watcher{
		uploader: cfg.Uploader,
		debounce: cfg.Debounce,
		timeout:  cfg.Timeout,
		output:   cfg.Output,
		fsw:      fsw,
		files:    make(map[string]*fileState),
		due:      make(chan string, len(cfg.Files)),
		done:     make(chan result, len(cfg.Files)),
	}

	dirs := make(map[string]bool)
	for _, f := range cfg.Files {
		local := cfg.Mapper.Abs(f)
		remotePath, err := cfg.Mapper.Map(local)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("无法监视 %s: %w", f, err)
		}
		if _, dup := w.files[local]; dup {
			continue
		}
		w.files[local] = &fileState{local: local, remote: remotePath}
		dirs[filepath.Dir(local)] = true
	}

	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("监视目录 %s 失败: %w", dir, err)
		}
	}

	return w, nil
}

// Files 返回已注册的本地→远端路径映射（注册顺序不保证）
func (w *Watcher) Files() []remote.Pair {
	pairs := make([]remote.Pair, 0, len(w.files))
	for _, st := range w.files {
		pairs = append(pairs, remote.Pair{Local: st.local, Remote: st.remote})
	}
	return pairs
}

// Close 释放底层监视器
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) printf(format string, args ...interface{}) {
	fmt.Fprintf(w.output, format, args...)
}

// Run 进入事件循环，直到 ctx 取消。取消后等待在途上传收尾再返回。
func (w *Watcher) Run(ctx context.Context) error {
	inflight := 0

	for {
		select {
		case <-ctx.Done():
			// 在途上传的 ctx 随之取消，这里只等它们送回结果
			for inflight > 0 {
				r := <-w.done
				w.report(r)
				inflight--
			}
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return fmt.Errorf("文件监视器已关闭")
			}
			w.handleEvent(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return fmt.Errorf("文件监视器已关闭")
			}
			w.printf("监视错误: %v\n", err)

		case key := <-w.due:
			st := w.files[key]
			if st.uploading {
				st.pending = true
				continue
			}
			w.startUpload(ctx, st)
			inflight++

		case r := <-w.done:
			inflight--
			st := w.files[r.key]
			st.uploading = false
			w.report(r)
			if st.pending && ctx.Err() == nil {
				st.pending = false
				w.startUpload(ctx, st)
				inflight++
			}
		}
	}
}

// handleEvent 过滤出已注册文件的写入类事件并重置其去抖定时器。
// Create/Rename 覆盖编辑器原子保存（写临时文件后 rename 到目标路径）。
func (w *Watcher) handleEvent(ev fsnotify.Event) {
	st, ok := w.files[filepath.Clean(ev.Name)]
	if !ok {
		return
	}
	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
		return
	}
	w.arm(st)
}

// arm 启动或重置文件的去抖定时器。到期回调只投递文件名，
// 状态变更全部收敛在 Run 的事件循环里。
func (w *Watcher) arm(st *fileState) {
	if st.timer == nil {
		key := st.local
		st.timer = time.AfterFunc(w.debounce, func() {
			w.due <- key
		})
		return
	}
	st.timer.Reset(w.debounce)
}

// startUpload 在独立 goroutine 中执行上传，结果送回 done 通道
func (w *Watcher) startUpload(ctx context.Context, st *fileState) {
	st.uploading = true
	w.printf("上传 %s -> %s\n", st.local, st.remote)

	go func(local, remotePath string) {
		uploadCtx, cancel := context.WithTimeout(ctx, w.timeout)
		defer cancel()

		start := time.Now()
		err := w.uploader.Upload(uploadCtx, local, remotePath)
		w.done <- result{key: local, err: err, took: time.Since(start)}
	}(st.local, st.remote)
}

// report 打印单次上传结果。失败只记录，监视继续（下次变更自然重试）。
func (w *Watcher) report(r result) {
	st := w.files[r.key]
	if r.err != nil {
		w.printf("  ✗ 上传 %s 失败: %v\n", st.remote, r.err)
		return
	}
	w.printf("  ✓ %s (%s)\n", st.remote, r.took.Round(time.Millisecond))
}
