package watch_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hwuu/sftpwatch/internal/pathmap"
	"github.com/hwuu/sftpwatch/internal/watch"
)

// --- Mock implementation ---

type recordedCall struct {
	local   string
	remote  string
	content string // 调用时刻的本地文件内容
}

// mockUploader 记录每次调用；release 非空时阻塞在调用处直到收到放行信号
type mockUploader struct {
	mu      sync.Mutex
	calls   []recordedCall
	errFunc func(localPath string) error
	release chan struct{}
}

func (m *mockUploader) Upload(ctx context.Context, localPath, remotePath string) error {
	data, _ := os.ReadFile(localPath)
	m.mu.Lock()
	m.calls = append(m.calls, recordedCall{local: localPath, remote: remotePath, content: string(data)})
	m.mu.Unlock()

	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.errFunc != nil {
		return m.errFunc(localPath)
	}
	return nil
}

func (m *mockUploader) Close() error { return nil }

func (m *mockUploader) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockUploader) call(i int) recordedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[i]
}

// waitCalls 轮询等待 mock 收到至少 n 次调用
func waitCalls(t *testing.T, m *mockUploader, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.count() >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d uploads, got %d", n, m.count())
}

// --- Test helpers ---

type fixture struct {
	root   string
	mock   *mockUploader
	w      *watch.Watcher
	out    *bytes.Buffer
	cancel context.CancelFunc
	done   chan error

	once   sync.Once
	runErr error
}

// newFixture 建临时项目根、写入初始文件、启动 Run
func newFixture(t *testing.T, mock *mockUploader, files []string) *fixture {
	t.Helper()

	root := t.TempDir()
	for _, f := range files {
		path := filepath.Join(root, f)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
		if err := os.WriteFile(path, []byte("v0"), 0644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}

	mapper, err := pathmap.NewMapper(root, "/var/www")
	if err != nil {
		t.Fatalf("NewMapper failed: %v", err)
	}

	out := &bytes.Buffer{}
	w, err := watch.New(watch.Config{
		Uploader: mock,
		Mapper:   mapper,
		Files:    files,
		Debounce: 50 * time.Millisecond,
		Timeout:  5 * time.Second,
		Output:   out,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx)
	}()

	fx := &fixture{root: root, mock: mock, w: w, out: out, cancel: cancel, done: done}
	t.Cleanup(func() { fx.stop(t) })
	return fx
}

// stop 取消事件循环并等待 Run 返回（幂等）
func (fx *fixture) stop(t *testing.T) error {
	t.Helper()
	fx.once.Do(func() {
		fx.cancel()
		select {
		case fx.runErr = <-fx.done:
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after cancel")
		}
		fx.w.Close()
	})
	return fx.runErr
}

func (fx *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(fx.root, rel), []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}

// --- Tests ---

func TestNew_NoFiles(t *testing.T) {
	mapper, _ := pathmap.NewMapper(t.TempDir(), "/var/www")
	_, err := watch.New(watch.Config{Mapper: mapper, Output: io.Discard})
	if err == nil {
		t.Error("expected error for empty file list")
	}
}

// 根外的文件在注册时即被拒绝，而不是拖到上传时
func TestNew_OutsideRoot(t *testing.T) {
	mapper, _ := pathmap.NewMapper(t.TempDir(), "/var/www")
	_, err := watch.New(watch.Config{
		Uploader: &mockUploader{},
		Mapper:   mapper,
		Files:    []string{"../escape.txt"},
		Debounce: 50 * time.Millisecond,
		Timeout:  time.Second,
		Output:   io.Discard,
	})
	if !errors.Is(err, pathmap.ErrOutsideRoot) {
		t.Errorf("expected ErrOutsideRoot, got %v", err)
	}
}

func TestWatcher_Files(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "src"), 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	mapper, _ := pathmap.NewMapper(root, "/var/www")

	w, err := watch.New(watch.Config{
		Uploader: &mockUploader{},
		Mapper:   mapper,
		Files:    []string{"src/index.js", "src/index.js"},
		Debounce: 50 * time.Millisecond,
		Timeout:  time.Second,
		Output:   io.Discard,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Close()

	pairs := w.Files()
	if len(pairs) != 1 {
		t.Fatalf("expected duplicate registration collapsed to 1, got %d", len(pairs))
	}
	if pairs[0].Remote != "/var/www/src/index.js" {
		t.Errorf("remote path mismatch: got %s", pairs[0].Remote)
	}
	if pairs[0].Local != filepath.Join(root, "src", "index.js") {
		t.Errorf("local path mismatch: got %s", pairs[0].Local)
	}
}

// 修改一次，上传恰好一次，目标为派生的远端路径
func TestWatcher_UploadOnModify(t *testing.T) {
	mock := &mockUploader{}
	fx := newFixture(t, mock, []string{"src/index.js"})

	fx.write(t, "src/index.js", "v1")

	waitCalls(t, mock, 1, 2*time.Second)
	time.Sleep(200 * time.Millisecond) // 去抖窗口之后不应再有补传
	if n := mock.count(); n != 1 {
		t.Fatalf("expected exactly 1 upload, got %d", n)
	}

	call := mock.call(0)
	if call.local != filepath.Join(fx.root, "src", "index.js") {
		t.Errorf("local path mismatch: got %s", call.local)
	}
	if call.remote != "/var/www/src/index.js" {
		t.Errorf("remote path mismatch: got %s", call.remote)
	}
	if call.content != "v1" {
		t.Errorf("content mismatch: got %q", call.content)
	}
}

// 整文件覆盖写是幂等的：内容不变的两次保存照样各上传一次，参数相同
func TestWatcher_RepeatedSameContent(t *testing.T) {
	mock := &mockUploader{}
	fx := newFixture(t, mock, []string{"src/index.js"})

	fx.write(t, "src/index.js", "v1")
	waitCalls(t, mock, 1, 2*time.Second)

	fx.write(t, "src/index.js", "v1")
	waitCalls(t, mock, 2, 2*time.Second)

	if mock.call(0) != mock.call(1) {
		t.Errorf("expected identical upload calls, got %+v and %+v", mock.call(0), mock.call(1))
	}
}

// 上传在途时的多次修改合并为一次补传，内容为最后一次写入
func TestWatcher_Coalesce(t *testing.T) {
	mock := &mockUploader{release: make(chan struct{})}
	fx := newFixture(t, mock, []string{"src/index.js"})

	fx.write(t, "src/index.js", "v1")
	waitCalls(t, mock, 1, 2*time.Second) // 第一次上传已开始并阻塞

	fx.write(t, "src/index.js", "v2")
	fx.write(t, "src/index.js", "v3")
	time.Sleep(150 * time.Millisecond) // 去抖到期，pending 置位

	mock.release <- struct{}{} // 放行第一次上传
	waitCalls(t, mock, 2, 2*time.Second)
	mock.release <- struct{}{} // 放行补传

	time.Sleep(200 * time.Millisecond)
	if n := mock.count(); n != 2 {
		t.Fatalf("expected exactly 2 uploads, got %d", n)
	}
	if got := mock.call(1).content; got != "v3" {
		t.Errorf("follow-up upload should carry the last write, got %q", got)
	}
}

// 不同文件的上传互不阻塞
func TestWatcher_ConcurrentFiles(t *testing.T) {
	mock := &mockUploader{release: make(chan struct{})}
	fx := newFixture(t, mock, []string{"a.txt", "b.txt"})

	fx.write(t, "a.txt", "a1")
	fx.write(t, "b.txt", "b1")

	// 两个上传都应在任何一个放行之前开始
	waitCalls(t, mock, 2, 2*time.Second)
	mock.release <- struct{}{}
	mock.release <- struct{}{}
}

// 单次上传失败只记录，监视继续，下次修改重新尝试
func TestWatcher_FailureContinues(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	mock := &mockUploader{
		errFunc: func(string) error {
			if fail.Load() {
				return fmt.Errorf("permission denied")
			}
			return nil
		},
	}
	fx := newFixture(t, mock, []string{"src/index.js"})

	fx.write(t, "src/index.js", "v1")
	waitCalls(t, mock, 1, 2*time.Second)

	fail.Store(false)
	fx.write(t, "src/index.js", "v2")
	waitCalls(t, mock, 2, 2*time.Second)

	if err := fx.stop(t); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !bytes.Contains(fx.out.Bytes(), []byte("失败")) {
		t.Errorf("failure should be reported in output: %q", fx.out.String())
	}
	if got := mock.call(1).content; got != "v2" {
		t.Errorf("retry should carry new content, got %q", got)
	}
}
