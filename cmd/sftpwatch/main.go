package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
)

// 构建时通过 ldflags 注入
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sftpwatch",
		Short: "监视本地文件变更并经 SFTP/FTP 上传到远端",
		Long: "sftpwatch — 读取项目下 .vscode/sftp.json 的连接配置，" +
			"监视指定文件的变更，变更后把新内容推送到远端对应路径。",
	}

	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newPushCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <项目根目录> [相对文件路径...]",
		Short: "监视文件变更并持续上传",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runWatch(cmd.Context(), args[0], args[1:], cmd.OutOrStdout())
		},
	}
}

func newPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push <项目根目录> [相对文件路径...]",
		Short: "一次性上传指定文件后退出",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runPush(cmd.Context(), args[0], args[1:], cmd.OutOrStdout())
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本信息",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sftpwatch %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
			fmt.Printf("  go:     %s\n", runtime.Version())
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
