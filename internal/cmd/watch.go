package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fotofast/core/watch"
)

// watchCmd 长驻监听照片目录，新照片自动判定并压缩
var watchCmd = &cobra.Command{
	Use:   "watch [directory...]",
	Short: "监听目录并自动压缩新照片",
	Long: `长驻监听一个或多个目录，新增或修改的照片自动进入判定与压缩，
相邻到达的结果按滚动窗口合并成单条报告。

不传目录时使用配置文件中的 watch.directories。

示例：
  fotofast watch ~/Pictures
  fotofast watch ~/Pictures ~/DCIM`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// runWatch 监听命令入口
func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfgFile, verbose)
	if err != nil {
		return err
	}
	defer a.close()

	if len(args) > 0 {
		a.cfg.Watch.Directories = args
	}
	if len(a.cfg.Watch.Directories) == 0 {
		pterm.Warning.Println("没有可监听的目录，请指定参数或配置 watch.directories")
		return nil
	}

	watcher, err := watch.NewWatcher(a.runner, a.cfg, a.log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	pterm.Info.Printfln("正在监听 %d 个目录，Ctrl+C 退出", len(a.cfg.Watch.Directories))

	if err := watcher.Run(ctx); err != nil {
		a.log.Error("监听循环退出", zap.Error(err))
		return err
	}

	pterm.Info.Println("监听已停止")
	return nil
}
