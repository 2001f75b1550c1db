package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/manifoldco/promptui"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"fotofast/core/engine"
)

// compress 命令标志
var (
	forceProcess bool
	quality      int
	overwrite    bool
)

// compressExtensions 扫描时识别的图片扩展名
var compressExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".jpe": true,
	".png": true, ".heic": true, ".heif": true,
}

// compressCmd 对目录执行一次多选式压缩
var compressCmd = &cobra.Command{
	Use:   "compress [directory]",
	Short: "压缩指定目录中的照片",
	Long: `扫描目录收集候选照片，逐张判定是否仍需压缩并执行，
全部完成后输出单条合并报告。

示例：
  fotofast compress ~/Pictures
  fotofast compress --force --quality 70 ./photos
  fotofast compress --overwrite ./photos`,
	Args: cobra.ExactArgs(1),
	RunE: runCompress,
}

func init() {
	compressCmd.Flags().BoolVarP(&forceProcess, "force", "f", false,
		"绕过自动压缩总开关")
	compressCmd.Flags().IntVarP(&quality, "quality", "q", 0,
		"压缩质量 1-100（覆盖配置）")
	compressCmd.Flags().BoolVar(&overwrite, "overwrite", false,
		"原地覆盖而非输出到应用目录")
	rootCmd.AddCommand(compressCmd)
}

// runCompress 压缩命令入口
func runCompress(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfgFile, verbose)
	if err != nil {
		return err
	}
	defer a.close()

	if quality > 0 {
		a.cfg.Settings.Quality = quality
	}
	if overwrite {
		a.cfg.Settings.SaveMode = "overwrite"
		if !confirmOverwrite() {
			pterm.Info.Println("已取消")
			return nil
		}
	}

	dir := args[0]
	items, err := collectItems(dir, a.cfg.Output.AppDirectory)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		pterm.Info.Printfln("目录中没有候选照片: %s", dir)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 批量预取条目信息，扫描阶段就剔除已消失的条目
	var totalSize int64
	if stats, err := a.index.StatBatch(ctx, items); err == nil {
		alive := items[:0]
		for _, item := range items {
			stat := stats[item.Key()]
			if stat == nil || !stat.Exists {
				continue
			}
			totalSize += stat.Size
			alive = append(alive, item)
		}
		items = alive
	}
	if len(items) == 0 {
		pterm.Info.Printfln("目录中没有候选照片: %s", dir)
		return nil
	}

	pterm.Info.Printfln("发现 %d 张候选照片（共 %.1f MB），开始判定与压缩...",
		len(items), float64(totalSize)/1024/1024)
	a.log.Info("开始多选压缩",
		zap.String("dir", dir),
		zap.Int("items", len(items)),
		zap.Bool("force", forceProcess))

	batchID := a.runner.ProcessSelection(ctx, "cli", items, forceProcess)
	a.log.Debug("批次处理完成", zap.String("batch_id", batchID))

	stats := a.cache.Stats()
	a.log.Debug("缓存命中统计",
		zap.Int64("hits", stats.Hits),
		zap.Int64("misses", stats.Misses))

	return nil
}

// confirmOverwrite 覆盖模式需要交互确认，非终端环境直接放行
func confirmOverwrite() bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return true
	}

	prompt := promptui.Prompt{
		Label:     "覆盖模式会用压缩结果替换原件，确认继续",
		IsConfirm: true,
	}
	if _, err := prompt.Run(); err != nil {
		return false
	}
	return true
}

// collectItems 扫描目录收集候选条目，应用输出目录整体跳过
func collectItems(dir, appDirectory string) ([]engine.MediaItem, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("无法访问目录 %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("不是目录: %s", dir)
	}

	var items []engine.MediaItem
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// 个别子目录不可读不中断整体扫描
			return nil
		}
		if d.IsDir() {
			if strings.EqualFold(d.Name(), appDirectory) {
				return filepath.SkipDir
			}
			return nil
		}

		if compressExtensions[strings.ToLower(filepath.Ext(path))] {
			items = append(items, engine.MediaItem{URI: path})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
