package cmd

import (
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// statusCmd 展示当前配置与历史库状态
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "查看配置与处理历史概况",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// runStatus 状态命令入口
func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfgFile, verbose)
	if err != nil {
		return err
	}
	defer a.close()

	rows := pterm.TableData{
		{"项目", "数值"},
		{"自动压缩", strconv.FormatBool(a.cfg.Settings.AutoCompress)},
		{"质量", strconv.Itoa(a.cfg.Settings.Quality)},
		{"保存模式", a.cfg.Settings.SaveMode},
		{"包含截图", strconv.FormatBool(a.cfg.Settings.IncludeScreenshots)},
		{"忽略通讯软件照片", strconv.FormatBool(a.cfg.Settings.IgnoreMessenger)},
		{"体积下限", strconv.FormatInt(a.cfg.Policy.MinSizeBytes, 10) + " B"},
		{"标记时间容差", a.cfg.Policy.MarkerTimeTolerance.String()},
		{"租约超时", a.cfg.Policy.LeaseTimeout.String()},
	}

	if a.history != nil {
		count, err := a.history.Count()
		if err != nil {
			a.log.Warn("读取历史库统计失败", zap.Error(err))
		} else {
			rows = append(rows, []string{"历史记录数", strconv.Itoa(count)})
		}
	} else {
		rows = append(rows, []string{"历史记录", "未启用"})
	}

	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}
