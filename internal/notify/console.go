// Package notify 提供控制台报告输出，实现聚合器消费的 ReportSink
// 每个逻辑批次只产出一条合并消息，不逐文件刷屏
package notify

import (
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"fotofast/core/engine"
)

// ConsoleSink 控制台报告输出
type ConsoleSink struct {
	logger  *zap.Logger
	printer *message.Printer
}

// NewConsoleSink 创建控制台输出
func NewConsoleSink(logger *zap.Logger) *ConsoleSink {
	return &ConsoleSink{
		logger:  logger.Named("notify"),
		printer: message.NewPrinter(language.English),
	}
}

// EmitIndividualResult 单条结果报告
func (cs *ConsoleSink) EmitIndividualResult(ownerContext string, result engine.CompressionResult) {
	if result.Failed {
		pterm.Error.Printfln("%s 压缩失败", result.FileName)
		return
	}

	pterm.Success.Printfln("%s 已压缩: %s → %s (节省 %.1f%%)",
		result.FileName,
		cs.formatSize(result.OriginalSize),
		cs.formatSize(result.CompressedSize),
		result.SizeReductionPercent)
}

// EmitAggregateResult 聚合报告
func (cs *ConsoleSink) EmitAggregateResult(ownerContext string, results []engine.CompressionResult, bounded bool) {
	stats := engine.ComputeAggregate(results)

	if stats.Compressed == 0 && stats.Failed == 0 {
		pterm.Info.Printfln("%d 张照片全部跳过（%s）",
			stats.Skipped, cs.summarizeSkips(results))
		return
	}

	rows := pterm.TableData{
		{"指标", "数值"},
		{"总数", strconv.Itoa(stats.Total)},
		{"已压缩", strconv.Itoa(stats.Compressed)},
		{"已跳过", strconv.Itoa(stats.Skipped)},
	}
	if stats.Failed > 0 {
		rows = append(rows, []string{"失败", strconv.Itoa(stats.Failed)})
	}
	if stats.OriginalTotal > 0 {
		rows = append(rows,
			[]string{"原始总量", cs.formatSize(stats.OriginalTotal)},
			[]string{"压缩总量", cs.formatSize(stats.CompressedTotal)},
			[]string{"节省", cs.printer.Sprintf("%.1f%%", stats.ReductionPercent)},
		)
	}

	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
		cs.logger.Warn("渲染聚合报告失败", zap.Error(err))
	}
}

// formatSize 人类可读体积
func (cs *ConsoleSink) formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return cs.printer.Sprintf("%d B", size)
	}

	value := float64(size)
	units := []string{"KB", "MB", "GB", "TB"}
	for _, u := range units {
		value /= unit
		if value < unit {
			return cs.printer.Sprintf("%.1f %s", value, u)
		}
	}
	return cs.printer.Sprintf("%.1f PB", value/unit)
}

// summarizeSkips 汇总跳过原因
func (cs *ConsoleSink) summarizeSkips(results []engine.CompressionResult) string {
	counts := make(map[string]int)
	for _, r := range results {
		if r.Skipped && r.SkipReason != "" {
			counts[r.SkipReason]++
		}
	}

	parts := make([]string, 0, len(counts))
	for reason, count := range counts {
		parts = append(parts, reason+"×"+strconv.Itoa(count))
	}
	return strings.Join(parts, ", ")
}
