// Package compress 提供基于ffmpeg的压缩执行器
// 核心只在判定引擎给出 proceed 后调用它，并消费其输出结果
package compress

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"fotofast/config"
	"fotofast/core/engine"
)

// FFmpegCompressor ffmpeg压缩执行器
type FFmpegCompressor struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewFFmpegCompressor 创建压缩执行器
func NewFFmpegCompressor(cfg *config.Config, logger *zap.Logger) *FFmpegCompressor {
	return &FFmpegCompressor{
		cfg:    cfg,
		logger: logger.Named("compress"),
	}
}

// Compress 执行有损重压缩
// separate模式输出到应用目录并保留原件，overwrite模式原子替换原件
func (fc *FFmpegCompressor) Compress(ctx context.Context, item engine.MediaItem, quality int) (*engine.CompressOutput, error) {
	overwrite := fc.cfg.Settings.SaveMode == "overwrite"

	outputPath, err := fc.outputPath(item.URI, overwrite)
	if err != nil {
		return nil, err
	}

	// ffmpeg质量刻度与1-100相反，映射到 -q:v 2(最好)..31(最差)
	qv := 2 + (100-clampQuality(quality))*29/99

	tempPath := outputPath + ".part"
	args := []string{
		"-y",
		"-i", item.URI,
		"-q:v", strconv.Itoa(qv),
		"-f", "image2",
		tempPath,
	}

	cmd := exec.CommandContext(ctx, fc.cfg.Tools.FFmpegPath, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		os.Remove(tempPath)
		fc.logger.Warn("ffmpeg压缩失败",
			zap.String("item", item.URI),
			zap.ByteString("output", lastLines(output, 3)),
			zap.Error(err))
		return nil, err
	}

	if err := os.Rename(tempPath, outputPath); err != nil {
		os.Remove(tempPath)
		return nil, err
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return nil, err
	}

	return &engine.CompressOutput{
		Output:     engine.MediaItem{URI: outputPath},
		OutputSize: info.Size(),
	}, nil
}

// outputPath 计算输出位置
// separate模式命名 <base><suffix><ext>，冲突时追加 _1、_2…
func (fc *FFmpegCompressor) outputPath(srcPath string, overwrite bool) (string, error) {
	if overwrite {
		return srcPath, nil
	}

	dir := filepath.Dir(srcPath)
	name := filepath.Base(srcPath)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	outDir := filepath.Join(dir, fc.cfg.Output.AppDirectory)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", err
	}

	candidate := filepath.Join(outDir, base+fc.cfg.Output.CompressedSuffix+ext)
	counter := 1
	for {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
		candidate = filepath.Join(outDir,
			base+fc.cfg.Output.CompressedSuffix+"_"+strconv.Itoa(counter)+ext)
		counter++
	}
}

// clampQuality 限定质量到有效区间
func clampQuality(quality int) int {
	if quality < 1 {
		return 1
	}
	if quality > 100 {
		return 100
	}
	return quality
}

// lastLines 截取命令输出末尾几行用于日志
func lastLines(output []byte, n int) []byte {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) <= n {
		return output
	}
	return []byte(strings.Join(lines[len(lines)-n:], "\n"))
}
