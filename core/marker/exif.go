// Package marker 提供基于exiftool的压缩标记存取
// 标记写在输出文件的 EXIF UserComment 里，格式 FOTOFAST:<质量>:<毫秒时间戳>，
// 判定引擎读回标记识别"已处理"条目
package marker

import (
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"fotofast/config"
	"fotofast/core/engine"
)

// MarkerPrefix 压缩标记前缀
const MarkerPrefix = "FOTOFAST"

// ExifStore exiftool标记存取
type ExifStore struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewExifStore 创建标记存取器
func NewExifStore(cfg *config.Config, logger *zap.Logger) *ExifStore {
	return &ExifStore{
		cfg:    cfg,
		logger: logger.Named("marker"),
	}
}

// ReadMarker 读取条目上的压缩标记
// 没有标记或注释不匹配前缀时返回 Present=false，不视为错误
func (es *ExifStore) ReadMarker(ctx context.Context, item engine.MediaItem) (engine.Marker, error) {
	cmd := exec.CommandContext(ctx, es.cfg.Tools.ExiftoolPath,
		"-j", "-UserComment", item.URI)
	output, err := cmd.Output()
	if err != nil {
		return engine.Marker{}, err
	}

	var entries []struct {
		UserComment string `json:"UserComment"`
	}
	if err := json.Unmarshal(output, &entries); err != nil {
		return engine.Marker{}, err
	}
	if len(entries) == 0 {
		return engine.Marker{}, nil
	}

	return ParseMarker(entries[0].UserComment), nil
}

// WriteMarker 把压缩标记写入条目
func (es *ExifStore) WriteMarker(ctx context.Context, item engine.MediaItem, quality int) error {
	value := FormatMarker(quality, time.Now().UnixMilli())

	cmd := exec.CommandContext(ctx, es.cfg.Tools.ExiftoolPath,
		"-overwrite_original",
		"-UserComment="+value,
		item.URI)
	if output, err := cmd.CombinedOutput(); err != nil {
		es.logger.Warn("exiftool写入标记失败",
			zap.String("item", item.URI),
			zap.ByteString("output", output),
			zap.Error(err))
		return err
	}

	return nil
}

// FormatMarker 构造标记字符串
func FormatMarker(quality int, timestamp int64) string {
	var builder strings.Builder
	builder.WriteString(MarkerPrefix)
	builder.WriteString(":")
	builder.WriteString(strconv.Itoa(quality))
	builder.WriteString(":")
	builder.WriteString(strconv.FormatInt(timestamp, 10))
	return builder.String()
}

// ParseMarker 解析UserComment中的标记
// 任何格式异常都按"无标记"处理
func ParseMarker(comment string) engine.Marker {
	if !strings.HasPrefix(comment, MarkerPrefix+":") {
		return engine.Marker{}
	}

	parts := strings.Split(comment, ":")
	if len(parts) < 3 {
		return engine.Marker{}
	}

	quality, err := strconv.Atoi(parts[1])
	if err != nil {
		return engine.Marker{}
	}
	timestamp, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return engine.Marker{}
	}

	return engine.Marker{
		Present:   true,
		Quality:   quality,
		Timestamp: timestamp,
	}
}
