// Package media 提供基于文件系统的媒体索引实现
// 核心只消费 engine.MediaIndex 抽象，这里负责把查询落到真实文件上
package media

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fotofast/config"
	"fotofast/core/engine"
)

// extensionMime 扩展名到媒体类型的映射
var extensionMime = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".jpe":  "image/jpeg",
	".png":  "image/png",
	".heic": "image/heic",
	".heif": "image/heif",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tiff": "image/tiff",
}

// FSIndex 文件系统媒体索引
type FSIndex struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewFSIndex 创建文件系统索引
func NewFSIndex(cfg *config.Config, logger *zap.Logger) *FSIndex {
	return &FSIndex{
		cfg:    cfg,
		logger: logger.Named("media"),
	}
}

// ResolveExists 条目仍可解析为可读内容
func (fi *FSIndex) ResolveExists(ctx context.Context, item engine.MediaItem) (bool, error) {
	info, err := os.Stat(item.URI)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}

	f, err := os.Open(item.URI)
	if err != nil {
		if os.IsPermission(err) {
			return false, nil
		}
		return false, err
	}
	f.Close()
	return true, nil
}

// DisplayName 条目显示名
func (fi *FSIndex) DisplayName(ctx context.Context, item engine.MediaItem) (string, error) {
	return filepath.Base(item.URI), nil
}

// Path 条目路径
func (fi *FSIndex) Path(ctx context.Context, item engine.MediaItem) (string, error) {
	return item.URI, nil
}

// MimeType 媒体类型：先按扩展名，可疑时做Magic Number嗅探
func (fi *FSIndex) MimeType(ctx context.Context, item engine.MediaItem) (string, error) {
	ext := strings.ToLower(filepath.Ext(item.URI))
	if mime, ok := extensionMime[ext]; ok {
		return mime, nil
	}

	// 扩展名未知，按文件头判断
	if mime := sniffMime(item.URI); mime != "" {
		return mime, nil
	}
	return "application/octet-stream", nil
}

// sniffMime 读取文件头字节识别真实格式
func sniffMime(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	header := make([]byte, 32)
	n, err := f.Read(header)
	if err != nil || n < 12 {
		return ""
	}

	switch {
	case bytes.HasPrefix(header, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case bytes.HasPrefix(header, []byte{0x89, 0x50, 0x4E, 0x47}):
		return "image/png"
	case bytes.Equal(header[4:8], []byte("ftyp")) && bytes.HasPrefix(header[8:], []byte("heic")):
		return "image/heic"
	case bytes.Equal(header[4:8], []byte("ftyp")) && bytes.HasPrefix(header[8:], []byte("heif")):
		return "image/heif"
	case bytes.HasPrefix(header, []byte{0x47, 0x49, 0x46, 0x38}):
		return "image/gif"
	default:
		return ""
	}
}

// Size 条目体积
func (fi *FSIndex) Size(ctx context.Context, item engine.MediaItem) (int64, error) {
	info, err := os.Stat(item.URI)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ModifiedAt 条目最后修改时间（毫秒）
func (fi *FSIndex) ModifiedAt(ctx context.Context, item engine.MediaItem) (int64, error) {
	info, err := os.Stat(item.URI)
	if err != nil {
		return 0, err
	}
	return info.ModTime().UnixMilli(), nil
}

// IsPending 源应用是否仍在写入
// 文件系统上的近似判断：存在同名 .lock 锁文件或内容为空
func (fi *FSIndex) IsPending(ctx context.Context, item engine.MediaItem) (bool, error) {
	if _, err := os.Stat(item.URI + ".lock"); err == nil {
		return true, nil
	}

	info, err := os.Stat(item.URI)
	if err != nil {
		return false, err
	}
	return info.Size() == 0, nil
}

// IsScreenshot 文件名截图特征
func (fi *FSIndex) IsScreenshot(ctx context.Context, item engine.MediaItem) (bool, error) {
	name := strings.ToLower(filepath.Base(item.URI))
	if strings.Contains(name, "screenshot") || strings.Contains(name, "screen_shot") {
		return true, nil
	}
	if strings.HasPrefix(name, "scr_") {
		return true, nil
	}
	return strings.Contains(name, "screen") && strings.Contains(name, "shot"), nil
}

// FindCompressedSibling 在应用输出目录查找同名压缩产物
func (fi *FSIndex) FindCompressedSibling(ctx context.Context, item engine.MediaItem) (bool, error) {
	dir := filepath.Dir(item.URI)
	name := filepath.Base(item.URI)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	outDir := filepath.Join(dir, fi.cfg.Output.AppDirectory)
	if _, err := os.Stat(outDir); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	// 命名规则：<base><suffix>[_<n>]<ext>
	pattern := filepath.Join(outDir, base+fi.cfg.Output.CompressedSuffix+"*"+ext)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return false, err
	}
	return len(matches) > 0, nil
}

// StatBatch 批量预取条目信息，限并发扇出
func (fi *FSIndex) StatBatch(ctx context.Context, items []engine.MediaItem) (map[string]*engine.ItemStat, error) {
	stats := make(map[string]*engine.ItemStat, len(items))
	var mutex sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, item := range items {
		current := item
		g.Go(func() error {
			stat := fi.statOne(ctx, current)
			mutex.Lock()
			stats[current.Key()] = stat
			mutex.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}

// statOne 单条目信息快照，查询失败的字段保持零值
func (fi *FSIndex) statOne(ctx context.Context, item engine.MediaItem) *engine.ItemStat {
	stat := &engine.ItemStat{Path: item.URI}

	info, err := os.Stat(item.URI)
	if err != nil {
		return stat
	}

	stat.Exists = !info.IsDir()
	stat.DisplayName = filepath.Base(item.URI)
	stat.Size = info.Size()
	stat.ModifiedAt = info.ModTime()

	if mime, err := fi.MimeType(ctx, item); err == nil {
		stat.MimeType = mime
	}
	if pending, err := fi.IsPending(ctx, item); err == nil {
		stat.Pending = pending
	}
	if screenshot, err := fi.IsScreenshot(ctx, item); err == nil {
		stat.Screenshot = screenshot
	}
	return stat
}
