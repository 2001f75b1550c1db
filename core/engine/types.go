package engine

import (
	"time"
)

// MediaItem 媒体条目引用（由外部媒体索引提供的稳定标识）
type MediaItem struct {
	URI string `json:"uri"`
}

// Key 返回用于去重与缓存的条目键
func (m MediaItem) Key() string {
	return m.URI
}

// SkipReason 跳过原因（封闭枚举）
type SkipReason int

const (
	ReasonNone SkipReason = iota
	ReasonBasicCheckFailed
	ReasonInAppDirectory
	ReasonCompressedVersionExists
	ReasonAlreadyCompressed
	ReasonAlreadySmall
	ReasonMessengerPhoto
	ReasonItemBeingProcessed
)

// String 返回原因字符串
func (r SkipReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonBasicCheckFailed:
		return "basic_check_failed"
	case ReasonInAppDirectory:
		return "in_app_directory"
	case ReasonCompressedVersionExists:
		return "compressed_version_exists"
	case ReasonAlreadyCompressed:
		return "already_compressed"
	case ReasonAlreadySmall:
		return "already_small"
	case ReasonMessengerPhoto:
		return "messenger_photo"
	case ReasonItemBeingProcessed:
		return "item_being_processed"
	default:
		return "unknown"
	}
}

// DecisionResult 单次判定结果（每次调用新建，不持久化）
type DecisionResult struct {
	Proceed         bool       `json:"proceed"`
	Reason          SkipReason `json:"reason"`
	HasMarker       bool       `json:"has_marker"`
	MarkerQuality   int        `json:"marker_quality"`
	MarkerTimestamp int64      `json:"marker_timestamp"`
	ItemModifiedAt  int64      `json:"item_modified_at,omitempty"`
	Err             error      `json:"-"`
}

// NeedsCompression 判定是否需要执行实际的像素重压缩
// 注意：MESSENGER_PHOTO 是双层信号——worker 仍需运行以写入标记，
// 但像素压缩本身被跳过
func (d *DecisionResult) NeedsCompression() bool {
	return d.Proceed && d.Reason == ReasonNone
}

// CompressionResult 单个条目的压缩结果，追加进批次后不再修改
type CompressionResult struct {
	FileName             string  `json:"file_name"`
	OriginalSize         int64   `json:"original_size"`
	CompressedSize       int64   `json:"compressed_size"`
	SizeReductionPercent float64 `json:"size_reduction_percent"`
	Skipped              bool    `json:"skipped"`
	SkipReason           string  `json:"skip_reason,omitempty"`
	Failed               bool    `json:"failed,omitempty"`
}

// Marker 压缩标记（写入输出文件的元数据，用于识别已处理条目）
type Marker struct {
	Present   bool  `json:"present"`
	Quality   int   `json:"quality"`
	Timestamp int64 `json:"timestamp"`
}

// SaveMode 保存模式
type SaveMode int

const (
	// SaveModeSeparate 输出到应用目录，保留原件
	SaveModeSeparate SaveMode = iota
	// SaveModeOverwrite 原地覆盖
	SaveModeOverwrite
)

// String 返回保存模式字符串
func (s SaveMode) String() string {
	if s == SaveModeOverwrite {
		return "overwrite"
	}
	return "separate"
}

// ItemStat 媒体索引批量预取返回的条目信息快照
type ItemStat struct {
	Exists      bool      `json:"exists"`
	DisplayName string    `json:"display_name"`
	Path        string    `json:"path"`
	MimeType    string    `json:"mime_type"`
	Size        int64     `json:"size"`
	ModifiedAt  time.Time `json:"modified_at"`
	Pending     bool      `json:"pending"`
	Screenshot  bool      `json:"screenshot"`
}
