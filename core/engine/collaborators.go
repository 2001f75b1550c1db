package engine

import (
	"context"
)

// MediaIndex 媒体索引协作方：解析条目的存在性与基础属性
// 实现方负责枚举照片库与监听变更，核心只消费查询接口
type MediaIndex interface {
	ResolveExists(ctx context.Context, item MediaItem) (bool, error)
	DisplayName(ctx context.Context, item MediaItem) (string, error)
	Path(ctx context.Context, item MediaItem) (string, error)
	MimeType(ctx context.Context, item MediaItem) (string, error)
	Size(ctx context.Context, item MediaItem) (int64, error)
	ModifiedAt(ctx context.Context, item MediaItem) (int64, error)
	IsPending(ctx context.Context, item MediaItem) (bool, error)
	IsScreenshot(ctx context.Context, item MediaItem) (bool, error)

	// StatBatch 批量预取，减少逐条目查询的往返开销
	StatBatch(ctx context.Context, items []MediaItem) (map[string]*ItemStat, error)

	// FindCompressedSibling 在应用输出目录中查找同名压缩产物
	FindCompressedSibling(ctx context.Context, item MediaItem) (bool, error)
}

// MarkerStore 压缩标记存取协作方
type MarkerStore interface {
	ReadMarker(ctx context.Context, item MediaItem) (Marker, error)
	WriteMarker(ctx context.Context, item MediaItem, quality int) error
}

// CompressOutput 压缩执行结果
type CompressOutput struct {
	Output     MediaItem `json:"output"`
	OutputSize int64     `json:"output_size"`
}

// Compressor 压缩执行协作方，仅在判定引擎给出 proceed 后被调用
type Compressor interface {
	Compress(ctx context.Context, item MediaItem, quality int) (*CompressOutput, error)
}

// Settings 运行时设置协作方
type Settings interface {
	AutoCompressEnabled() bool
	Quality() int
	IncludeScreenshots() bool
	IgnoreMessengerPhotos() bool
	SaveMode() SaveMode
}

// ReportSink 报告输出协作方，由聚合器在批次终结时消费
// 渲染方式（控制台、系统通知）不在核心职责内
type ReportSink interface {
	EmitIndividualResult(ownerContext string, result CompressionResult)
	EmitAggregateResult(ownerContext string, results []CompressionResult, bounded bool)
}
