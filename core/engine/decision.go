package engine

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"fotofast/config"
)

// mimeWhitelist 允许压缩的媒体类型
var mimeWhitelist = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/heic": true,
	"image/heif": true,
}

// documentsSegment 路径包含该段时不参与目录类排除，避免用户文档误判
const documentsSegment = "/documents/"

// DecisionEngine 压缩判定引擎
// 对单个条目执行有序检查链，首个失败项即短路返回；
// 判定过程中的临时I/O错误一律降级为"需要压缩"（fail open），
// 确保瞬时故障不会永久抑制真实候选条目的压缩
type DecisionEngine struct {
	index        MediaIndex
	markers      MarkerStore
	settings     Settings
	cache        *MetadataCache
	dedup        *DedupTracker
	cfg          *config.Config
	logger       *zap.Logger
	errorHandler *ErrorHandler
}

// NewDecisionEngine 创建判定引擎
func NewDecisionEngine(
	index MediaIndex,
	markers MarkerStore,
	settings Settings,
	cache *MetadataCache,
	dedup *DedupTracker,
	cfg *config.Config,
	logger *zap.Logger,
	errorHandler *ErrorHandler,
) *DecisionEngine {
	return &DecisionEngine{
		index:        index,
		markers:      markers,
		settings:     settings,
		cache:        cache,
		dedup:        dedup,
		cfg:          cfg,
		logger:       logger.Named("decision"),
		errorHandler: errorHandler,
	}
}

// Evaluate 判定条目是否需要压缩
//
// 返回 proceed=true 时判定引擎持有该条目的去重租约，调用方必须在
// 压缩完成（或失败、取消）后调用 ReleaseItem；跳过路径的租约由引擎
// 自行释放。forceProcess 仅绕过全局自动压缩开关，不绕过其余检查
func (de *DecisionEngine) Evaluate(ctx context.Context, item MediaItem, forceProcess bool) *DecisionResult {
	key := item.Key()

	// 去重：同一条目的并发判定只允许一个通过
	if !de.dedup.TryAcquire(key) {
		de.logger.Debug("条目正在处理中，跳过", zap.String("item", key))
		return &DecisionResult{Proceed: false, Reason: ReasonItemBeingProcessed}
	}

	result := de.evaluateChecks(ctx, item, forceProcess)
	if !result.Proceed {
		// 终态跳过，租约就地释放；proceed 路径由调用方在压缩结束后释放
		de.dedup.Release(key)
	}
	return result
}

// ReleaseItem 释放判定引擎为 proceed 条目持有的租约
func (de *DecisionEngine) ReleaseItem(item MediaItem) {
	de.dedup.Release(item.Key())
}

// evaluateChecks 有序检查链，首个失败项短路
func (de *DecisionEngine) evaluateChecks(ctx context.Context, item MediaItem, forceProcess bool) *DecisionResult {
	key := item.Key()

	// 检查1：条目必须仍可解析为可读内容
	exists, err := de.index.ResolveExists(ctx, item)
	if err != nil {
		return de.failOpen(key, "existence check", err)
	}
	if !exists {
		return skip(ReasonBasicCheckFailed)
	}

	name, err := de.index.DisplayName(ctx, item)
	if err != nil {
		return de.failOpen(key, "display name lookup", err)
	}

	// 检查2：文件名表明其本身就是改名备份产物
	if de.isBackupArtifactName(name) {
		return skip(ReasonBasicCheckFailed)
	}

	// 检查3：自动压缩总开关（force 仅绕过此项）
	if !de.settings.AutoCompressEnabled() && !forceProcess {
		return skip(ReasonBasicCheckFailed)
	}

	// 检查4a：截图默认排除
	if !de.settings.IncludeScreenshots() {
		screenshot, err := de.index.IsScreenshot(ctx, item)
		if err != nil {
			return de.failOpen(key, "screenshot check", err)
		}
		if screenshot {
			return skip(ReasonBasicCheckFailed)
		}
	}

	path, err := de.index.Path(ctx, item)
	if err != nil {
		return de.failOpen(key, "path lookup", err)
	}

	// 检查4b：条目已在应用输出目录内
	if de.isInAppDirectory(path) {
		return skip(ReasonInAppDirectory)
	}

	// 检查5：源应用仍在写入且条目并非压缩产物
	pending, err := de.index.IsPending(ctx, item)
	if err != nil {
		return de.failOpen(key, "pending check", err)
	}
	if pending && !de.isCompressionArtifactName(name) {
		return skip(ReasonBasicCheckFailed)
	}

	// 检查6：媒体类型白名单
	mime, err := de.index.MimeType(ctx, item)
	if err != nil {
		return de.failOpen(key, "mime lookup", err)
	}
	if !mimeWhitelist[strings.ToLower(mime)] {
		return skip(ReasonBasicCheckFailed)
	}

	// 检查7：聊天应用照片排除
	// 双层信号：worker 仍需运行以便下游写入标记，仅像素压缩被跳过
	if de.settings.IgnoreMessengerPhotos() && de.isMessengerPath(path) {
		return &DecisionResult{Proceed: true, Reason: ReasonMessengerPhoto}
	}

	// 检查8：非覆盖模式下已有同名压缩产物
	if de.settings.SaveMode() != SaveModeOverwrite {
		found, err := de.index.FindCompressedSibling(ctx, item)
		if err != nil {
			return de.failOpen(key, "compressed sibling search", err)
		}
		if found {
			return skip(ReasonCompressedVersionExists)
		}
	}

	// 检查9：已写入压缩标记的条目
	modifiedAt, modErr := de.index.ModifiedAt(ctx, item)
	marker, err := de.readMarkerCached(ctx, item, modifiedAt)
	if err != nil {
		return de.failOpen(key, "marker read", err)
	}

	if marker.Present {
		result := &DecisionResult{
			HasMarker:       true,
			MarkerQuality:   marker.Quality,
			MarkerTimestamp: marker.Timestamp,
		}
		if modErr != nil || modifiedAt <= 0 {
			// 修改时间不可用时视为未修改
			result.Reason = ReasonAlreadyCompressed
			return result
		}
		result.ItemModifiedAt = modifiedAt

		delta := modifiedAt - marker.Timestamp
		tolerance := de.cfg.Policy.MarkerTimeTolerance.Milliseconds()
		if delta <= tolerance {
			// delta<=0 或落在标记写入与文件系统时间戳更新的间隙内，仍视为已压缩
			result.Reason = ReasonAlreadyCompressed
			return result
		}

		// 标记之后条目又被真实修改过，继续向下检查
		de.logger.Debug("条目在压缩后被修改，重新进入候选",
			zap.String("item", key),
			zap.Int64("delta_ms", delta))
	}

	// 检查10：体积下限，低于阈值视为已最优
	size, err := de.index.Size(ctx, item)
	if err != nil {
		return de.failOpen(key, "size lookup", err)
	}
	if size < de.cfg.Policy.MinSizeBytes {
		return withMarker(skip(ReasonAlreadySmall), marker, modifiedAt)
	}

	// 全部通过，需要压缩
	return withMarker(&DecisionResult{Proceed: true, Reason: ReasonNone}, marker, modifiedAt)
}

// readMarkerCached 读取压缩标记，优先命中缓存，未命中时查询协作方并回填
func (de *DecisionEngine) readMarkerCached(ctx context.Context, item MediaItem, modifiedAt int64) (Marker, error) {
	key := item.Key()

	if entry, ok := de.cache.Get(key, modifiedAt); ok {
		return Marker{
			Present:   entry.HasMarker,
			Quality:   entry.Quality,
			Timestamp: entry.MarkerTimestamp,
		}, nil
	}

	marker, err := de.markers.ReadMarker(ctx, item)
	if err != nil {
		return Marker{}, err
	}

	de.cache.Put(key, CacheEntry{
		HasMarker:       marker.Present,
		Quality:         marker.Quality,
		MarkerTimestamp: marker.Timestamp,
	}, modifiedAt)

	return marker, nil
}

// failOpen 判定过程中的错误降级为"需要压缩"
// 保守默认：瞬时I/O故障绝不能静默地永久抑制真实候选的压缩
func (de *DecisionEngine) failOpen(itemKey, operation string, err error) *DecisionResult {
	de.logger.Warn("判定检查出错，降级为需要压缩",
		zap.String("item", itemKey),
		zap.String("operation", operation),
		zap.Error(err))
	return &DecisionResult{Proceed: true, Reason: ReasonNone, Err: err}
}

// isBackupArtifactName 识别改名备份产物
func (de *DecisionEngine) isBackupArtifactName(name string) bool {
	lower := strings.ToLower(name)
	for _, fragment := range de.cfg.Policy.BackupNameFragments {
		if fragment != "" && strings.Contains(lower, strings.ToLower(fragment)) {
			return true
		}
	}
	return false
}

// isCompressionArtifactName 识别本应用的压缩产物命名
func (de *DecisionEngine) isCompressionArtifactName(name string) bool {
	suffix := strings.ToLower(de.cfg.Output.CompressedSuffix)
	return suffix != "" && strings.Contains(strings.ToLower(name), suffix)
}

// isInAppDirectory 规范化路径包含检查：大小写不敏感、斜杠统一，
// 显式排除 /documents/ 段避免误判
func (de *DecisionEngine) isInAppDirectory(path string) bool {
	normalized := normalizePathLower(path)
	if strings.Contains(normalized, documentsSegment) {
		return false
	}

	appDir := strings.ToLower(strings.Trim(de.cfg.Output.AppDirectory, "/"))
	if appDir == "" {
		return false
	}
	return strings.Contains(normalized, "/"+appDir+"/")
}

// isMessengerPath 显式拒绝清单匹配聊天应用媒体目录
func (de *DecisionEngine) isMessengerPath(path string) bool {
	normalized := normalizePathLower(path)
	if strings.Contains(normalized, documentsSegment) {
		return false
	}

	for _, fragment := range de.cfg.Exclusions.MessengerFolders {
		if fragment != "" && strings.Contains(normalized, strings.ToLower(fragment)) {
			return true
		}
	}
	return false
}

// normalizePathLower 统一为小写正斜杠路径
func normalizePathLower(path string) string {
	return strings.ToLower(strings.ReplaceAll(path, "\\", "/"))
}

// skip 构造终态跳过结果
func skip(reason SkipReason) *DecisionResult {
	return &DecisionResult{Proceed: false, Reason: reason}
}

// withMarker 将标记信息附到结果上
func withMarker(result *DecisionResult, marker Marker, modifiedAt int64) *DecisionResult {
	result.HasMarker = marker.Present
	result.MarkerQuality = marker.Quality
	result.MarkerTimestamp = marker.Timestamp
	if modifiedAt > 0 {
		result.ItemModifiedAt = modifiedAt
	}
	return result
}
