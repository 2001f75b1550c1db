package engine

import (
	"context"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"fotofast/config"
)

// Runner 压缩任务编排器
// 把多来源触发（用户多选、变更事件、后台重试）接到判定引擎与聚合器上：
// 逐条目判定、执行外部压缩、把结果回填进所属批次。
// 每个条目是工作池里一个独立任务，彼此无序且可部分失败
type Runner struct {
	engine       *DecisionEngine
	aggregator   *BatchAggregator
	compressor   Compressor
	markers      MarkerStore
	index        MediaIndex
	cache        *MetadataCache
	history      *HistoryStore
	settings     Settings
	cfg          *config.Config
	pool         *ants.Pool
	logger       *zap.Logger
	errorHandler *ErrorHandler
}

// NewRunner 创建编排器与其工作池
func NewRunner(
	engine *DecisionEngine,
	aggregator *BatchAggregator,
	compressor Compressor,
	markers MarkerStore,
	index MediaIndex,
	cache *MetadataCache,
	history *HistoryStore,
	settings Settings,
	cfg *config.Config,
	workers int,
	logger *zap.Logger,
	errorHandler *ErrorHandler,
) (*Runner, error) {
	if workers <= 0 {
		workers = 4
	}

	pool, err := ants.NewPool(workers, ants.WithNonblocking(false))
	if err != nil {
		return nil, errorHandler.WrapError("创建工作池", err)
	}

	return &Runner{
		engine:       engine,
		aggregator:   aggregator,
		compressor:   compressor,
		markers:      markers,
		index:        index,
		cache:        cache,
		history:      history,
		settings:     settings,
		cfg:          cfg,
		pool:         pool,
		logger:       logger.Named("runner"),
		errorHandler: errorHandler,
	}, nil
}

// ProcessSelection 处理用户多选条目
// 预期结果数已知，走定数批次；每个条目（含被跳过的）都会回填一个
// 结果，批次计数绝不静默缺斤短两
func (r *Runner) ProcessSelection(ctx context.Context, owner string, items []MediaItem, force bool) string {
	batchID := r.aggregator.CreateBoundedBatch(owner, len(items))

	var wg sync.WaitGroup
	for _, item := range items {
		select {
		case <-ctx.Done():
			// 取消后不再派发新任务，安全超时会兜底终结批次
			r.logger.Warn("多选处理被取消", zap.String("batch_id", batchID))
			wg.Wait()
			return batchID
		default:
		}

		wg.Add(1)
		current := item
		if err := r.pool.Submit(func() {
			defer wg.Done()
			r.processItem(ctx, current, batchID, force, owner)
		}); err != nil {
			wg.Done()
			r.logger.Error("提交压缩任务失败",
				zap.String("item", current.Key()),
				zap.Error(err))
			r.aggregator.AddResult(batchID, owner, CompressionResult{
				FileName:   current.Key(),
				Skipped:    true,
				SkipReason: ReasonBasicCheckFailed.String(),
			})
		}
	}

	wg.Wait()
	return batchID
}

// HandleChangeEvent 处理单个内容变更事件（监听器或后台重试触发）
// 最终条目数未知，结果落入滚动窗口的auto批次
func (r *Runner) HandleChangeEvent(ctx context.Context, owner string, item MediaItem) error {
	batchID := r.aggregator.GetOrCreateAutoBatch(owner)

	return r.pool.Submit(func() {
		r.processItem(ctx, item, batchID, false, owner)
	})
}

// processItem 单条目处理：判定 → 压缩 → 回填结果
func (r *Runner) processItem(ctx context.Context, item MediaItem, batchID string, force bool, caller string) {
	key := item.Key()
	name := r.displayName(ctx, item)

	decision := r.engine.Evaluate(ctx, item, force)

	if !decision.Proceed {
		r.logger.Debug("条目被跳过",
			zap.String("item", key),
			zap.String("reason", decision.Reason.String()))
		r.aggregator.AddResult(batchID, caller, CompressionResult{
			FileName:   name,
			Skipped:    true,
			SkipReason: decision.Reason.String(),
		})
		return
	}

	// proceed 路径持有去重租约，所有出口都必须释放；
	// 进程被杀时由租约超时自愈
	defer r.engine.ReleaseItem(item)

	quality := r.settings.Quality()

	// 聊天应用照片：worker 照常运行以写入标记，像素压缩被跳过
	if decision.Reason == ReasonMessengerPhoto {
		r.stampMarker(ctx, item, quality)
		r.registerHistory(&ItemRecord{
			ItemKey:    key,
			Caller:     caller,
			Quality:    quality,
			Skipped:    true,
			SkipReason: decision.Reason.String(),
		})
		r.aggregator.AddResult(batchID, caller, CompressionResult{
			FileName:   name,
			Skipped:    true,
			SkipReason: decision.Reason.String(),
		})
		return
	}

	originalSize, err := r.index.Size(ctx, item)
	if err != nil {
		r.logger.Warn("读取原始大小失败", zap.String("item", key), zap.Error(err))
	}

	output, err := r.compressor.Compress(ctx, item, quality)
	if err != nil {
		// 失败的尝试仍以 skipped=false 回填，最终报告计数不缺项
		r.errorHandler.NewTypedError(ErrorTypeCompression, SeverityMedium,
			"compress", "压缩执行失败", err)
		r.aggregator.AddResult(batchID, caller, CompressionResult{
			FileName:     name,
			OriginalSize: originalSize,
			Failed:       true,
		})
		return
	}

	r.stampMarker(ctx, output.Output, quality)
	r.cache.Invalidate(key)

	result := CompressionResult{
		FileName:       name,
		OriginalSize:   originalSize,
		CompressedSize: output.OutputSize,
	}
	if originalSize > 0 {
		result.SizeReductionPercent = float64(originalSize-output.OutputSize) / float64(originalSize) * 100
	}

	r.registerHistory(&ItemRecord{
		ItemKey:        key,
		Caller:         caller,
		Quality:        quality,
		OriginalSize:   originalSize,
		CompressedSize: output.OutputSize,
	})

	r.aggregator.AddResult(batchID, caller, result)

	r.logger.Info("条目压缩完成",
		zap.String("item", key),
		zap.Int64("original", originalSize),
		zap.Int64("compressed", output.OutputSize))
}

// stampMarker 写入压缩标记并失效对应缓存
func (r *Runner) stampMarker(ctx context.Context, item MediaItem, quality int) {
	if err := r.markers.WriteMarker(ctx, item, quality); err != nil {
		r.logger.Warn("写入压缩标记失败",
			zap.String("item", item.Key()),
			zap.Error(err))
		return
	}
	r.cache.Invalidate(item.Key())
}

// registerHistory 登记处理记录，历史库可选
func (r *Runner) registerHistory(record *ItemRecord) {
	if r.history == nil {
		return
	}
	if err := r.history.Register(record); err != nil {
		r.logger.Warn("登记处理记录失败",
			zap.String("item", record.ItemKey),
			zap.Error(err))
	}
}

// displayName 尽力解析显示名，失败时退回条目键
func (r *Runner) displayName(ctx context.Context, item MediaItem) string {
	name, err := r.index.DisplayName(ctx, item)
	if err != nil || name == "" {
		return item.Key()
	}
	return name
}

// Close 释放工作池
func (r *Runner) Close() {
	r.pool.Release()
}
