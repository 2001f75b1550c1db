package engine

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"fotofast/config"
)

// Batch 聚合单元：把N个压缩结果归拢为一条合并报告
// 只允许追加结果；终结后从活跃集合移除，永不复用
type Batch struct {
	ID            string
	OwnerContext  string
	ExpectedCount int // 0 表示开放式auto批次
	Results       []CompressionResult
	CreatedAt     time.Time
	LastTouched   time.Time
	Bounded       bool

	timer *time.Timer
}

// reportEvent 批次终结后投递给通知消费者的事件
// 聚合器与渲染延迟、调用方生命周期解耦
type reportEvent struct {
	ownerContext string
	results      []CompressionResult
	bounded      bool
}

// AggregateStats 聚合统计
type AggregateStats struct {
	Total            int     `json:"total"`
	Compressed       int     `json:"compressed"`
	Skipped          int     `json:"skipped"`
	Failed           int     `json:"failed"`
	OriginalTotal    int64   `json:"original_total"`
	CompressedTotal  int64   `json:"compressed_total"`
	ReductionPercent float64 `json:"reduction_percent"`
}

// ComputeAggregate 计算批次聚合统计
// 缩减百分比 = (原始总量-压缩总量)/原始总量*100，仅计入非跳过结果
func ComputeAggregate(results []CompressionResult) AggregateStats {
	stats := AggregateStats{Total: len(results)}

	for _, r := range results {
		if r.Skipped {
			stats.Skipped++
			continue
		}
		if r.Failed {
			stats.Failed++
			continue
		}
		stats.Compressed++
		stats.OriginalTotal += r.OriginalSize
		stats.CompressedTotal += r.CompressedSize
	}

	if stats.OriginalTotal > 0 {
		saved := stats.OriginalTotal - stats.CompressedTotal
		stats.ReductionPercent = float64(saved) / float64(stats.OriginalTotal) * 100
	}
	return stats
}

// BatchAggregator 批次聚合器
// 收集大量并发、无序、可能部分失败的压缩结果，按批次策略决定
// 何时终结并产出单条合并报告。定时器回调与并发AddResult通过同一把
// 互斥锁串行化，批次绝不会被终结两次或在终结后被追加
type BatchAggregator struct {
	live    map[string]*Batch
	counter atomic.Uint64
	sink    ReportSink
	cfg     *config.Config
	logger  *zap.Logger
	mutex   sync.Mutex

	reportCh  chan reportEvent
	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup

	now func() time.Time
}

// NewBatchAggregator 创建批次聚合器并启动通知消费者
func NewBatchAggregator(sink ReportSink, cfg *config.Config, logger *zap.Logger) *BatchAggregator {
	ba := &BatchAggregator{
		live:     make(map[string]*Batch),
		sink:     sink,
		cfg:      cfg,
		logger:   logger.Named("aggregator"),
		reportCh: make(chan reportEvent, 64),
		now:      time.Now,
	}

	ba.wg.Add(1)
	go ba.consumeReports()

	return ba
}

// consumeReports 报告消费循环：后台投递，渲染耗时不阻塞压缩任务
func (ba *BatchAggregator) consumeReports() {
	defer ba.wg.Done()

	for ev := range ba.reportCh {
		stats := ComputeAggregate(ev.results)

		// 恰好一个非跳过结果时发单条报告，否则发聚合报告；
		// 全部被跳过的批次同样走聚合（"全部已跳过"）形式
		if stats.Compressed+stats.Failed == 1 && stats.Total == 1 {
			ba.sink.EmitIndividualResult(ev.ownerContext, ev.results[0])
			continue
		}
		ba.sink.EmitAggregateResult(ev.ownerContext, ev.results, ev.bounded)
	}
}

// CreateBoundedBatch 创建定数批次
// 结果数达到 expectedCount 时立即终结；安全超时兜底保证即便部分
// 预期结果永远不到达，用户也总能收到一条报告
func (ba *BatchAggregator) CreateBoundedBatch(ownerContext string, expectedCount int) string {
	now := ba.now()
	batch := &Batch{
		ID:            ba.nextBatchID(now),
		OwnerContext:  ownerContext,
		ExpectedCount: expectedCount,
		CreatedAt:     now,
		LastTouched:   now,
		Bounded:       true,
	}

	ba.mutex.Lock()
	ba.live[batch.ID] = batch
	id := batch.ID
	batch.timer = time.AfterFunc(ba.cfg.Batching.BoundedTimeout, func() {
		ba.finalize(id, "safety timeout")
	})
	ba.pruneLocked()
	ba.mutex.Unlock()

	ba.logger.Debug("创建定数批次",
		zap.String("batch_id", id),
		zap.String("owner", ownerContext),
		zap.Int("expected", expectedCount))
	return id
}

// GetOrCreateAutoBatch 获取或创建开放式批次
// 滚动不活跃窗口内（每次追加都会重置）复用同一批次
func (ba *BatchAggregator) GetOrCreateAutoBatch(ownerContext string) string {
	now := ba.now()
	window := ba.cfg.Batching.AutoWindow

	ba.mutex.Lock()
	defer ba.mutex.Unlock()

	for _, batch := range ba.live {
		if !batch.Bounded && batch.OwnerContext == ownerContext &&
			now.Sub(batch.LastTouched) < window {
			batch.LastTouched = now
			return batch.ID
		}
	}

	batch := &Batch{
		ID:           ba.nextBatchID(now),
		OwnerContext: ownerContext,
		CreatedAt:    now,
		LastTouched:  now,
	}
	ba.live[batch.ID] = batch
	id := batch.ID
	batch.timer = time.AfterFunc(window, func() {
		ba.finalize(id, "inactivity timeout")
	})
	ba.pruneLocked()

	ba.logger.Debug("创建auto批次",
		zap.String("batch_id", id),
		zap.String("owner", ownerContext))
	return id
}

// AddResult 向批次追加一个结果
// 定数批次达到预期数量时就地终结；auto批次每次追加重置不活跃定时器。
// 目标批次已终结（如定数批次收到多余结果）时结果落入同一归属方的
// 新auto批次，返回实际接收结果的批次ID
func (ba *BatchAggregator) AddResult(batchID, ownerContext string, result CompressionResult) string {
	ba.mutex.Lock()

	batch, exists := ba.live[batchID]
	if !exists {
		ba.mutex.Unlock()
		ba.logger.Debug("批次已终结，结果转入新批次",
			zap.String("batch_id", batchID),
			zap.String("owner", ownerContext))
		freshID := ba.GetOrCreateAutoBatch(ownerContext)
		return ba.AddResult(freshID, ownerContext, result)
	}

	batch.Results = append(batch.Results, result)
	batch.LastTouched = ba.now()

	var emit func()
	if batch.Bounded {
		if len(batch.Results) >= batch.ExpectedCount {
			emit = ba.finalizeLocked(batch, "complete")
		}
	} else if batch.timer != nil {
		// 滚动窗口：每次追加把到期时间推后一个完整窗口
		batch.timer.Reset(ba.cfg.Batching.AutoWindow)
	}
	ba.mutex.Unlock()

	if emit != nil {
		emit()
	}
	return batchID
}

// ForceFinalize 无视完成度立即终结批次（上游错误路径使用）
func (ba *BatchAggregator) ForceFinalize(batchID string) {
	ba.finalize(batchID, "forced")
}

// finalize 终结入口，对已移除批次幂等
func (ba *BatchAggregator) finalize(batchID, cause string) {
	ba.mutex.Lock()
	var emit func()
	if batch, exists := ba.live[batchID]; exists {
		emit = ba.finalizeLocked(batch, cause)
	}
	ba.mutex.Unlock()

	if emit != nil {
		emit()
	}
}

// finalizeLocked 从活跃集合移除、停掉定时器并投递报告事件
// 调用方必须持有 ba.mutex。通知队列满时不在锁内渲染，而是返回
// 待执行的同步发射，调用方在释放锁之后执行，慢渲染不拖住其他批次
func (ba *BatchAggregator) finalizeLocked(batch *Batch, cause string) func() {
	delete(ba.live, batch.ID)
	if batch.timer != nil {
		batch.timer.Stop()
	}

	ba.logger.Debug("批次终结",
		zap.String("batch_id", batch.ID),
		zap.String("cause", cause),
		zap.Int("results", len(batch.Results)))

	// 零结果批次不产生任何报告
	if len(batch.Results) == 0 || ba.closed.Load() {
		return nil
	}

	results := make([]CompressionResult, len(batch.Results))
	copy(results, batch.Results)

	select {
	case ba.reportCh <- reportEvent{
		ownerContext: batch.OwnerContext,
		results:      results,
		bounded:      batch.Bounded,
	}:
		return nil
	default:
		// 消费者积压时不阻塞压缩路径，改为同步输出
		ba.logger.Warn("报告队列已满，同步输出", zap.String("batch_id", batch.ID))
		owner := batch.OwnerContext
		bounded := batch.Bounded
		return func() {
			ba.sink.EmitAggregateResult(owner, results, bounded)
		}
	}
}

// CleanupOldBatches 活跃批次超过上限时淘汰超龄的孤儿批次
// 被淘汰批次不产生报告，定时器一并取消
func (ba *BatchAggregator) CleanupOldBatches() int {
	ba.mutex.Lock()
	defer ba.mutex.Unlock()
	return ba.pruneLocked()
}

// pruneLocked 上限与超龄检查，调用方必须持有 ba.mutex
func (ba *BatchAggregator) pruneLocked() int {
	if len(ba.live) <= ba.cfg.Batching.MaxLiveBatches {
		return 0
	}

	now := ba.now()
	removed := 0
	for id, batch := range ba.live {
		createdAt, ok := decodeBatchTimestamp(id)
		if !ok {
			createdAt = batch.CreatedAt
		}
		if now.Sub(createdAt) > ba.cfg.Batching.MaxBatchAge {
			delete(ba.live, id)
			if batch.timer != nil {
				batch.timer.Stop()
			}
			removed++
		}
	}

	if removed > 0 {
		ba.logger.Info("淘汰孤儿批次",
			zap.Int("removed", removed),
			zap.Int("live", len(ba.live)))
	}
	return removed
}

// LiveCount 返回当前活跃批次数量
func (ba *BatchAggregator) LiveCount() int {
	ba.mutex.Lock()
	defer ba.mutex.Unlock()
	return len(ba.live)
}

// Close 终结所有残余批次并等待通知消费者退出，可重复调用
func (ba *BatchAggregator) Close() {
	ba.closeOnce.Do(func() {
		ba.mutex.Lock()
		var emits []func()
		for _, batch := range ba.live {
			if emit := ba.finalizeLocked(batch, "shutdown"); emit != nil {
				emits = append(emits, emit)
			}
		}
		ba.mutex.Unlock()

		for _, emit := range emits {
			emit()
		}

		ba.closed.Store(true)
		close(ba.reportCh)
		ba.wg.Wait()
	})
}

// nextBatchID 生成批次ID：共享单调递增计数器 + 毫秒时间戳后缀
// 无需协调即可保证唯一；时间戳后缀仅用于龄期比较，不是协议字段
func (ba *BatchAggregator) nextBatchID(now time.Time) string {
	var builder strings.Builder
	builder.WriteString("batch_")
	builder.WriteString(strconv.FormatUint(ba.counter.Add(1), 10))
	builder.WriteString("_")
	builder.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	return builder.String()
}

// decodeBatchTimestamp 从批次ID尾段解出创建时间
func decodeBatchTimestamp(batchID string) (time.Time, bool) {
	idx := strings.LastIndex(batchID, "_")
	if idx < 0 || idx == len(batchID)-1 {
		return time.Time{}, false
	}
	millis, err := strconv.ParseInt(batchID[idx+1:], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(millis), true
}
