package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Lease 去重租约：对条目键的限时独占声明
// 这是带时间戳的状态标记而非真正的互斥锁——持有者崩溃或被取消后
// 租约在超时后自愈回收，属于尽力而为的防重复保护
type Lease struct {
	ItemKey    string    `json:"item_key"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Expired 判断租约是否已过期
func (l *Lease) Expired(timeout time.Duration, now time.Time) bool {
	return now.Sub(l.AcquiredAt) >= timeout
}

// DedupTracker 跟踪正在判定或压缩中的条目，阻止并发重复处理
type DedupTracker struct {
	leases  map[string]*Lease
	timeout time.Duration
	logger  *zap.Logger
	mutex   sync.Mutex

	now func() time.Time
}

// NewDedupTracker 创建去重跟踪器，timeout<=0 时使用5分钟默认租期
func NewDedupTracker(timeout time.Duration, logger *zap.Logger) *DedupTracker {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &DedupTracker{
		leases:  make(map[string]*Lease),
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// TryAcquire 尝试获取租约
// 返回true表示新建了租约；存在未过期租约时返回false
func (dt *DedupTracker) TryAcquire(itemKey string) bool {
	now := dt.now()

	dt.mutex.Lock()
	defer dt.mutex.Unlock()

	if existing, exists := dt.leases[itemKey]; exists {
		if !existing.Expired(dt.timeout, now) {
			return false
		}
		// 过期租约：持有者已崩溃或遗忘释放，就地回收
		dt.logger.Debug("回收过期租约",
			zap.String("item_key", itemKey),
			zap.Time("acquired_at", existing.AcquiredAt))
	}

	dt.leases[itemKey] = &Lease{
		ItemKey:    itemKey,
		AcquiredAt: now,
	}
	return true
}

// Release 释放租约，完成、失败或跳过路径都必须调用
func (dt *DedupTracker) Release(itemKey string) {
	dt.mutex.Lock()
	defer dt.mutex.Unlock()

	delete(dt.leases, itemKey)
}

// Held 判断条目当前是否被未过期租约占用
func (dt *DedupTracker) Held(itemKey string) bool {
	now := dt.now()

	dt.mutex.Lock()
	defer dt.mutex.Unlock()

	lease, exists := dt.leases[itemKey]
	return exists && !lease.Expired(dt.timeout, now)
}

// Sweep 清理所有过期租约，返回回收数量
// TryAcquire 已能就地回收，周期性清扫只是防止冷键残留
func (dt *DedupTracker) Sweep() int {
	now := dt.now()

	dt.mutex.Lock()
	defer dt.mutex.Unlock()

	reclaimed := 0
	for key, lease := range dt.leases {
		if lease.Expired(dt.timeout, now) {
			delete(dt.leases, key)
			reclaimed++
		}
	}

	if reclaimed > 0 {
		dt.logger.Debug("清扫过期租约", zap.Int("reclaimed", reclaimed))
	}
	return reclaimed
}

// Len 返回当前租约数量
func (dt *DedupTracker) Len() int {
	dt.mutex.Lock()
	defer dt.mutex.Unlock()
	return len(dt.leases)
}
