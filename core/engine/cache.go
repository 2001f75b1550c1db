package engine

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// CacheEntry 条目元数据缓存项
// 仅当条目当前修改时间与缓存时一致才视为命中，任何不一致都当作未命中
type CacheEntry struct {
	ItemKey              string `json:"item_key"`
	ModifiedAtWhenCached int64  `json:"modified_at_when_cached"`
	HasMarker            bool   `json:"has_marker"`
	Quality              int    `json:"quality"`
	MarkerTimestamp      int64  `json:"marker_timestamp"`
}

// CacheStats 缓存命中统计
type CacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// MetadataCache 短生命周期的条目元数据缓存
// 避免对未变化条目重复执行昂贵的标记读取，LRU上限防止长驻进程内存无界增长
type MetadataCache struct {
	capacity int
	entries  map[string]*list.Element
	order    *list.List
	mutex    sync.Mutex

	hits   atomic.Int64
	misses atomic.Int64
}

// NewMetadataCache 创建元数据缓存，capacity<=0 时使用默认上限
func NewMetadataCache(capacity int) *MetadataCache {
	if capacity <= 0 {
		capacity = 512
	}
	return &MetadataCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get 查询缓存，currentModifiedAt 不匹配时视为未命中
func (mc *MetadataCache) Get(itemKey string, currentModifiedAt int64) (*CacheEntry, bool) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	elem, exists := mc.entries[itemKey]
	if !exists {
		mc.misses.Add(1)
		return nil, false
	}

	entry := elem.Value.(*CacheEntry)
	if entry.ModifiedAtWhenCached != currentModifiedAt {
		// 条目已被修改，过期内容绝不作为命中返回
		mc.order.Remove(elem)
		delete(mc.entries, itemKey)
		mc.misses.Add(1)
		return nil, false
	}

	mc.order.MoveToFront(elem)
	mc.hits.Add(1)
	return entry, true
}

// Put 写入缓存并记录条目当前修改时间
func (mc *MetadataCache) Put(itemKey string, entry CacheEntry, currentModifiedAt int64) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	entry.ItemKey = itemKey
	entry.ModifiedAtWhenCached = currentModifiedAt

	if elem, exists := mc.entries[itemKey]; exists {
		elem.Value = &entry
		mc.order.MoveToFront(elem)
		return
	}

	mc.entries[itemKey] = mc.order.PushFront(&entry)

	// 超出容量时淘汰最久未使用的条目
	for mc.order.Len() > mc.capacity {
		oldest := mc.order.Back()
		if oldest == nil {
			break
		}
		mc.order.Remove(oldest)
		delete(mc.entries, oldest.Value.(*CacheEntry).ItemKey)
	}
}

// Invalidate 显式失效单个条目
func (mc *MetadataCache) Invalidate(itemKey string) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if elem, exists := mc.entries[itemKey]; exists {
		mc.order.Remove(elem)
		delete(mc.entries, itemKey)
	}
}

// Stats 返回命中统计快照
func (mc *MetadataCache) Stats() CacheStats {
	mc.mutex.Lock()
	entries := len(mc.entries)
	mc.mutex.Unlock()

	return CacheStats{
		Hits:    mc.hits.Load(),
		Misses:  mc.misses.Load(),
		Entries: entries,
	}
}
