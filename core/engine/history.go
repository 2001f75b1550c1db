package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// ItemRecord 条目处理记录
type ItemRecord struct {
	ItemKey        string    `json:"item_key"`
	Caller         string    `json:"caller"`
	Quality        int       `json:"quality"`
	OriginalSize   int64     `json:"original_size"`
	CompressedSize int64     `json:"compressed_size"`
	Skipped        bool      `json:"skipped"`
	SkipReason     string    `json:"skip_reason,omitempty"`
	ProcessedAt    time.Time `json:"processed_at"`
}

// 数据库bucket名称
const (
	itemsBucket = "items"
	statsBucket = "stats"
)

// HistoryStore 已处理条目登记库
// 登记项带处理时间并按龄期清理，漏掉注销的记录不会永久残留
type HistoryStore struct {
	db           *bbolt.DB
	logger       *zap.Logger
	errorHandler *ErrorHandler
}

// NewHistoryStore 打开（必要时创建）历史库
func NewHistoryStore(dir string, logger *zap.Logger, errorHandler *ErrorHandler) (*HistoryStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errorHandler.WrapError("创建历史库目录", err)
	}

	dbPath := filepath.Join(dir, "history.db")
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, errorHandler.WrapError("打开历史库", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(itemsBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(statsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, errorHandler.WrapError("初始化历史库", err)
	}

	return &HistoryStore{
		db:           db,
		logger:       logger.Named("history"),
		errorHandler: errorHandler,
	}, nil
}

// Register 登记条目处理记录
func (hs *HistoryStore) Register(record *ItemRecord) error {
	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = time.Now()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return hs.errorHandler.WrapError("序列化处理记录", err)
	}

	return hs.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(itemsBucket)).Put([]byte(record.ItemKey), data)
	})
}

// Unregister 注销条目登记
func (hs *HistoryStore) Unregister(itemKey string) error {
	return hs.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(itemsBucket)).Delete([]byte(itemKey))
	})
}

// Lookup 查询条目登记
func (hs *HistoryStore) Lookup(itemKey string) (*ItemRecord, error) {
	var record *ItemRecord

	err := hs.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(itemsBucket)).Get([]byte(itemKey))
		if data == nil {
			return nil
		}
		record = &ItemRecord{}
		return json.Unmarshal(data, record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// CleanupOlderThan 清理超龄登记，返回删除数量
// 周期调用，保证登记库不会随应用生命周期无界增长
func (hs *HistoryStore) CleanupOlderThan(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	err := hs.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(itemsBucket))

		var stale [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var record ItemRecord
			if err := json.Unmarshal(v, &record); err != nil {
				// 无法解析的记录同样清掉
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			if record.ProcessedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, key := range stale {
			if err := bucket.Delete(key); err != nil {
				return err
			}
			removed++
		}
		return nil
	})

	if removed > 0 {
		hs.logger.Info("清理超龄处理记录", zap.Int("removed", removed))
	}
	return removed, err
}

// Count 返回登记条目总数
func (hs *HistoryStore) Count() (int, error) {
	count := 0
	err := hs.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(itemsBucket)).ForEach(func(k, v []byte) error {
			count++
			return nil
		})
	})
	return count, err
}

// Close 关闭历史库
func (hs *HistoryStore) Close() error {
	if hs.db != nil {
		return hs.db.Close()
	}
	return nil
}
