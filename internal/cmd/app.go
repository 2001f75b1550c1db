package cmd

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"fotofast/config"
	"fotofast/core/compress"
	"fotofast/core/engine"
	"fotofast/core/marker"
	"fotofast/core/media"
	"fotofast/internal/logger"
	"fotofast/internal/notify"
	"fotofast/internal/sysinfo"
)

// app 一次进程生命周期内的全部长驻组件
// 共享状态（活跃批次、租约、缓存）都挂在这里的实例上，
// 不使用包级全局，测试可以逐实例新建
type app struct {
	manager    *config.Manager
	cfg        *config.Config
	log        *zap.Logger
	cache      *engine.MetadataCache
	dedup      *engine.DedupTracker
	aggregator *engine.BatchAggregator
	runner     *engine.Runner
	history    *engine.HistoryStore
	index      *media.FSIndex
}

// newApp 装配全部组件
func newApp(configFile string, verbose bool) (*app, error) {
	bootstrap := zap.NewNop()
	manager := config.NewManager(configFile, bootstrap)

	cfg, err := manager.Load()
	if err != nil {
		return nil, err
	}

	if verbose {
		cfg.Logging.Level = "debug"
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return nil, err
	}

	errorHandler := engine.NewErrorHandler(log)
	settings := engine.NewConfigSettings(manager)

	cache := engine.NewMetadataCache(cfg.Policy.CacheCapacity)
	dedup := engine.NewDedupTracker(cfg.Policy.LeaseTimeout, log)

	index := media.NewFSIndex(cfg, log)
	markers := marker.NewExifStore(cfg, log)
	compressor := compress.NewFFmpegCompressor(cfg, log)
	sink := notify.NewConsoleSink(log)

	decisionEngine := engine.NewDecisionEngine(
		index, markers, settings, cache, dedup, cfg, log, errorHandler)
	aggregator := engine.NewBatchAggregator(sink, cfg, log)

	var history *engine.HistoryStore
	if cfg.History.Enabled {
		dir := cfg.History.Dir
		if dir == "" {
			dir = filepath.Join(os.TempDir(), "fotofast")
		}
		history, err = engine.NewHistoryStore(dir, log, errorHandler)
		if err != nil {
			// 历史库打不开只降级，不阻断压缩
			log.Warn("历史库不可用", zap.Error(err))
			history = nil
		}
	}

	workers := sysinfo.RecommendedWorkers(cfg.Concurrency.Workers, log)
	runner, err := engine.NewRunner(
		decisionEngine, aggregator, compressor, markers, index,
		cache, history, settings, cfg, workers, log, errorHandler)
	if err != nil {
		return nil, err
	}

	log.Debug("组件装配完成", zap.Int("workers", workers))

	manager.Watch()

	return &app{
		manager:    manager,
		cfg:        cfg,
		log:        log,
		cache:      cache,
		dedup:      dedup,
		aggregator: aggregator,
		runner:     runner,
		history:    history,
		index:      index,
	}, nil
}

// close 逆序释放组件
func (a *app) close() {
	a.runner.Close()
	a.aggregator.Close()
	if a.history != nil {
		if _, err := a.history.CleanupOlderThan(a.cfg.History.MaxAge); err != nil {
			a.log.Warn("历史库清理失败", zap.Error(err))
		}
		if err := a.history.Close(); err != nil {
			a.log.Warn("关闭历史库失败", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}
