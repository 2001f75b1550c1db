// Package watch 监听照片目录的内容变更，把新增或修改的条目
// 送入与多选入口相同的判定路径，结果落入滚动窗口的auto批次
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"fotofast/config"
	"fotofast/core/engine"
)

// ownerContext 监听触发的批次归属
const ownerContext = "watch"

// watchedExtensions 监听的图片扩展名
var watchedExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".jpe": true,
	".png": true, ".heic": true, ".heif": true,
}

// Watcher 目录监听器
// 源应用写入大文件会触发连串Write事件，按路径去抖后只处理
// 最后一次事件，避免对写入中的文件反复判定
type Watcher struct {
	runner  *engine.Runner
	cfg     *config.Config
	logger  *zap.Logger
	fsw     *fsnotify.Watcher
	pending map[string]*time.Timer
	mutex   sync.Mutex
	wg      sync.WaitGroup
}

// NewWatcher 创建目录监听器
func NewWatcher(runner *engine.Runner, cfg *config.Config, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		runner:  runner,
		cfg:     cfg,
		logger:  logger.Named("watch"),
		fsw:     fsw,
		pending: make(map[string]*time.Timer),
	}, nil
}

// Run 启动监听循环，阻塞直到 ctx 取消
func (w *Watcher) Run(ctx context.Context) error {
	for _, dir := range w.cfg.Watch.Directories {
		if err := w.addRecursive(dir); err != nil {
			w.logger.Warn("添加监听目录失败",
				zap.String("dir", dir),
				zap.Error(err))
		}
	}

	w.logger.Info("目录监听已启动",
		zap.Strings("directories", w.cfg.Watch.Directories))

	for {
		select {
		case <-ctx.Done():
			w.drainTimers()
			w.wg.Wait()
			return w.fsw.Close()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("监听错误", zap.Error(err))
		}
	}
}

// handleEvent 处理单个文件系统事件
func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	// 新建子目录纳入监听
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn("监听新目录失败",
					zap.String("dir", event.Name),
					zap.Error(err))
			}
			return
		}
	}

	ext := strings.ToLower(filepath.Ext(event.Name))
	if !watchedExtensions[ext] {
		return
	}

	w.debounce(ctx, event.Name)
}

// debounce 按路径去抖：窗口内的连续事件只保留最后一次
func (w *Watcher) debounce(ctx context.Context, path string) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if timer, exists := w.pending[path]; exists {
		timer.Reset(w.cfg.Watch.Debounce)
		return
	}

	// Add先于定时器创建；回调与drainTimers恰好一方执行配对的Done
	w.wg.Add(1)
	w.pending[path] = time.AfterFunc(w.cfg.Watch.Debounce, func() {
		defer w.wg.Done()

		w.mutex.Lock()
		delete(w.pending, path)
		w.mutex.Unlock()

		if ctx.Err() != nil {
			return
		}

		item := engine.MediaItem{URI: path}
		if err := w.runner.HandleChangeEvent(ctx, ownerContext, item); err != nil {
			w.logger.Warn("提交变更事件失败",
				zap.String("item", path),
				zap.Error(err))
		}
	})
}

// drainTimers 停掉所有未触发的去抖定时器
func (w *Watcher) drainTimers() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	for path, timer := range w.pending {
		// Stop成功说明回调不会再跑，对应的Done在这里补上；
		// Stop失败说明回调已经或正在执行，由回调自己Done
		if timer.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
}

// addRecursive 递归添加目录及其子目录
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		// 应用输出目录不监听，压缩产物不应再次触发判定
		if strings.EqualFold(d.Name(), w.cfg.Output.AppDirectory) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}
