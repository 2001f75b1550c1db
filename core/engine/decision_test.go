package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"fotofast/config"
)

// fakeIndex 测试用媒体索引
type fakeIndex struct {
	exists     bool
	name       string
	path       string
	mime       string
	size       int64
	modifiedAt int64
	pending    bool
	screenshot bool

	mimeErr error
	sizeErr error
	modErr  error
}

func (f *fakeIndex) ResolveExists(ctx context.Context, item MediaItem) (bool, error) {
	return f.exists, nil
}

func (f *fakeIndex) DisplayName(ctx context.Context, item MediaItem) (string, error) {
	return f.name, nil
}

func (f *fakeIndex) Path(ctx context.Context, item MediaItem) (string, error) {
	return f.path, nil
}

func (f *fakeIndex) MimeType(ctx context.Context, item MediaItem) (string, error) {
	return f.mime, f.mimeErr
}

func (f *fakeIndex) Size(ctx context.Context, item MediaItem) (int64, error) {
	return f.size, f.sizeErr
}

func (f *fakeIndex) ModifiedAt(ctx context.Context, item MediaItem) (int64, error) {
	return f.modifiedAt, f.modErr
}

func (f *fakeIndex) IsPending(ctx context.Context, item MediaItem) (bool, error) {
	return f.pending, nil
}

func (f *fakeIndex) IsScreenshot(ctx context.Context, item MediaItem) (bool, error) {
	return f.screenshot, nil
}

func (f *fakeIndex) StatBatch(ctx context.Context, items []MediaItem) (map[string]*ItemStat, error) {
	return nil, nil
}

func (f *fakeIndex) FindCompressedSibling(ctx context.Context, item MediaItem) (bool, error) {
	return false, nil
}

// fakeIndexWithSibling 带压缩产物的索引
type fakeIndexWithSibling struct {
	fakeIndex
	sibling bool
}

func (f *fakeIndexWithSibling) FindCompressedSibling(ctx context.Context, item MediaItem) (bool, error) {
	return f.sibling, nil
}

// fakeMarkers 测试用标记存储，按条目键隔离标记状态，
// 记录读写次数（工作池并发访问，需加锁）
type fakeMarkers struct {
	mu      sync.Mutex
	markers map[string]Marker
	reads   int
	writes  int
}

func newFakeMarkers() *fakeMarkers {
	return &fakeMarkers{markers: make(map[string]Marker)}
}

func newFakeMarkersWith(key string, marker Marker) *fakeMarkers {
	f := newFakeMarkers()
	f.markers[key] = marker
	return f
}

func (f *fakeMarkers) ReadMarker(ctx context.Context, item MediaItem) (Marker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return f.markers[item.Key()], nil
}

func (f *fakeMarkers) WriteMarker(ctx context.Context, item MediaItem, quality int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	f.markers[item.Key()] = Marker{Present: true, Quality: quality, Timestamp: time.Now().UnixMilli()}
	return nil
}

func (f *fakeMarkers) get(key string) Marker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markers[key]
}

func (f *fakeMarkers) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *fakeMarkers) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// fakeSettings 测试用运行时设置
type fakeSettings struct {
	autoCompress       bool
	quality            int
	includeScreenshots bool
	ignoreMessenger    bool
	saveMode           SaveMode
}

func (f *fakeSettings) AutoCompressEnabled() bool   { return f.autoCompress }
func (f *fakeSettings) Quality() int                { return f.quality }
func (f *fakeSettings) IncludeScreenshots() bool    { return f.includeScreenshots }
func (f *fakeSettings) IgnoreMessengerPhotos() bool { return f.ignoreMessenger }
func (f *fakeSettings) SaveMode() SaveMode          { return f.saveMode }

// testPolicyConfig 测试用判定配置
func testPolicyConfig() *config.Config {
	return &config.Config{
		Policy: config.PolicyConfig{
			MarkerTimeTolerance: 20 * time.Second,
			MinSizeBytes:        200 * 1024,
			LeaseTimeout:        5 * time.Minute,
			CacheCapacity:       64,
			BackupNameFragments: []string{"_original", ".bak"},
		},
		Exclusions: config.ExclusionsConfig{
			MessengerFolders: []string{
				"/whatsapp/", "/telegram/", "/viber/", "/messenger/",
				"/messages/", "pictures/messages",
			},
		},
		Output: config.OutputConfig{
			AppDirectory:     "FotoFast",
			CompressedSuffix: "_compressed",
		},
	}
}

// candidateIndex 返回一个应通过全部检查的索引
func candidateIndex() *fakeIndex {
	return &fakeIndex{
		exists:     true,
		name:       "IMG_0001.jpg",
		path:       "/storage/dcim/camera/IMG_0001.jpg",
		mime:       "image/jpeg",
		size:       2 * 1024 * 1024,
		modifiedAt: time.Now().UnixMilli(),
	}
}

// newTestEngine 装配测试判定引擎
func newTestEngine(index MediaIndex, markers MarkerStore, settings Settings, cfg *config.Config) *DecisionEngine {
	logger := zap.NewNop()
	return NewDecisionEngine(
		index, markers, settings,
		NewMetadataCache(cfg.Policy.CacheCapacity),
		NewDedupTracker(cfg.Policy.LeaseTimeout, logger),
		cfg, logger, NewErrorHandler(logger))
}

// TestEvaluateUnmarkedCandidate 测试无标记且各项在界的条目判定为需要压缩
func TestEvaluateUnmarkedCandidate(t *testing.T) {
	settings := &fakeSettings{autoCompress: true, quality: 80, ignoreMessenger: true}
	engine := newTestEngine(candidateIndex(), newFakeMarkers(), settings, testPolicyConfig())

	result := engine.Evaluate(context.Background(), MediaItem{URI: "item-1"}, false)

	if !result.Proceed || result.Reason != ReasonNone {
		t.Fatalf("期望proceed+NONE，实际 proceed=%v reason=%s", result.Proceed, result.Reason)
	}
	if !result.NeedsCompression() {
		t.Error("应需要像素压缩")
	}
	engine.ReleaseItem(MediaItem{URI: "item-1"})
}

// TestEvaluateMarkerWithinTolerance 测试带标记且未再修改的条目跳过
func TestEvaluateMarkerWithinTolerance(t *testing.T) {
	index := candidateIndex()
	markers := newFakeMarkersWith("item-1", Marker{
		Present:   true,
		Quality:   80,
		Timestamp: index.modifiedAt - 5000, // 间隙5秒，在20秒容差内
	})
	settings := &fakeSettings{autoCompress: true}
	engine := newTestEngine(index, markers, settings, testPolicyConfig())

	result := engine.Evaluate(context.Background(), MediaItem{URI: "item-1"}, false)

	if result.Proceed {
		t.Fatal("带有效标记的条目不应继续压缩")
	}
	if result.Reason != ReasonAlreadyCompressed {
		t.Errorf("期望ALREADY_COMPRESSED，实际%s", result.Reason)
	}
	if !result.HasMarker || result.MarkerQuality != 80 {
		t.Errorf("标记信息应附在结果上: %+v", result)
	}
}

// TestEvaluateModifiedAfterMarker 测试标记之后被真实修改的条目重新进入候选
func TestEvaluateModifiedAfterMarker(t *testing.T) {
	index := candidateIndex()
	markers := newFakeMarkersWith("item-1", Marker{
		Present:   true,
		Quality:   80,
		Timestamp: index.modifiedAt - 60_000, // 标记后60秒又被修改
	})
	settings := &fakeSettings{autoCompress: true}
	engine := newTestEngine(index, markers, settings, testPolicyConfig())

	result := engine.Evaluate(context.Background(), MediaItem{URI: "item-1"}, false)

	if !result.NeedsCompression() {
		t.Fatalf("标记后被修改的条目应重新压缩，实际 proceed=%v reason=%s",
			result.Proceed, result.Reason)
	}
	if !result.HasMarker {
		t.Error("旧标记信息仍应附在结果上")
	}
}

// TestEvaluateIdempotence 测试压缩一轮后再判定必然跳过
func TestEvaluateIdempotence(t *testing.T) {
	index := candidateIndex()
	markers := newFakeMarkers()
	settings := &fakeSettings{autoCompress: true, quality: 80}
	engine := newTestEngine(index, markers, settings, testPolicyConfig())
	item := MediaItem{URI: "item-1"}

	first := engine.Evaluate(context.Background(), item, false)
	if !first.NeedsCompression() {
		t.Fatalf("首轮应需要压缩: %+v", first)
	}

	// 模拟压缩完成：写入标记，产物修改时间与标记几乎同时
	if err := markers.WriteMarker(context.Background(), item, 80); err != nil {
		t.Fatal(err)
	}
	index.modifiedAt = markers.get(item.Key()).Timestamp + 2000
	engine.ReleaseItem(item)

	second := engine.Evaluate(context.Background(), item, false)
	if second.Proceed {
		t.Fatal("第二轮不应再压缩")
	}
	if second.Reason != ReasonAlreadyCompressed {
		t.Errorf("期望ALREADY_COMPRESSED，实际%s", second.Reason)
	}
}

// TestEvaluateMessengerPhoto 测试聊天应用照片的双层信号
func TestEvaluateMessengerPhoto(t *testing.T) {
	index := candidateIndex()
	index.path = "/storage/whatsapp/media/IMG_0001.jpg"
	settings := &fakeSettings{autoCompress: true, ignoreMessenger: true}
	engine := newTestEngine(index, newFakeMarkers(), settings, testPolicyConfig())
	item := MediaItem{URI: "item-1"}

	result := engine.Evaluate(context.Background(), item, false)

	// proceed=true：worker仍需运行写标记；但不执行像素压缩
	if !result.Proceed {
		t.Fatal("聊天照片应proceed以便写入标记")
	}
	if result.Reason != ReasonMessengerPhoto {
		t.Errorf("期望MESSENGER_PHOTO，实际%s", result.Reason)
	}
	if result.NeedsCompression() {
		t.Error("聊天照片不应执行像素压缩")
	}
	engine.ReleaseItem(item)

	// 用户关闭忽略开关后正常压缩
	settings.ignoreMessenger = false
	result = engine.Evaluate(context.Background(), item, false)
	if !result.NeedsCompression() {
		t.Errorf("关闭忽略开关后应正常压缩: %+v", result)
	}
	engine.ReleaseItem(item)
}

// TestEvaluateDocumentsPathNotExcluded 测试/documents/段豁免目录类排除
func TestEvaluateDocumentsPathNotExcluded(t *testing.T) {
	index := candidateIndex()
	index.path = "/storage/documents/whatsapp/IMG_0001.jpg"
	settings := &fakeSettings{autoCompress: true, ignoreMessenger: true}
	engine := newTestEngine(index, newFakeMarkers(), settings, testPolicyConfig())

	result := engine.Evaluate(context.Background(), MediaItem{URI: "item-1"}, false)

	if !result.NeedsCompression() {
		t.Errorf("documents下的条目不应被聊天目录规则排除: %+v", result)
	}
}

// TestEvaluateInAppDirectory 测试应用输出目录内的条目跳过
func TestEvaluateInAppDirectory(t *testing.T) {
	index := candidateIndex()
	index.path = "/storage/dcim/FotoFast/IMG_0001_compressed.jpg"
	settings := &fakeSettings{autoCompress: true}
	engine := newTestEngine(index, newFakeMarkers(), settings, testPolicyConfig())

	result := engine.Evaluate(context.Background(), MediaItem{URI: "item-1"}, false)

	if result.Proceed || result.Reason != ReasonInAppDirectory {
		t.Errorf("期望IN_APP_DIRECTORY跳过，实际 proceed=%v reason=%s",
			result.Proceed, result.Reason)
	}
}

// TestEvaluateSizeFloor 测试低于体积下限的条目跳过
func TestEvaluateSizeFloor(t *testing.T) {
	index := candidateIndex()
	index.size = 100 * 1024 // 低于200KB下限
	settings := &fakeSettings{autoCompress: true}
	engine := newTestEngine(index, newFakeMarkers(), settings, testPolicyConfig())

	result := engine.Evaluate(context.Background(), MediaItem{URI: "item-1"}, false)

	if result.Proceed || result.Reason != ReasonAlreadySmall {
		t.Errorf("期望ALREADY_SMALL跳过，实际 proceed=%v reason=%s",
			result.Proceed, result.Reason)
	}
}

// TestEvaluateAutoCompressDisabled 测试总开关关闭与force绕过
func TestEvaluateAutoCompressDisabled(t *testing.T) {
	settings := &fakeSettings{autoCompress: false}
	engine := newTestEngine(candidateIndex(), newFakeMarkers(), settings, testPolicyConfig())
	item := MediaItem{URI: "item-1"}

	result := engine.Evaluate(context.Background(), item, false)
	if result.Proceed {
		t.Fatal("总开关关闭时不应压缩")
	}

	// force仅绕过总开关，其余检查照常
	result = engine.Evaluate(context.Background(), item, true)
	if !result.NeedsCompression() {
		t.Errorf("force应绕过总开关: %+v", result)
	}
	engine.ReleaseItem(item)
}

// TestEvaluateCompressedSibling 测试非覆盖模式下已有压缩产物的条目跳过
func TestEvaluateCompressedSibling(t *testing.T) {
	index := &fakeIndexWithSibling{fakeIndex: *candidateIndex(), sibling: true}
	settings := &fakeSettings{autoCompress: true, saveMode: SaveModeSeparate}
	cfg := testPolicyConfig()
	engine := newTestEngine(index, newFakeMarkers(), settings, cfg)
	item := MediaItem{URI: "item-1"}

	result := engine.Evaluate(context.Background(), item, false)
	if result.Proceed || result.Reason != ReasonCompressedVersionExists {
		t.Errorf("期望COMPRESSED_VERSION_EXISTS，实际 proceed=%v reason=%s",
			result.Proceed, result.Reason)
	}

	// 覆盖模式不检查产物
	settings.saveMode = SaveModeOverwrite
	engine2 := newTestEngine(index, newFakeMarkers(), settings, cfg)
	result = engine2.Evaluate(context.Background(), item, false)
	if !result.NeedsCompression() {
		t.Errorf("覆盖模式不应因既有产物跳过: %+v", result)
	}
}

// TestEvaluateFailOpen 测试判定过程I/O错误时降级为需要压缩
func TestEvaluateFailOpen(t *testing.T) {
	index := candidateIndex()
	index.mimeErr = errors.New("index unavailable")
	settings := &fakeSettings{autoCompress: true}
	engine := newTestEngine(index, newFakeMarkers(), settings, testPolicyConfig())

	result := engine.Evaluate(context.Background(), MediaItem{URI: "item-1"}, false)

	if !result.Proceed || result.Reason != ReasonNone {
		t.Errorf("I/O错误应降级为需要压缩，实际 proceed=%v reason=%s",
			result.Proceed, result.Reason)
	}
	if result.Err == nil {
		t.Error("降级结果应携带原始错误")
	}
}

// TestEvaluateDedupLease 测试并发判定的租约互斥
func TestEvaluateDedupLease(t *testing.T) {
	settings := &fakeSettings{autoCompress: true}
	engine := newTestEngine(candidateIndex(), newFakeMarkers(), settings, testPolicyConfig())
	item := MediaItem{URI: "item-1"}

	first := engine.Evaluate(context.Background(), item, false)
	if !first.Proceed {
		t.Fatalf("首次判定应proceed: %+v", first)
	}

	// 租约被首次判定持有，重复判定被拒
	second := engine.Evaluate(context.Background(), item, false)
	if second.Proceed || second.Reason != ReasonItemBeingProcessed {
		t.Errorf("期望ITEM_BEING_PROCESSED，实际 proceed=%v reason=%s",
			second.Proceed, second.Reason)
	}

	// 压缩结束释放后恢复可判定
	engine.ReleaseItem(item)
	third := engine.Evaluate(context.Background(), item, false)
	if !third.Proceed {
		t.Errorf("释放租约后应可再次判定: %+v", third)
	}
}

// TestEvaluateMarkerReadCached 测试同一修改时间下标记读取命中缓存
func TestEvaluateMarkerReadCached(t *testing.T) {
	index := candidateIndex()
	markers := newFakeMarkers()
	settings := &fakeSettings{autoCompress: true}
	engine := newTestEngine(index, markers, settings, testPolicyConfig())
	item := MediaItem{URI: "item-1"}

	engine.Evaluate(context.Background(), item, false)
	engine.ReleaseItem(item)
	engine.Evaluate(context.Background(), item, false)
	engine.ReleaseItem(item)

	if markers.readCount() != 1 {
		t.Errorf("第二次判定应命中缓存，期望1次标记读取，实际%d", markers.readCount())
	}

	// 条目被修改后缓存失效，重新读取
	index.modifiedAt += 60_000
	engine.Evaluate(context.Background(), item, false)
	engine.ReleaseItem(item)

	if markers.readCount() != 2 {
		t.Errorf("修改后应重新读取标记，期望2次，实际%d", markers.readCount())
	}
}

// TestEvaluateBackupArtifactName 测试改名备份产物被排除
func TestEvaluateBackupArtifactName(t *testing.T) {
	index := candidateIndex()
	index.name = "IMG_0001_original.jpg"
	settings := &fakeSettings{autoCompress: true}
	engine := newTestEngine(index, newFakeMarkers(), settings, testPolicyConfig())

	result := engine.Evaluate(context.Background(), MediaItem{URI: "item-1"}, false)
	if result.Proceed || result.Reason != ReasonBasicCheckFailed {
		t.Errorf("备份产物应跳过，实际 proceed=%v reason=%s", result.Proceed, result.Reason)
	}
}

// TestEvaluateScreenshotExcluded 测试截图默认排除、开关后纳入
func TestEvaluateScreenshotExcluded(t *testing.T) {
	index := candidateIndex()
	index.screenshot = true
	settings := &fakeSettings{autoCompress: true, includeScreenshots: false}
	engine := newTestEngine(index, newFakeMarkers(), settings, testPolicyConfig())
	item := MediaItem{URI: "item-1"}

	result := engine.Evaluate(context.Background(), item, false)
	if result.Proceed {
		t.Fatal("截图默认应排除")
	}

	settings.includeScreenshots = true
	result = engine.Evaluate(context.Background(), item, false)
	if !result.NeedsCompression() {
		t.Errorf("开启包含截图后应压缩: %+v", result)
	}
}

// TestEvaluateMarkerIsolationBetweenItems 测试一个条目的标记不影响其他条目的判定
func TestEvaluateMarkerIsolationBetweenItems(t *testing.T) {
	index := candidateIndex()
	markers := newFakeMarkers()
	settings := &fakeSettings{autoCompress: true, quality: 80}
	engine := newTestEngine(index, markers, settings, testPolicyConfig())

	// 条目a已压缩并写入标记
	if err := markers.WriteMarker(context.Background(), MediaItem{URI: "/dcim/a.jpg"}, 80); err != nil {
		t.Fatal(err)
	}

	// 条目b没有标记，仍应判定为需要压缩
	result := engine.Evaluate(context.Background(), MediaItem{URI: "/dcim/b.jpg"}, false)
	if !result.NeedsCompression() {
		t.Errorf("无标记条目不应受其他条目标记影响: proceed=%v reason=%s",
			result.Proceed, result.Reason)
	}
	if result.HasMarker {
		t.Error("条目b不应带有条目a的标记")
	}
}
