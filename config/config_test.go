package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

// TestDefaultConfig 测试默认配置完整且通过校验
func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if err := validate(cfg); err != nil {
		t.Fatalf("默认配置应通过校验: %v", err)
	}

	if cfg.Policy.MarkerTimeTolerance != 20*time.Second {
		t.Errorf("标记容差默认值不符: %v", cfg.Policy.MarkerTimeTolerance)
	}
	if cfg.Policy.MinSizeBytes != 200*1024 {
		t.Errorf("体积下限默认值不符: %d", cfg.Policy.MinSizeBytes)
	}
	if cfg.Policy.LeaseTimeout != 5*time.Minute {
		t.Errorf("租约超时默认值不符: %v", cfg.Policy.LeaseTimeout)
	}
	if cfg.Batching.AutoWindow != 8*time.Second {
		t.Errorf("auto窗口默认值不符: %v", cfg.Batching.AutoWindow)
	}
	if cfg.Batching.MaxLiveBatches != 50 {
		t.Errorf("活跃批次上限默认值不符: %d", cfg.Batching.MaxLiveBatches)
	}
	if cfg.Settings.Quality != 80 || cfg.Settings.SaveMode != "separate" {
		t.Errorf("运行时开关默认值不符: %+v", cfg.Settings)
	}
	if len(cfg.Exclusions.MessengerFolders) == 0 {
		t.Error("聊天目录排除清单不应为空")
	}
}

// TestLoadWithoutFile 测试无配置文件时按默认值加载
func TestLoadWithoutFile(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "absent.yaml"), zap.NewNop())

	// 指定了不存在的文件路径：viper按缺失文件报错
	if _, err := manager.Load(); err == nil {
		t.Error("显式指定的缺失配置文件应报错")
	}
}

// TestLoadFromFile 测试配置文件覆盖默认值
func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "fotofast.yaml")
	content := []byte(`
settings:
  quality: 65
  save_mode: overwrite
batching:
  auto_window: 3s
`)
	if err := os.WriteFile(file, content, 0644); err != nil {
		t.Fatal(err)
	}

	manager := NewManager(file, zap.NewNop())
	cfg, err := manager.Load()
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.Settings.Quality != 65 {
		t.Errorf("文件值应覆盖默认质量: %d", cfg.Settings.Quality)
	}
	if cfg.Settings.SaveMode != "overwrite" {
		t.Errorf("文件值应覆盖保存模式: %s", cfg.Settings.SaveMode)
	}
	if cfg.Batching.AutoWindow != 3*time.Second {
		t.Errorf("文件值应覆盖auto窗口: %v", cfg.Batching.AutoWindow)
	}
	// 未覆盖的键保持默认
	if cfg.Policy.MinSizeBytes != 200*1024 {
		t.Errorf("未覆盖键应保持默认: %d", cfg.Policy.MinSizeBytes)
	}

	if got := manager.Get(); got == nil || got.Settings.Quality != 65 {
		t.Error("Get应返回已加载的快照")
	}
}

// TestValidateRejectsBadValues 测试校验拒绝非法取值
func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Settings.Quality = 0
	if err := validate(cfg); err == nil {
		t.Error("质量0应被拒绝")
	}

	cfg = Default()
	cfg.Settings.Quality = 101
	if err := validate(cfg); err == nil {
		t.Error("质量101应被拒绝")
	}

	cfg = Default()
	cfg.Settings.SaveMode = "in_place"
	if err := validate(cfg); err == nil {
		t.Error("未知保存模式应被拒绝")
	}

	cfg = Default()
	cfg.Batching.MaxLiveBatches = 0
	if err := validate(cfg); err == nil {
		t.Error("活跃批次上限0应被拒绝")
	}
}
