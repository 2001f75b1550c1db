package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config 应用配置结构
type Config struct {
	// 判定策略阈值
	Policy PolicyConfig `mapstructure:"policy"`

	// 批次聚合设置
	Batching BatchingConfig `mapstructure:"batching"`

	// 排除规则
	Exclusions ExclusionsConfig `mapstructure:"exclusions"`

	// 运行时开关（用户可随时切换）
	Settings SettingsConfig `mapstructure:"settings"`

	// 输出设置
	Output OutputConfig `mapstructure:"output"`

	// 并发设置
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`

	// 外部工具路径
	Tools ToolsConfig `mapstructure:"tools"`

	// 目录监听设置
	Watch WatchConfig `mapstructure:"watch"`

	// 历史库设置
	History HistoryConfig `mapstructure:"history"`

	// 日志设置
	Logging LoggingConfig `mapstructure:"logging"`
}

// PolicyConfig 判定策略阈值
// 所有数值都是策略常量的可覆盖版本，不得硬编码进算法
type PolicyConfig struct {
	// 标记时间戳与文件修改时间的容忍间隙
	MarkerTimeTolerance time.Duration `mapstructure:"marker_time_tolerance"`

	// 低于该体积视为已最优，不再压缩
	MinSizeBytes int64 `mapstructure:"min_size_bytes"`

	// 去重租约超时
	LeaseTimeout time.Duration `mapstructure:"lease_timeout"`

	// 元数据缓存容量
	CacheCapacity int `mapstructure:"cache_capacity"`

	// 改名备份产物的文件名特征
	BackupNameFragments []string `mapstructure:"backup_name_fragments"`
}

// BatchingConfig 批次聚合设置
type BatchingConfig struct {
	// auto批次滚动不活跃窗口
	AutoWindow time.Duration `mapstructure:"auto_window"`

	// 定数批次安全超时
	BoundedTimeout time.Duration `mapstructure:"bounded_timeout"`

	// 活跃批次上限，超过后触发孤儿淘汰
	MaxLiveBatches int `mapstructure:"max_live_batches"`

	// 孤儿批次龄期
	MaxBatchAge time.Duration `mapstructure:"max_batch_age"`
}

// ExclusionsConfig 排除规则
type ExclusionsConfig struct {
	// 聊天应用媒体目录特征（显式拒绝清单）
	MessengerFolders []string `mapstructure:"messenger_folders"`
}

// SettingsConfig 运行时开关
type SettingsConfig struct {
	// 自动压缩总开关
	AutoCompress bool `mapstructure:"auto_compress"`

	// 压缩质量 (1-100)
	Quality int `mapstructure:"quality"`

	// 是否压缩截图
	IncludeScreenshots bool `mapstructure:"include_screenshots"`

	// 是否忽略聊天应用照片
	IgnoreMessenger bool `mapstructure:"ignore_messenger"`

	// 保存模式 (separate, overwrite)
	SaveMode string `mapstructure:"save_mode"`
}

// OutputConfig 输出设置
type OutputConfig struct {
	// 应用输出目录名
	AppDirectory string `mapstructure:"app_directory"`

	// 压缩产物文件名后缀
	CompressedSuffix string `mapstructure:"compressed_suffix"`
}

// ConcurrencyConfig 并发设置
type ConcurrencyConfig struct {
	// 压缩工作器数量，0 表示按系统资源自动调整
	Workers int `mapstructure:"workers"`

	// 是否按CPU与内存自动调整
	AutoAdjust bool `mapstructure:"auto_adjust"`
}

// ToolsConfig 外部工具路径
type ToolsConfig struct {
	FFmpegPath   string `mapstructure:"ffmpeg_path"`
	ExiftoolPath string `mapstructure:"exiftool_path"`
}

// WatchConfig 目录监听设置
type WatchConfig struct {
	// 监听目录列表
	Directories []string `mapstructure:"directories"`

	// 事件去抖间隔
	Debounce time.Duration `mapstructure:"debounce"`
}

// HistoryConfig 历史库设置
type HistoryConfig struct {
	// 是否启用历史登记
	Enabled bool `mapstructure:"enabled"`

	// 历史库目录，空值使用系统临时目录
	Dir string `mapstructure:"dir"`

	// 登记龄期上限，超龄清理
	MaxAge time.Duration `mapstructure:"max_age"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	// 日志级别 (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// 是否启用文件日志
	EnableFile bool `mapstructure:"enable_file"`

	// 是否启用控制台日志
	EnableConsole bool `mapstructure:"enable_console"`

	// 日志目录
	LogDir string `mapstructure:"log_dir"`
}

// Manager 配置管理器，支持文件、环境变量与热重载
type Manager struct {
	viper      *viper.Viper
	config     *Config
	configFile string
	logger     *zap.Logger
	mutex      sync.RWMutex
	onChange   []func(*Config)
}

// NewManager 创建配置管理器
func NewManager(configFile string, logger *zap.Logger) *Manager {
	return &Manager{
		viper:      viper.New(),
		configFile: configFile,
		logger:     logger,
	}
}

// Load 加载配置：默认值 < 配置文件 < 环境变量
func (m *Manager) Load() (*Config, error) {
	setDefaults(m.viper)

	if m.configFile != "" {
		m.viper.SetConfigFile(m.configFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			m.viper.AddConfigPath(home)
		}
		m.viper.AddConfigPath(".")
		m.viper.SetConfigName(".fotofast")
		m.viper.SetConfigType("yaml")
	}

	m.viper.SetEnvPrefix("FOTOFAST")
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	m.viper.AutomaticEnv()

	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		// 没有配置文件时使用默认值
	}

	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	m.mutex.Lock()
	m.config = &cfg
	m.mutex.Unlock()

	return &cfg, nil
}

// Get 返回当前配置快照
func (m *Manager) Get() *Config {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.config
}

// Set 直接注入配置（测试使用）
func (m *Manager) Set(cfg *Config) {
	m.mutex.Lock()
	m.config = cfg
	m.mutex.Unlock()
}

// OnChange 注册配置变更回调
func (m *Manager) OnChange(fn func(*Config)) {
	m.mutex.Lock()
	m.onChange = append(m.onChange, fn)
	m.mutex.Unlock()
}

// Watch 启用配置热重载
func (m *Manager) Watch() {
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := m.viper.Unmarshal(&cfg); err != nil {
			m.logger.Warn("配置热重载解析失败", zap.Error(err))
			return
		}
		if err := validate(&cfg); err != nil {
			m.logger.Warn("配置热重载校验失败", zap.Error(err))
			return
		}

		m.mutex.Lock()
		m.config = &cfg
		callbacks := make([]func(*Config), len(m.onChange))
		copy(callbacks, m.onChange)
		m.mutex.Unlock()

		m.logger.Info("配置已热重载", zap.String("file", e.Name))
		for _, fn := range callbacks {
			fn(&cfg)
		}
	})
	m.viper.WatchConfig()
}

// validate 基础校验
func validate(cfg *Config) error {
	if cfg.Settings.Quality < 1 || cfg.Settings.Quality > 100 {
		return fmt.Errorf("质量必须在1-100之间: %d", cfg.Settings.Quality)
	}
	if cfg.Settings.SaveMode != "separate" && cfg.Settings.SaveMode != "overwrite" {
		return fmt.Errorf("未知的保存模式: %s", cfg.Settings.SaveMode)
	}
	if cfg.Batching.MaxLiveBatches <= 0 {
		return fmt.Errorf("活跃批次上限必须为正: %d", cfg.Batching.MaxLiveBatches)
	}
	return nil
}
