package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default 返回默认配置（测试与无配置文件场景使用）
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// 默认值集合保证可解析
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults 注册全部默认值
func setDefaults(v *viper.Viper) {
	// 判定策略
	v.SetDefault("policy.marker_time_tolerance", 20*time.Second)
	v.SetDefault("policy.min_size_bytes", 200*1024)
	v.SetDefault("policy.lease_timeout", 5*time.Minute)
	v.SetDefault("policy.cache_capacity", 512)
	v.SetDefault("policy.backup_name_fragments", []string{"_original", ".bak", "~backup"})

	// 批次聚合
	v.SetDefault("batching.auto_window", 8*time.Second)
	v.SetDefault("batching.bounded_timeout", 30*time.Second)
	v.SetDefault("batching.max_live_batches", 50)
	v.SetDefault("batching.max_batch_age", 5*time.Minute)

	// 排除规则
	v.SetDefault("exclusions.messenger_folders", []string{
		"/whatsapp/",
		"/telegram/",
		"/viber/",
		"/messenger/",
		"/messages/",
		"pictures/messages",
	})

	// 运行时开关
	v.SetDefault("settings.auto_compress", true)
	v.SetDefault("settings.quality", 80)
	v.SetDefault("settings.include_screenshots", false)
	v.SetDefault("settings.ignore_messenger", true)
	v.SetDefault("settings.save_mode", "separate")

	// 输出
	v.SetDefault("output.app_directory", "FotoFast")
	v.SetDefault("output.compressed_suffix", "_compressed")

	// 并发
	v.SetDefault("concurrency.workers", 0)
	v.SetDefault("concurrency.auto_adjust", true)

	// 外部工具
	v.SetDefault("tools.ffmpeg_path", "ffmpeg")
	v.SetDefault("tools.exiftool_path", "exiftool")

	// 目录监听
	v.SetDefault("watch.directories", []string{})
	v.SetDefault("watch.debounce", 2*time.Second)

	// 历史库
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.dir", "")
	v.SetDefault("history.max_age", 30*24*time.Hour)

	// 日志
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.enable_file", false)
	v.SetDefault("logging.enable_console", true)
	v.SetDefault("logging.log_dir", "./logs")
}
