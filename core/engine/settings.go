package engine

import (
	"fotofast/config"
)

// ConfigSettings 把配置层适配成核心消费的 Settings 协作方
// 配置支持热重载，这里每次取值都读最新快照
type ConfigSettings struct {
	manager *config.Manager
}

// NewConfigSettings 创建配置适配器
func NewConfigSettings(manager *config.Manager) *ConfigSettings {
	return &ConfigSettings{manager: manager}
}

// AutoCompressEnabled 自动压缩总开关
func (cs *ConfigSettings) AutoCompressEnabled() bool {
	return cs.manager.Get().Settings.AutoCompress
}

// Quality 压缩质量
func (cs *ConfigSettings) Quality() int {
	return cs.manager.Get().Settings.Quality
}

// IncludeScreenshots 是否压缩截图
func (cs *ConfigSettings) IncludeScreenshots() bool {
	return cs.manager.Get().Settings.IncludeScreenshots
}

// IgnoreMessengerPhotos 是否忽略聊天应用照片
func (cs *ConfigSettings) IgnoreMessengerPhotos() bool {
	return cs.manager.Get().Settings.IgnoreMessenger
}

// SaveMode 保存模式
func (cs *ConfigSettings) SaveMode() SaveMode {
	if cs.manager.Get().Settings.SaveMode == "overwrite" {
		return SaveModeOverwrite
	}
	return SaveModeSeparate
}
