// Package sysinfo 探测系统资源，为压缩工作池计算合适的并发度
package sysinfo

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// perWorkerMemoryMB 单个压缩工作器的估算内存占用
const perWorkerMemoryMB = 256

// RecommendedWorkers 按CPU核数与可用内存推荐工作器数量
// configured>0 时直接采用配置值
func RecommendedWorkers(configured int, logger *zap.Logger) int {
	if configured > 0 {
		return configured
	}

	workers := runtime.NumCPU()
	if counts, err := cpu.Counts(true); err == nil && counts > 0 {
		workers = counts
	}

	// 内存吃紧时压低并发，压缩子进程各自还要占一份
	if vm, err := mem.VirtualMemory(); err == nil {
		byMemory := int(vm.Available / (perWorkerMemoryMB * 1024 * 1024))
		if byMemory > 0 && byMemory < workers {
			logger.Debug("按可用内存压低并发",
				zap.Int("by_cpu", workers),
				zap.Int("by_memory", byMemory),
				zap.Uint64("available_mb", vm.Available/1024/1024))
			workers = byMemory
		}
	}

	if workers < 1 {
		workers = 1
	}
	if workers > 16 {
		workers = 16
	}
	return workers
}
