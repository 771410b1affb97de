package controllers

import (
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/mem"

	"EmbyToolbox/internal/helpers"
)

// systemStatus 运行环境概览：版本、CPU、内存、磁盘、系统在线时长
func (h *handlers) systemStatus(c *gin.Context) {
	status := gin.H{
		"version":      helpers.Version,
		"release_date": helpers.ReleaseDate,
		"go_version":   runtime.Version(),
		"os":           runtime.GOOS,
		"arch":         runtime.GOARCH,
		"server_time":  time.Now().Format(time.RFC3339),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		status["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		status["memory"] = gin.H{
			"total":        vm.Total,
			"used":         vm.Used,
			"used_percent": vm.UsedPercent,
		}
	}
	if usage, err := disk.Usage(helpers.DataDir); err == nil {
		status["disk"] = gin.H{
			"total":        usage.Total,
			"used":         usage.Used,
			"used_percent": usage.UsedPercent,
		}
	}
	if uptime, err := host.Uptime(); err == nil {
		status["uptime_seconds"] = uptime
	}
	ok(c, status)
}
