package diagnose

import (
	"fmt"

	"github.com/dushixiang/argus/internal/collector"
	"github.com/dushixiang/argus/internal/config"
)

// 各子系统标识
const (
	SubsystemCPU         = "cpu"
	SubsystemMemory      = "memory"
	SubsystemSwap        = "swap"
	SubsystemDisk        = "disk"
	SubsystemNetwork     = "network"
	SubsystemService     = "service"
	SubsystemPort        = "port"
	SubsystemTemperature = "temperature"
	SubsystemProcesses   = "processes"
)

// Check 单个子系统的诊断结论
type Check struct {
	Subsystem string
	Status    HealthStatus
	AlertKey  string // 同一类事件始终映射到同一个冷却槽位
	Summary   string
	Detail    string
	// HealEligible 进程/服务检查专用：仅当期望状态为 active 时才允许自愈
	HealEligible bool
}

// Result 一次完整诊断的结果，整体状态取所有检查项中最严重者
type Result struct {
	Checks  []Check
	Overall HealthStatus
}

// NonNominal 返回所有异常检查项
func (r Result) NonNominal() []Check {
	var out []Check
	for _, c := range r.Checks {
		if c.Status != StatusNominal {
			out = append(out, c)
		}
	}
	return out
}

// Find 按子系统查找检查项
func (r Result) Find(subsystem string) (Check, bool) {
	for _, c := range r.Checks {
		if c.Subsystem == subsystem {
			return c, true
		}
	}
	return Check{}, false
}

// Diagnose 将一份快照与阈值配置映射为诊断结果。
// 纯函数：相同输入恒得相同输出，无任何副作用。
func Diagnose(snap *collector.Snapshot, cfg *config.Config) Result {
	var result Result

	if snap.CPU.Checked {
		result.Checks = append(result.Checks, diagnoseCPU(snap.CPU, cfg.Checks.CPU))
	}
	if snap.Memory.Checked {
		result.Checks = append(result.Checks, diagnoseMemory(snap.Memory, cfg.Checks.Memory))
	}
	if snap.Swap.Checked {
		result.Checks = append(result.Checks, diagnoseSwap(snap.Swap, cfg.Checks.Swap))
	}
	if snap.Disk.Checked {
		result.Checks = append(result.Checks, diagnoseDisk(snap.Disk, cfg.Checks.Disk))
	}
	if snap.Network.Checked {
		result.Checks = append(result.Checks, diagnoseNetwork(snap.Network))
	}
	if snap.Service.Checked {
		result.Checks = append(result.Checks, diagnoseService(snap.Service, cfg.Checks.Service))
	}
	if snap.Port.Checked {
		result.Checks = append(result.Checks, diagnosePort(snap.Port, cfg.Checks.Port))
	}
	if snap.Temperature.Checked {
		result.Checks = append(result.Checks, diagnoseTemperature(snap.Temperature, cfg.Checks.Temperature)...)
	}
	if snap.Zombies.Checked {
		result.Checks = append(result.Checks, diagnoseZombies(snap.Zombies, cfg.Checks.Zombies))
	}

	result.Overall = StatusNominal
	for _, c := range result.Checks {
		result.Overall = worse(result.Overall, c.Status)
	}
	return result
}

func diagnoseCPU(r collector.CPUReading, cfg config.ThresholdCheck) Check {
	check := Check{Subsystem: SubsystemCPU, Status: StatusNominal}
	if r.Err != nil {
		check.Status = StatusError
		check.AlertKey = "CPU_READ_ERROR"
		check.Summary = "CPU 读数采集失败"
		check.Detail = r.Err.Error()
		return check
	}
	if r.Percent > cfg.Threshold {
		check.Status = StatusWarning
		check.AlertKey = "CPU_HIGH"
		check.Summary = "CPU 使用率过高"
		check.Detail = fmt.Sprintf("CPU 使用率 %.1f%% 超过阈值 %.1f%%", r.Percent, cfg.Threshold)
		return check
	}
	check.Detail = fmt.Sprintf("CPU 使用率 %.1f%%", r.Percent)
	return check
}

func diagnoseMemory(r collector.MemoryReading, cfg config.ThresholdCheck) Check {
	check := Check{Subsystem: SubsystemMemory, Status: StatusNominal}
	if r.Err != nil {
		check.Status = StatusError
		check.AlertKey = "MEM_READ_ERROR"
		check.Summary = "内存读数采集失败"
		check.Detail = r.Err.Error()
		return check
	}
	if r.Percent > cfg.Threshold {
		check.Status = StatusWarning
		check.AlertKey = "MEM_HIGH"
		check.Summary = "内存使用率过高"
		check.Detail = fmt.Sprintf("内存使用率 %.1f%%（已用 %.0fMB）超过阈值 %.1f%%", r.Percent, r.UsedMB, cfg.Threshold)
		return check
	}
	check.Detail = fmt.Sprintf("内存使用率 %.1f%%（已用 %.0fMB）", r.Percent, r.UsedMB)
	return check
}

func diagnoseSwap(r collector.SwapReading, cfg config.ThresholdCheck) Check {
	check := Check{Subsystem: SubsystemSwap, Status: StatusNominal}
	if r.Err != nil {
		check.Status = StatusError
		check.AlertKey = "SWAP_READ_ERROR"
		check.Summary = "交换分区读数采集失败"
		check.Detail = r.Err.Error()
		return check
	}
	if r.Percent > cfg.Threshold {
		check.Status = StatusWarning
		check.AlertKey = "SWAP_HIGH"
		check.Summary = "交换分区使用率过高"
		check.Detail = fmt.Sprintf("交换分区使用率 %.1f%% 超过阈值 %.1f%%", r.Percent, cfg.Threshold)
		return check
	}
	check.Detail = fmt.Sprintf("交换分区使用率 %.1f%%", r.Percent)
	return check
}

func diagnoseDisk(r collector.DiskReading, cfg config.DiskCheck) Check {
	check := Check{Subsystem: SubsystemDisk, Status: StatusNominal}
	if r.Err != nil {
		check.Status = StatusError
		check.AlertKey = "DISK_READ_ERROR"
		check.Summary = "磁盘读数采集失败"
		check.Detail = r.Err.Error()
		return check
	}
	if r.Percent > cfg.Threshold {
		check.Status = StatusWarning
		check.AlertKey = "DISK_HIGH_" + r.Path
		check.Summary = "磁盘空间不足"
		check.Detail = fmt.Sprintf("磁盘 %s 使用率 %.1f%% 超过阈值 %.1f%%", r.Path, r.Percent, cfg.Threshold)
		return check
	}
	check.Detail = fmt.Sprintf("磁盘 %s 使用率 %.1f%%", r.Path, r.Percent)
	return check
}

func diagnoseNetwork(r collector.NetworkReading) Check {
	check := Check{Subsystem: SubsystemNetwork, Status: StatusNominal}
	if r.Err != nil {
		check.Status = StatusError
		check.AlertKey = "NET_READ_ERROR"
		check.Summary = "网络检查执行失败"
		check.Detail = r.Err.Error()
		return check
	}
	if !r.Reachable {
		check.Status = StatusWarning
		check.AlertKey = "NET_DOWN"
		check.Summary = "网络不可达"
		check.Detail = fmt.Sprintf("无法连通 %s", r.Host)
		return check
	}
	check.Detail = fmt.Sprintf("网络连通正常 (%s)", r.Host)
	return check
}

func diagnoseService(r collector.ServiceReading, cfg config.ServiceCheck) Check {
	check := Check{Subsystem: SubsystemService, Status: StatusNominal}
	if r.Err != nil {
		check.Status = StatusError
		check.AlertKey = "SVC_READ_ERROR_" + r.Name
		check.Summary = "服务状态采集失败"
		check.Detail = r.Err.Error()
		return check
	}

	active := r.State == "active"
	var mismatch bool
	switch cfg.ExpectedState {
	case "active":
		mismatch = !active || !r.ProcessRunning
	case "inactive":
		mismatch = active || r.ProcessRunning
	}

	if mismatch {
		check.Status = StatusWarning
		check.AlertKey = "PROC_SVC_STATE_" + r.Name
		check.Summary = "服务状态与期望不符"
		check.Detail = fmt.Sprintf("服务 %s 期望 %s，实际服务状态 %s，进程存在=%v",
			r.Name, cfg.ExpectedState, r.State, r.ProcessRunning)
		// 只向 active 方向自愈，绝不通过杀进程去达成 inactive 期望
		check.HealEligible = cfg.ExpectedState == "active"
		return check
	}
	check.Detail = fmt.Sprintf("服务 %s 状态正常 (%s)", r.Name, r.State)
	return check
}

// diagnoseTemperature 每个超温传感器各产出一条检查结论，
// 各自拥有独立的告警冷却槽位。高温属于硬件风险，定级 CRITICAL。
func diagnoseTemperature(r collector.TemperatureReading, cfg config.TempCheck) []Check {
	if r.Err != nil {
		return []Check{{
			Subsystem: SubsystemTemperature,
			Status:    StatusError,
			AlertKey:  "TEMP_READ_ERROR",
			Summary:   "传感器温度采集失败",
			Detail:    r.Err.Error(),
		}}
	}

	var checks []Check
	for _, sensor := range r.Sensors {
		if sensor.Celsius > cfg.Threshold {
			checks = append(checks, Check{
				Subsystem: SubsystemTemperature,
				Status:    StatusCritical,
				AlertKey:  "TEMP_HIGH_" + sensor.Name,
				Summary:   "传感器温度过高",
				Detail: fmt.Sprintf("传感器 %s 温度 %.1f°C 超过阈值 %.1f°C",
					sensor.Name, sensor.Celsius, cfg.Threshold),
			})
		}
	}
	if len(checks) == 0 {
		checks = append(checks, Check{
			Subsystem: SubsystemTemperature,
			Status:    StatusNominal,
			Detail:    fmt.Sprintf("全部 %d 个传感器温度正常", len(r.Sensors)),
		})
	}
	return checks
}

func diagnoseZombies(r collector.ZombieReading, cfg config.ZombieCheck) Check {
	check := Check{Subsystem: SubsystemProcesses, Status: StatusNominal}
	if r.Err != nil {
		check.Status = StatusError
		check.AlertKey = "ZOMBIE_READ_ERROR"
		check.Summary = "僵尸进程统计失败"
		check.Detail = r.Err.Error()
		return check
	}
	if r.Count > cfg.Threshold {
		check.Status = StatusWarning
		check.AlertKey = "ZOMBIES_HIGH"
		check.Summary = "僵尸进程过多"
		check.Detail = fmt.Sprintf("僵尸进程数量 %d 超过阈值 %d", r.Count, cfg.Threshold)
		return check
	}
	check.Detail = fmt.Sprintf("僵尸进程数量 %d", r.Count)
	return check
}

func diagnosePort(r collector.PortReading, cfg config.PortCheck) Check {
	check := Check{Subsystem: SubsystemPort, Status: StatusNominal}
	if r.Err != nil {
		check.Status = StatusError
		check.AlertKey = fmt.Sprintf("PORT_READ_ERROR_%d", r.Port)
		check.Summary = "端口状态采集失败"
		check.Detail = r.Err.Error()
		return check
	}

	switch cfg.ExpectedState {
	case "listening":
		if !r.Listening {
			check.Status = StatusWarning
			check.AlertKey = fmt.Sprintf("PORT_NOT_LISTENING_%d", r.Port)
			check.Summary = "端口未监听"
			check.Detail = fmt.Sprintf("端口 %d 期望处于监听状态，实际无监听", r.Port)
			return check
		}
		if cfg.ExpectedIP != "" && cfg.ExpectedIP != "any" && r.BoundIP != cfg.ExpectedIP {
			check.Status = StatusWarning
			check.AlertKey = fmt.Sprintf("PORT_WRONG_IP_%d", r.Port)
			check.Summary = "端口绑定地址不符"
			check.Detail = fmt.Sprintf("端口 %d 期望绑定 %s，实际绑定 %s", r.Port, cfg.ExpectedIP, r.BoundIP)
			return check
		}
	case "clear":
		if r.Listening {
			check.Status = StatusWarning
			check.AlertKey = fmt.Sprintf("PORT_UNEXPECTED_%d", r.Port)
			check.Summary = "端口被意外监听"
			check.Detail = fmt.Sprintf("端口 %d 期望空闲，实际被 %s 监听", r.Port, r.BoundIP)
			return check
		}
	}
	check.Detail = fmt.Sprintf("端口 %d 状态正常", r.Port)
	return check
}
