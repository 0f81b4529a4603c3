package collector

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/shirou/gopsutil/v4/sensors"
)

// Source 指标采集接口。采集失败时返回错误，绝不伪造读数。
type Source interface {
	ReadCPU(ctx context.Context) (float64, error)
	ReadMemory(ctx context.Context) (percent float64, usedMB float64, err error)
	ReadSwap(ctx context.Context) (float64, error)
	ReadDisk(ctx context.Context, path string) (float64, error)
	ReadTemperatures(ctx context.Context) ([]SensorTemp, error)
	Ping(ctx context.Context, host string, timeout time.Duration) (bool, error)
	ServiceState(ctx context.Context, name string) (string, error)
	ProcessPresent(ctx context.Context, name string) (bool, error)
	PortState(ctx context.Context, port int) (listening bool, boundIP string, err error)
	ZombieCount(ctx context.Context) (int, error)
	TopCPUProcesses(ctx context.Context, limit int) ([]ProcessSample, error)
}

// SystemSource 基于 gopsutil / pro-bing / systemctl 的真实采集实现
type SystemSource struct{}

// NewSystemSource 创建系统指标采集器
func NewSystemSource() *SystemSource {
	return &SystemSource{}
}

// ReadCPU 采集整机 CPU 使用率（短暂采样取平均）
func (s *SystemSource) ReadCPU(ctx context.Context) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err != nil {
		return 0, fmt.Errorf("采集 CPU 使用率失败: %w", err)
	}
	if len(percents) == 0 {
		return 0, fmt.Errorf("采集 CPU 使用率失败: 无返回数据")
	}
	return percents[0], nil
}

// ReadMemory 采集内存使用率与已用量
func (s *SystemSource) ReadMemory(ctx context.Context) (float64, float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("采集内存信息失败: %w", err)
	}
	return vm.UsedPercent, float64(vm.Used) / 1024 / 1024, nil
}

// ReadSwap 采集交换分区使用率
func (s *SystemSource) ReadSwap(ctx context.Context) (float64, error) {
	swap, err := mem.SwapMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("采集交换分区信息失败: %w", err)
	}
	return swap.UsedPercent, nil
}

// ReadDisk 采集指定挂载点的磁盘使用率
func (s *SystemSource) ReadDisk(ctx context.Context, path string) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("采集磁盘使用率失败 (%s): %w", path, err)
	}
	return usage.UsedPercent, nil
}

// ReadTemperatures 采集各传感器温度。
// 主机没有温度传感器时返回空列表，不视为错误。
func (s *SystemSource) ReadTemperatures(ctx context.Context) ([]SensorTemp, error) {
	stats, err := sensors.TemperaturesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("采集传感器温度失败: %w", err)
	}
	temps := make([]SensorTemp, 0, len(stats))
	for _, stat := range stats {
		temps = append(temps, SensorTemp{Name: stat.SensorKey, Celsius: stat.Temperature})
	}
	return temps, nil
}

// Ping 检查目标主机的 ICMP 连通性
func (s *SystemSource) Ping(ctx context.Context, host string, timeout time.Duration) (bool, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return false, fmt.Errorf("创建 pinger 失败: %w", err)
	}
	pinger.Count = 3
	pinger.Timeout = timeout
	pinger.Interval = 100 * time.Millisecond

	// 优先尝试非特权模式（UDP），失败后回退到特权模式
	pinger.SetPrivileged(false)
	if err = pinger.RunWithContext(ctx); err != nil {
		pinger.SetPrivileged(true)
		if err = pinger.RunWithContext(ctx); err != nil {
			return false, fmt.Errorf("执行 ping 失败: %w", err)
		}
	}

	stats := pinger.Statistics()
	return stats.PacketsRecv > 0, nil
}

// mapServiceState 把 systemctl is-active 的输出归一为 active / inactive / unknown。
// 过渡状态也算有效读数：reloading 期间服务仍在运行，activating 尚未就绪。
func mapServiceState(raw string) (string, bool) {
	switch raw {
	case "active", "reloading", "refreshing":
		return "active", true
	case "inactive", "failed", "activating", "deactivating":
		return "inactive", true
	}
	return "unknown", false
}

// ServiceState 查询 systemd 服务状态
func (s *SystemSource) ServiceState(ctx context.Context, name string) (string, error) {
	out, err := exec.CommandContext(ctx, "systemctl", "is-active", name).Output()
	// systemctl is-active 对非 active 状态返回非零退出码，输出仍然有效
	state, ok := mapServiceState(strings.TrimSpace(string(out)))
	if !ok && err != nil {
		return "unknown", fmt.Errorf("查询服务状态失败 (%s): %w", name, err)
	}
	return state, nil
}

// ProcessPresent 检查指定名称的进程是否存在
func (s *SystemSource) ProcessPresent(ctx context.Context, name string) (bool, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return false, fmt.Errorf("枚举进程失败: %w", err)
	}
	target := strings.ToLower(name)
	for _, p := range procs {
		pname, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if strings.ToLower(pname) == target {
			return true, nil
		}
	}
	return false, nil
}

// PortState 检查 TCP 端口的监听状态与绑定地址
func (s *SystemSource) PortState(ctx context.Context, port int) (bool, string, error) {
	conns, err := gopsnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return false, "", fmt.Errorf("枚举 TCP 连接失败: %w", err)
	}
	for _, conn := range conns {
		if conn.Status == "LISTEN" && int(conn.Laddr.Port) == port {
			return true, conn.Laddr.IP, nil
		}
	}
	return false, "", nil
}

// ZombieCount 统计僵尸状态的进程数量
func (s *SystemSource) ZombieCount(ctx context.Context) (int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("枚举进程失败: %w", err)
	}
	count := 0
	for _, p := range procs {
		statuses, err := p.StatusWithContext(ctx)
		if err != nil {
			continue
		}
		for _, status := range statuses {
			if status == process.Zombie {
				count++
				break
			}
		}
	}
	return count, nil
}

// TopCPUProcesses 返回 CPU 占用最高的若干进程
func (s *SystemSource) TopCPUProcesses(ctx context.Context, limit int) ([]ProcessSample, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("枚举进程失败: %w", err)
	}

	samples := make([]ProcessSample, 0, len(procs))
	for _, p := range procs {
		percent, err := p.CPUPercentWithContext(ctx)
		if err != nil {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		username, _ := p.UsernameWithContext(ctx)
		samples = append(samples, ProcessSample{
			PID:        p.Pid,
			Name:       name,
			Username:   username,
			CPUPercent: percent,
		})
	}

	sort.Slice(samples, func(i, j int) bool {
		return samples[i].CPUPercent > samples[j].CPUPercent
	})
	if len(samples) > limit {
		samples = samples[:limit]
	}
	return samples, nil
}
