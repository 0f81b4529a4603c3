package collector

import (
	"context"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/dushixiang/argus/internal/config"
)

// topProcessLimit CPU 自愈候选进程的采样数量
const topProcessLimit = 10

// Collect 按配置并发采集所有启用的检查项，全部完成后返回完整快照。
// 单项采集失败只记录在对应读数的 Err 中，不影响其它检查项。
func Collect(ctx context.Context, src Source, cfg *config.Config) *Snapshot {
	snap := &Snapshot{Timestamp: time.Now()}

	var wg conc.WaitGroup

	if cfg.Checks.CPU.Enabled {
		wg.Go(func() {
			snap.CPU.Checked = true
			snap.CPU.Percent, snap.CPU.Err = src.ReadCPU(ctx)

			// 仅在启用 CPU 自愈时才需要进程采样，枚举失败留给自愈控制器判读
			if cfg.Heal.Enabled && cfg.Heal.CPUKill.Enabled {
				snap.TopProcesses, snap.TopProcessesErr = src.TopCPUProcesses(ctx, topProcessLimit)
			}
		})
	}

	if cfg.Checks.Memory.Enabled {
		wg.Go(func() {
			snap.Memory.Checked = true
			snap.Memory.Percent, snap.Memory.UsedMB, snap.Memory.Err = src.ReadMemory(ctx)
		})
	}

	if cfg.Checks.Swap.Enabled {
		wg.Go(func() {
			snap.Swap.Checked = true
			snap.Swap.Percent, snap.Swap.Err = src.ReadSwap(ctx)
		})
	}

	if cfg.Checks.Disk.Enabled {
		wg.Go(func() {
			snap.Disk.Checked = true
			snap.Disk.Path = cfg.Checks.Disk.Path
			snap.Disk.Percent, snap.Disk.Err = src.ReadDisk(ctx, cfg.Checks.Disk.Path)
		})
	}

	if cfg.Checks.Network.Enabled {
		wg.Go(func() {
			snap.Network.Checked = true
			snap.Network.Host = cfg.Checks.Network.Host
			timeout := time.Duration(cfg.Checks.Network.TimeoutSeconds) * time.Second
			snap.Network.Reachable, snap.Network.Err = src.Ping(ctx, cfg.Checks.Network.Host, timeout)
		})
	}

	if cfg.Checks.Service.Enabled {
		wg.Go(func() {
			snap.Service.Checked = true
			snap.Service.Name = cfg.Checks.Service.Name
			snap.Service.State, snap.Service.Err = src.ServiceState(ctx, cfg.Checks.Service.Name)
			if snap.Service.Err == nil {
				running, err := src.ProcessPresent(ctx, cfg.Checks.Service.Name)
				snap.Service.ProcessRunning = running
				snap.Service.Err = err
			}
		})
	}

	if cfg.Checks.Port.Enabled {
		wg.Go(func() {
			snap.Port.Checked = true
			snap.Port.Port = cfg.Checks.Port.Port
			snap.Port.Listening, snap.Port.BoundIP, snap.Port.Err = src.PortState(ctx, cfg.Checks.Port.Port)
		})
	}

	if cfg.Checks.Temperature.Enabled {
		wg.Go(func() {
			snap.Temperature.Checked = true
			snap.Temperature.Sensors, snap.Temperature.Err = src.ReadTemperatures(ctx)
		})
	}

	if cfg.Checks.Zombies.Enabled {
		wg.Go(func() {
			snap.Zombies.Checked = true
			snap.Zombies.Count, snap.Zombies.Err = src.ZombieCount(ctx)
		})
	}

	// 诊断必须基于完整快照，等待全部采集结束
	wg.Wait()
	return snap
}
