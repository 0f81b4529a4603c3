package heal

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/dushixiang/argus/internal/collector"
	"github.com/dushixiang/argus/internal/config"
	"github.com/dushixiang/argus/internal/diagnose"
)

// Outcome 一次自愈决策的结果
type Outcome struct {
	Subsystem string
	Action    Action
	Attempted bool
	Succeeded bool
	Reason    string // 未执行时的原因
	Output    string
	Err       error
}

// Controller 自愈控制器：按安全门序列决定是否允许执行修复动作。
// 每个符合条件的事件每周期最多执行一个动作，结果通过告警分发器上报，
// 因此自愈事件同样受冷却控制，不会形成告警风暴。
type Controller struct {
	cfg       *config.Config
	runner    Runner
	reporter  Reporter
	exclusion *ExclusionSet
	logger    *zap.Logger

	// now 可注入的时钟；lastMandb 维护任务节流计时，与告警冷却互相独立
	now       func() time.Time
	lastMandb time.Time
}

// NewController 创建自愈控制器
func NewController(logger *zap.Logger, cfg *config.Config, runner Runner, reporter Reporter, selfPID int32) *Controller {
	return &Controller{
		cfg:       cfg,
		runner:    runner,
		reporter:  reporter,
		exclusion: NewExclusionSet(cfg.Heal.ExcludeProcesses, cfg.Heal.AllowRootProcesses, selfPID),
		logger:    logger,
		now:       time.Now,
	}
}

// MaybeHeal 对诊断结果中的每个异常检查项评估并执行自愈动作
func (c *Controller) MaybeHeal(ctx context.Context, result diagnose.Result, snap *collector.Snapshot) []Outcome {
	if !c.cfg.Heal.Enabled {
		return nil
	}

	var outcomes []Outcome
	for _, check := range result.NonNominal() {
		outcome := Outcome{Subsystem: check.Subsystem}

		// 读数异常的 ERROR 状态含义不明，绝不据此执行修复
		if !check.Status.Healable() {
			outcome.Reason = "读数异常（ERROR），不触发自愈"
			outcomes = append(outcomes, outcome)
			continue
		}

		action, reason, ok := c.plan(check, snap)
		if !ok {
			outcome.Reason = reason
			c.logger.Debug("跳过自愈",
				zap.String("subsystem", check.Subsystem),
				zap.String("reason", reason))
			outcomes = append(outcomes, outcome)
			continue
		}

		outcome.Action = action
		outcome.Attempted = true
		c.execute(ctx, &outcome)
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// plan 为单个异常检查项选择自愈动作，每个事件每周期至多一个
func (c *Controller) plan(check diagnose.Check, snap *collector.Snapshot) (Action, string, bool) {
	heal := c.cfg.Heal

	switch check.Subsystem {
	case diagnose.SubsystemCPU:
		if !heal.CPUKill.Enabled {
			return Action{}, "CPU 自愈未启用", false
		}
		// 枚举失败与「全部被排除」是两回事，前者必须如实上报
		if snap.TopProcessesErr != nil {
			c.logger.Error("进程枚举失败，无法选择终止目标", zap.Error(snap.TopProcessesErr))
			return Action{}, "进程枚举失败，无法选择终止目标", false
		}
		for _, p := range snap.TopProcesses {
			if p.CPUPercent <= 0 {
				continue
			}
			if blocked, why := c.exclusion.Blocked(p); blocked {
				c.logger.Debug("终止目标被排除", zap.String("process", p.Name), zap.String("reason", why))
				continue
			}
			return Action{Kind: ActionKillProcess, PID: p.PID, ProcessName: p.Name}, "", true
		}
		return Action{}, "没有可安全终止的进程", false

	case diagnose.SubsystemMemory:
		if !heal.DropCaches.Enabled {
			return Action{}, "内存自愈未启用", false
		}
		return Action{Kind: ActionDropCaches}, "", true

	case diagnose.SubsystemSwap:
		// 交换分区压力与内存压力同源，复用页缓存释放动作
		if !heal.DropCaches.Enabled {
			return Action{}, "内存自愈未启用", false
		}
		return Action{Kind: ActionDropCaches}, "", true

	case diagnose.SubsystemProcesses:
		if !heal.ZombieReap.Enabled {
			return Action{}, "僵尸进程回收未启用", false
		}
		return Action{Kind: ActionReapZombies}, "", true

	case diagnose.SubsystemDisk:
		if !heal.DiskCleanup.Enabled {
			return Action{}, "磁盘自愈未启用", false
		}
		for _, target := range heal.DiskCleanup.Targets {
			// 空路径视为配置错误而不是「删除一切」，直接放弃该目标
			if target.Path == "" || !filepath.IsAbs(target.Path) || target.Path == "/" {
				c.logger.Error("磁盘清理目标非法，已跳过", zap.String("path", target.Path))
				continue
			}
			if target.MaxAgeDays <= 0 {
				c.logger.Error("磁盘清理目标缺少保留天数，已跳过", zap.String("path", target.Path))
				continue
			}
			return Action{Kind: ActionDeleteStaleFiles, Path: target.Path, MaxAgeDays: target.MaxAgeDays}, "", true
		}
		return Action{}, "没有合法的磁盘清理目标", false

	case diagnose.SubsystemNetwork:
		if !heal.NetworkRestart.Enabled {
			return Action{}, "网络自愈未启用", false
		}
		if len(heal.NetworkRestart.Services) == 0 {
			return Action{}, "未配置网络服务列表", false
		}
		return Action{Kind: ActionRestartService, Service: heal.NetworkRestart.Services[0]}, "", true

	case diagnose.SubsystemService:
		if !heal.RestartService.Enabled {
			return Action{}, "服务自愈未启用", false
		}
		if !check.HealEligible {
			return Action{}, "期望状态为 inactive，不执行自愈", false
		}
		return Action{Kind: ActionRestartService, Service: c.cfg.Checks.Service.Name}, "", true

	default:
		return Action{}, "该类事件没有定义自愈动作", false
	}
}

// execute 同步执行动作并通过告警通道上报结果
func (c *Controller) execute(ctx context.Context, outcome *Outcome) {
	runCtx, cancel := context.WithTimeout(ctx, c.cfg.ActionTimeout())
	defer cancel()

	describe := outcome.Action.Describe()
	c.logger.Warn("执行自愈动作", zap.String("action", describe))

	exitCode, output, err := c.runner.Run(runCtx, outcome.Action)
	outcome.Output = output
	outcome.Err = err

	if err != nil || exitCode != 0 {
		c.logger.Error("自愈动作执行失败",
			zap.String("action", describe),
			zap.Int("exitCode", exitCode),
			zap.String("output", output),
			zap.Error(err))
		c.reporter.Notify("SELF_HEAL_FAIL", "自愈动作执行失败",
			fmt.Sprintf("动作: %s\n退出码: %d\n输出: %s", describe, exitCode, output))
		return
	}

	outcome.Succeeded = true
	c.logger.Warn("自愈动作执行成功", zap.String("action", describe))
	c.reporter.Notify("SELF_HEAL_ATTEMPT", "已执行自愈动作",
		fmt.Sprintf("动作: %s\n输出: %s", describe, output))
}

// MaintainMandb 低优先级维护任务：仅在系统空闲且距上次执行足够久时重建 man 索引。
// 节流计时独立于告警冷却，每周期评估、偶尔执行。
func (c *Controller) MaintainMandb(ctx context.Context, snap *collector.Snapshot) *Outcome {
	mandb := c.cfg.Maintenance.Mandb
	if !mandb.Enabled {
		return nil
	}
	if !snap.CPU.Checked || snap.CPU.Err != nil {
		return nil
	}
	if snap.CPU.Percent >= mandb.CPUPermitPercent {
		c.logger.Debug("CPU 负载过高，跳过 man 索引重建",
			zap.Float64("cpu", snap.CPU.Percent),
			zap.Float64("permit", mandb.CPUPermitPercent))
		return nil
	}

	now := c.now()
	minInterval := time.Duration(mandb.MinIntervalHours) * time.Hour
	if !c.lastMandb.IsZero() && now.Sub(c.lastMandb) < minInterval {
		return nil
	}

	outcome := &Outcome{Action: Action{Kind: ActionRunMandb}, Attempted: true}

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.ActionTimeout())
	defer cancel()

	exitCode, output, err := c.runner.Run(runCtx, outcome.Action)
	outcome.Output = output
	outcome.Err = err
	if err != nil || exitCode != 0 {
		c.logger.Error("man 索引重建失败", zap.Int("exitCode", exitCode), zap.String("output", output), zap.Error(err))
		return outcome
	}

	outcome.Succeeded = true
	c.lastMandb = now
	c.logger.Info("man 索引重建完成")
	return outcome
}
