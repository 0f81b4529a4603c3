package heal

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dushixiang/argus/internal/alert"
	"github.com/dushixiang/argus/internal/collector"
	"github.com/dushixiang/argus/internal/config"
	"github.com/dushixiang/argus/internal/diagnose"
)

// fakeRunner 记录执行过的动作，可注入失败
type fakeRunner struct {
	actions  []Action
	exitCode int
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, action Action) (int, string, error) {
	f.actions = append(f.actions, action)
	return f.exitCode, "输出", f.err
}

// fakeReporter 记录上报过的 AlertKey
type fakeReporter struct {
	keys []string
}

func (f *fakeReporter) Notify(key, summary, detail string) alert.Outcome {
	f.keys = append(f.keys, key)
	return alert.Sent
}

func healingConfig() *config.Config {
	cfg := config.Default()
	cfg.Heal.Enabled = true
	cfg.Heal.CPUKill.Enabled = true
	cfg.Heal.DropCaches.Enabled = true
	cfg.Heal.RestartService.Enabled = true
	cfg.Heal.ZombieReap.Enabled = true
	cfg.Heal.ActionTimeoutSeconds = 60
	return cfg
}

func newTestController(cfg *config.Config, runner Runner, reporter Reporter) *Controller {
	return NewController(zap.NewNop(), cfg, runner, reporter, 9999)
}

func warningCheck(subsystem, key string) diagnose.Check {
	return diagnose.Check{Subsystem: subsystem, Status: diagnose.StatusWarning, AlertKey: key}
}

func TestMaybeHealDisabled(t *testing.T) {
	cfg := healingConfig()
	cfg.Heal.Enabled = false
	runner := &fakeRunner{}
	c := newTestController(cfg, runner, &fakeReporter{})

	result := diagnose.Result{Checks: []diagnose.Check{warningCheck(diagnose.SubsystemMemory, "MEM_HIGH")}}
	outcomes := c.MaybeHeal(context.Background(), result, &collector.Snapshot{})

	if outcomes != nil {
		t.Error("自愈未启用时不应产生任何结果")
	}
	if len(runner.actions) != 0 {
		t.Errorf("自愈未启用时不应执行任何动作，实际执行 %d 个", len(runner.actions))
	}
}

func TestMaybeHealNeverHealsError(t *testing.T) {
	cfg := healingConfig()
	runner := &fakeRunner{}
	c := newTestController(cfg, runner, &fakeReporter{})

	result := diagnose.Result{Checks: []diagnose.Check{
		{Subsystem: diagnose.SubsystemCPU, Status: diagnose.StatusError, AlertKey: "CPU_READ_ERROR"},
	}}
	outcomes := c.MaybeHeal(context.Background(), result, &collector.Snapshot{})

	if len(outcomes) != 1 || outcomes[0].Attempted {
		t.Error("ERROR 状态绝不应触发自愈动作")
	}
	if len(runner.actions) != 0 {
		t.Errorf("不应执行任何动作，实际执行 %d 个", len(runner.actions))
	}
}

func TestMaybeHealCPUKillRespectsExclusion(t *testing.T) {
	cfg := healingConfig()
	runner := &fakeRunner{}
	c := newTestController(cfg, runner, &fakeReporter{})

	snap := &collector.Snapshot{TopProcesses: []collector.ProcessSample{
		{PID: 9999, Name: "argus-self", Username: "argus", CPUPercent: 95}, // 探针自身
		{PID: 1, Name: "systemd", Username: "root", CPUPercent: 90},        // PID 1
		{PID: 200, Name: "sshd", Username: "root", CPUPercent: 80},         // 排除列表
		{PID: 300, Name: "postgres", Username: "root", CPUPercent: 70},     // root 且未被允许
		{PID: 400, Name: "stress", Username: "app", CPUPercent: 60},        // 合法目标
	}}

	result := diagnose.Result{Checks: []diagnose.Check{warningCheck(diagnose.SubsystemCPU, "CPU_HIGH")}}
	outcomes := c.MaybeHeal(context.Background(), result, snap)

	if len(outcomes) != 1 || !outcomes[0].Attempted {
		t.Fatal("应执行一个终止动作")
	}
	if len(runner.actions) != 1 {
		t.Fatalf("应只执行 1 个动作，实际 %d 个", len(runner.actions))
	}
	action := runner.actions[0]
	if action.Kind != ActionKillProcess || action.PID != 400 {
		t.Errorf("应终止 PID 400 (stress)，实际 %s PID %d", action.Kind, action.PID)
	}
}

func TestMaybeHealCPUKillNoSafeTarget(t *testing.T) {
	cfg := healingConfig()
	runner := &fakeRunner{}
	c := newTestController(cfg, runner, &fakeReporter{})

	snap := &collector.Snapshot{TopProcesses: []collector.ProcessSample{
		{PID: 200, Name: "sshd", Username: "root", CPUPercent: 80},
	}}

	result := diagnose.Result{Checks: []diagnose.Check{warningCheck(diagnose.SubsystemCPU, "CPU_HIGH")}}
	outcomes := c.MaybeHeal(context.Background(), result, snap)

	if len(outcomes) != 1 || outcomes[0].Attempted {
		t.Error("没有合法目标时不应执行动作")
	}
	if outcomes[0].Reason == "" {
		t.Error("未执行时应给出原因")
	}
}

func TestMaybeHealCPUKillEnumerationFailure(t *testing.T) {
	cfg := healingConfig()
	runner := &fakeRunner{}
	c := newTestController(cfg, runner, &fakeReporter{})

	snap := &collector.Snapshot{TopProcessesErr: errors.New("枚举进程失败")}

	result := diagnose.Result{Checks: []diagnose.Check{warningCheck(diagnose.SubsystemCPU, "CPU_HIGH")}}
	outcomes := c.MaybeHeal(context.Background(), result, snap)

	if len(outcomes) != 1 || outcomes[0].Attempted {
		t.Fatal("枚举失败时不应执行动作")
	}
	if outcomes[0].Reason != "进程枚举失败，无法选择终止目标" {
		t.Errorf("枚举失败应与「没有可安全终止的进程」区分开，实际原因 %q", outcomes[0].Reason)
	}
	if len(runner.actions) != 0 {
		t.Error("不应执行任何动作")
	}
}

func TestMaybeHealSwapDropsCaches(t *testing.T) {
	cfg := healingConfig()
	runner := &fakeRunner{}
	c := newTestController(cfg, runner, &fakeReporter{})

	result := diagnose.Result{Checks: []diagnose.Check{warningCheck(diagnose.SubsystemSwap, "SWAP_HIGH")}}
	outcomes := c.MaybeHeal(context.Background(), result, &collector.Snapshot{})

	if len(outcomes) != 1 || !outcomes[0].Attempted {
		t.Fatal("交换分区告警应触发页缓存释放")
	}
	if runner.actions[0].Kind != ActionDropCaches {
		t.Errorf("动作类型应为 DROP_CACHES，实际 %s", runner.actions[0].Kind)
	}
}

func TestMaybeHealZombieReap(t *testing.T) {
	t.Run("启用时执行回收", func(t *testing.T) {
		cfg := healingConfig()
		runner := &fakeRunner{}
		c := newTestController(cfg, runner, &fakeReporter{})

		result := diagnose.Result{Checks: []diagnose.Check{warningCheck(diagnose.SubsystemProcesses, "ZOMBIES_HIGH")}}
		outcomes := c.MaybeHeal(context.Background(), result, &collector.Snapshot{})

		if len(outcomes) != 1 || !outcomes[0].Attempted {
			t.Fatal("僵尸进程告警应触发回收动作")
		}
		if runner.actions[0].Kind != ActionReapZombies {
			t.Errorf("动作类型应为 REAP_ZOMBIES，实际 %s", runner.actions[0].Kind)
		}
	})

	t.Run("未启用时跳过", func(t *testing.T) {
		cfg := healingConfig()
		cfg.Heal.ZombieReap.Enabled = false
		runner := &fakeRunner{}
		c := newTestController(cfg, runner, &fakeReporter{})

		result := diagnose.Result{Checks: []diagnose.Check{warningCheck(diagnose.SubsystemProcesses, "ZOMBIES_HIGH")}}
		outcomes := c.MaybeHeal(context.Background(), result, &collector.Snapshot{})

		if len(outcomes) != 1 || outcomes[0].Attempted {
			t.Error("回收未启用时不应执行动作")
		}
		if len(runner.actions) != 0 {
			t.Error("不应执行任何动作")
		}
	})
}

func TestMaybeHealAllowedRootProcess(t *testing.T) {
	cfg := healingConfig()
	cfg.Heal.AllowRootProcesses = []string{"stress-ng"}
	runner := &fakeRunner{}
	c := newTestController(cfg, runner, &fakeReporter{})

	snap := &collector.Snapshot{TopProcesses: []collector.ProcessSample{
		{PID: 500, Name: "stress-ng", Username: "root", CPUPercent: 99},
	}}

	result := diagnose.Result{Checks: []diagnose.Check{warningCheck(diagnose.SubsystemCPU, "CPU_HIGH")}}
	outcomes := c.MaybeHeal(context.Background(), result, snap)

	if len(outcomes) != 1 || !outcomes[0].Attempted {
		t.Error("明确允许的 root 进程应可被终止")
	}
}

func TestMaybeHealDiskSkipsInvalidTargets(t *testing.T) {
	cfg := healingConfig()
	cfg.Heal.DiskCleanup.Enabled = true
	cfg.Heal.DiskCleanup.Targets = []config.CleanupTarget{
		{Path: "", MaxAgeDays: 7},          // 空路径是配置错误
		{Path: "/", MaxAgeDays: 7},         // 根目录禁止清理
		{Path: "relative/dir", MaxAgeDays: 7},
		{Path: "/var/log/app", MaxAgeDays: 0}, // 缺少保留天数
		{Path: "/var/tmp/app", MaxAgeDays: 7}, // 合法目标
	}
	runner := &fakeRunner{}
	c := newTestController(cfg, runner, &fakeReporter{})

	result := diagnose.Result{Checks: []diagnose.Check{warningCheck(diagnose.SubsystemDisk, "DISK_HIGH_/")}}
	outcomes := c.MaybeHeal(context.Background(), result, &collector.Snapshot{})

	if len(outcomes) != 1 || !outcomes[0].Attempted {
		t.Fatal("应在合法目标上执行清理动作")
	}
	action := runner.actions[0]
	if action.Kind != ActionDeleteStaleFiles || action.Path != "/var/tmp/app" {
		t.Errorf("应清理 /var/tmp/app，实际 %s %s", action.Kind, action.Path)
	}
}

func TestMaybeHealDiskNoValidTarget(t *testing.T) {
	cfg := healingConfig()
	cfg.Heal.DiskCleanup.Enabled = true
	cfg.Heal.DiskCleanup.Targets = []config.CleanupTarget{{Path: "", MaxAgeDays: 7}}
	runner := &fakeRunner{}
	c := newTestController(cfg, runner, &fakeReporter{})

	result := diagnose.Result{Checks: []diagnose.Check{warningCheck(diagnose.SubsystemDisk, "DISK_HIGH_/")}}
	outcomes := c.MaybeHeal(context.Background(), result, &collector.Snapshot{})

	if len(outcomes) != 1 || outcomes[0].Attempted {
		t.Error("没有合法清理目标时应放弃动作而不是清理根目录")
	}
	if len(runner.actions) != 0 {
		t.Error("不应执行任何清理动作")
	}
}

func TestMaybeHealServiceOnlyWhenEligible(t *testing.T) {
	cfg := healingConfig()
	cfg.Checks.Service.Name = "nginx"
	runner := &fakeRunner{}
	c := newTestController(cfg, runner, &fakeReporter{})

	t.Run("期望 active 允许重启", func(t *testing.T) {
		check := warningCheck(diagnose.SubsystemService, "PROC_SVC_STATE_nginx")
		check.HealEligible = true
		outcomes := c.MaybeHeal(context.Background(),
			diagnose.Result{Checks: []diagnose.Check{check}}, &collector.Snapshot{})

		if len(outcomes) != 1 || !outcomes[0].Attempted {
			t.Fatal("期望 active 的服务异常应触发重启")
		}
		action := runner.actions[len(runner.actions)-1]
		if action.Kind != ActionRestartService || action.Service != "nginx" {
			t.Errorf("应重启 nginx，实际 %s %s", action.Kind, action.Service)
		}
	})

	t.Run("期望 inactive 不自愈", func(t *testing.T) {
		before := len(runner.actions)
		check := warningCheck(diagnose.SubsystemService, "PROC_SVC_STATE_nginx")
		check.HealEligible = false
		outcomes := c.MaybeHeal(context.Background(),
			diagnose.Result{Checks: []diagnose.Check{check}}, &collector.Snapshot{})

		if len(outcomes) != 1 || outcomes[0].Attempted {
			t.Error("期望 inactive 的服务异常不应触发自愈")
		}
		if len(runner.actions) != before {
			t.Error("不应执行任何动作")
		}
	})
}

func TestMaybeHealReportsOutcome(t *testing.T) {
	t.Run("成功上报 SELF_HEAL_ATTEMPT", func(t *testing.T) {
		cfg := healingConfig()
		runner := &fakeRunner{}
		reporter := &fakeReporter{}
		c := newTestController(cfg, runner, reporter)

		result := diagnose.Result{Checks: []diagnose.Check{warningCheck(diagnose.SubsystemMemory, "MEM_HIGH")}}
		outcomes := c.MaybeHeal(context.Background(), result, &collector.Snapshot{})

		if len(outcomes) != 1 || !outcomes[0].Succeeded {
			t.Fatal("动作应执行成功")
		}
		if len(reporter.keys) != 1 || reporter.keys[0] != "SELF_HEAL_ATTEMPT" {
			t.Errorf("成功应上报 SELF_HEAL_ATTEMPT，实际 %v", reporter.keys)
		}
	})

	t.Run("失败上报 SELF_HEAL_FAIL", func(t *testing.T) {
		cfg := healingConfig()
		runner := &fakeRunner{exitCode: 1, err: errors.New("命令退出码 1")}
		reporter := &fakeReporter{}
		c := newTestController(cfg, runner, reporter)

		result := diagnose.Result{Checks: []diagnose.Check{warningCheck(diagnose.SubsystemMemory, "MEM_HIGH")}}
		outcomes := c.MaybeHeal(context.Background(), result, &collector.Snapshot{})

		if len(outcomes) != 1 || outcomes[0].Succeeded {
			t.Fatal("动作应标记为失败")
		}
		if len(reporter.keys) != 1 || reporter.keys[0] != "SELF_HEAL_FAIL" {
			t.Errorf("失败应上报 SELF_HEAL_FAIL，实际 %v", reporter.keys)
		}
	})
}

func TestMaybeHealOneActionPerIncident(t *testing.T) {
	cfg := healingConfig()
	runner := &fakeRunner{}
	c := newTestController(cfg, runner, &fakeReporter{})

	snap := &collector.Snapshot{TopProcesses: []collector.ProcessSample{
		{PID: 400, Name: "stress", Username: "app", CPUPercent: 60},
	}}
	result := diagnose.Result{Checks: []diagnose.Check{
		warningCheck(diagnose.SubsystemCPU, "CPU_HIGH"),
		warningCheck(diagnose.SubsystemMemory, "MEM_HIGH"),
	}}
	c.MaybeHeal(context.Background(), result, snap)

	if len(runner.actions) != 2 {
		t.Fatalf("两个异常各执行一个动作，实际 %d 个", len(runner.actions))
	}
	if runner.actions[0].Kind != ActionKillProcess || runner.actions[1].Kind != ActionDropCaches {
		t.Errorf("动作类型不符: %s, %s", runner.actions[0].Kind, runner.actions[1].Kind)
	}
}

func TestMaintainMandb(t *testing.T) {
	newController := func(runner Runner) (*Controller, *time.Time) {
		cfg := config.Default()
		cfg.Maintenance.Mandb.Enabled = true
		cfg.Maintenance.Mandb.MinIntervalHours = 6
		cfg.Maintenance.Mandb.CPUPermitPercent = 50
		cfg.Heal.ActionTimeoutSeconds = 60
		c := newTestController(cfg, runner, &fakeReporter{})
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		c.now = func() time.Time { return now }
		return c, &now
	}

	idleSnap := &collector.Snapshot{CPU: collector.CPUReading{Checked: true, Percent: 20}}
	busySnap := &collector.Snapshot{CPU: collector.CPUReading{Checked: true, Percent: 80}}

	t.Run("CPU 空闲时执行", func(t *testing.T) {
		runner := &fakeRunner{}
		c, _ := newController(runner)
		outcome := c.MaintainMandb(context.Background(), idleSnap)
		if outcome == nil || !outcome.Succeeded {
			t.Fatal("空闲时应执行 man 索引重建")
		}
		if runner.actions[0].Kind != ActionRunMandb {
			t.Errorf("动作类型应为 RUN_MANDB，实际 %s", runner.actions[0].Kind)
		}
	})

	t.Run("CPU 繁忙时跳过", func(t *testing.T) {
		runner := &fakeRunner{}
		c, _ := newController(runner)
		if outcome := c.MaintainMandb(context.Background(), busySnap); outcome != nil {
			t.Error("CPU 高于许可值时不应执行")
		}
	})

	t.Run("间隔内不重复执行", func(t *testing.T) {
		runner := &fakeRunner{}
		c, now := newController(runner)
		c.MaintainMandb(context.Background(), idleSnap)

		*now = now.Add(5 * time.Hour)
		if outcome := c.MaintainMandb(context.Background(), idleSnap); outcome != nil {
			t.Error("距上次执行不足最小间隔时不应重复执行")
		}

		*now = now.Add(2 * time.Hour)
		if outcome := c.MaintainMandb(context.Background(), idleSnap); outcome == nil {
			t.Error("超过最小间隔后应再次执行")
		}
	})

	t.Run("执行失败不更新计时", func(t *testing.T) {
		runner := &fakeRunner{exitCode: 1, err: errors.New("命令退出码 1")}
		c, _ := newController(runner)
		c.MaintainMandb(context.Background(), idleSnap)

		runner.exitCode = 0
		runner.err = nil
		if outcome := c.MaintainMandb(context.Background(), idleSnap); outcome == nil || !outcome.Succeeded {
			t.Error("上次执行失败不应占用节流计时")
		}
	})

	t.Run("CPU 读数缺失时跳过", func(t *testing.T) {
		runner := &fakeRunner{}
		c, _ := newController(runner)
		snap := &collector.Snapshot{CPU: collector.CPUReading{Checked: true, Err: errors.New("读取失败")}}
		if outcome := c.MaintainMandb(context.Background(), snap); outcome != nil {
			t.Error("CPU 读数不可用时不应执行维护任务")
		}
	})
}
