package agent

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/dushixiang/argus/internal/advisor"
	"github.com/dushixiang/argus/internal/alert"
	"github.com/dushixiang/argus/internal/collector"
	"github.com/dushixiang/argus/internal/config"
	"github.com/dushixiang/argus/internal/heal"
	"github.com/dushixiang/argus/internal/notifier"
	"github.com/dushixiang/argus/internal/runner"
	"github.com/dushixiang/argus/internal/scheduler"
)

// Agent 主机健康探针：装配采集、诊断、告警与自愈组件并驱动巡检
type Agent struct {
	cfg        *config.Config
	logger     *zap.Logger
	source     collector.Source
	dispatcher *alert.Dispatcher
	controller *heal.Controller
	scheduler  *scheduler.Scheduler
}

// New 创建探针实例
func New(logger *zap.Logger, cfg *config.Config) *Agent {
	source := collector.NewSystemSource()
	mail := notifier.NewMailNotifier(cfg.Alert)
	dispatcher := alert.NewDispatcher(logger, mail,
		cfg.Alert.Enabled, cfg.Alert.SubjectPrefix, cfg.Cooldown())

	execRunner := runner.NewExecRunner(logger, cfg.Heal.SudoCommand)
	controller := heal.NewController(logger, cfg, execRunner, dispatcher, int32(os.Getpid()))

	return &Agent{
		cfg:        cfg,
		logger:     logger,
		source:     source,
		dispatcher: dispatcher,
		controller: controller,
	}
}

// Start 启动探针并阻塞运行，直到 ctx 取消
func (a *Agent) Start(ctx context.Context) error {
	// 先归一化配置再自检：被归一化禁用的功能不再要求对应工具
	for _, warning := range a.cfg.Normalize() {
		a.logger.Warn(warning)
	}

	if err := a.verifyTools(); err != nil {
		return err
	}

	// 顾问探测失败只是降级，巡检照常进行
	var adv scheduler.Advisor
	if a.cfg.Advisor.Enabled {
		ollama := advisor.NewOllama(a.logger, a.cfg.Advisor)
		if ollama.Probe(ctx) {
			adv = ollama
		}
	}

	a.scheduler = scheduler.NewScheduler(a.logger, a.cfg, a.source, a.dispatcher, a.controller, adv)
	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

// Stop 停止探针，等待进行中的巡检周期完成
func (a *Agent) Stop() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
}

// toolRequirements 从配置推导已启用功能依赖的外部工具。
// 必须在 Normalize 之后调用，才不会要求已被归一化禁用的功能的工具。
func toolRequirements(cfg *config.Config) (sudo []string, needSystemctl, needFind, needMandb bool) {
	heal := cfg.Heal

	if heal.Enabled || cfg.Maintenance.Mandb.Enabled {
		sudo = heal.SudoCommand
	}

	needSystemctl = cfg.Checks.Service.Enabled ||
		(heal.Enabled && (heal.RestartService.Enabled || heal.NetworkRestart.Enabled))
	needFind = heal.Enabled && heal.DiskCleanup.Enabled
	needMandb = cfg.Maintenance.Mandb.Enabled
	return sudo, needSystemctl, needFind, needMandb
}

// verifyTools 启动时检查已启用功能依赖的外部工具，缺失视为致命错误
func (a *Agent) verifyTools() error {
	sudo, needSystemctl, needFind, needMandb := toolRequirements(a.cfg)
	if err := runner.VerifyTools(sudo, needSystemctl, needFind, needMandb); err != nil {
		return fmt.Errorf("启动前自检失败: %w", err)
	}
	return nil
}
