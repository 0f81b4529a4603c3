package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/dushixiang/argus/internal/alert"
	"github.com/dushixiang/argus/internal/collector"
	"github.com/dushixiang/argus/internal/config"
	"github.com/dushixiang/argus/internal/diagnose"
	"github.com/dushixiang/argus/internal/heal"
)

// Reporter 告警上报接口
type Reporter interface {
	Notify(key, summary, detail string) alert.Outcome
}

// Healer 自愈控制接口
type Healer interface {
	MaybeHeal(ctx context.Context, result diagnose.Result, snap *collector.Snapshot) []heal.Outcome
	MaintainMandb(ctx context.Context, snap *collector.Snapshot) *heal.Outcome
}

// Advisor 可选的处置建议接口
type Advisor interface {
	Advise(ctx context.Context, result diagnose.Result) (string, error)
}

// Scheduler 巡检调度器：按固定间隔驱动「采集 → 诊断 → 告警 → 自愈」周期。
// 同一时刻最多一个周期在执行，上一个周期未结束时跳过本次触发。
type Scheduler struct {
	cfg      *config.Config
	source   collector.Source
	reporter Reporter
	healer   Healer
	advisor  Advisor // 可为 nil
	logger   *zap.Logger

	cron    *cron.Cron
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	// initial 追踪启动时的首次巡检，cron 只管理周期触发的任务
	initial sync.WaitGroup

	// failures 连续周期失败的退避计时，成功一次即复位
	failures *backoff.Backoff

	// sleep 可注入的等待实现，静默期等待可被停止信号打断
	sleep func(ctx context.Context, d time.Duration)
}

// NewScheduler 创建巡检调度器
func NewScheduler(logger *zap.Logger, cfg *config.Config, source collector.Source, reporter Reporter, healer Healer, advisor Advisor) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		source:   source,
		reporter: reporter,
		healer:   healer,
		advisor:  advisor,
		logger:   logger,
		cron:     cron.New(cron.WithSeconds()),
		sleep:    interruptibleSleep,
		failures: &backoff.Backoff{Min: time.Second, Max: time.Minute, Factor: 2, Jitter: true},
	}
}

// Start 启动调度器，立即执行一次巡检后进入周期调度
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	spec := fmt.Sprintf("@every %ds", s.cfg.Agent.Interval)
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return fmt.Errorf("添加巡检任务失败: %w", err)
	}

	s.logger.Info("启动巡检调度器", zap.Int("interval", s.cfg.Agent.Interval))

	// 启动即巡检一次，不等第一个周期
	s.initial.Add(1)
	go func() {
		defer s.initial.Done()
		s.tick()
	}()

	s.cron.Start()
	return nil
}

// Stop 停止调度器，等待正在执行的周期完成
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.initial.Wait()

	s.logger.Info("巡检调度器已停止")
}

// tick 单次触发入口，持有执行权时才进入周期
func (s *Scheduler) tick() {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("上一个巡检周期仍在执行，跳过本次触发")
		return
	}
	defer s.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			delay := s.failures.Duration()
			s.logger.Error("巡检周期发生 panic",
				zap.Any("panic", r),
				zap.Duration("backoff", delay))
			// 退避期间持有执行权，连续失败不会空转
			s.sleep(s.ctx, delay)
		}
	}()

	s.RunOnce(s.ctx)
	s.failures.Reset()
}

// RunOnce 执行一个完整的巡检周期
func (s *Scheduler) RunOnce(ctx context.Context) diagnose.Result {
	start := time.Now()

	snap := collector.Collect(ctx, s.source, s.cfg)
	result := diagnose.Diagnose(snap, s.cfg)

	s.logger.Debug("巡检周期完成采集与诊断",
		zap.String("overall", result.Overall.String()),
		zap.Duration("elapsed", time.Since(start)))

	for _, check := range result.NonNominal() {
		s.logger.Warn("检查项异常",
			zap.String("subsystem", check.Subsystem),
			zap.String("status", check.Status.String()),
			zap.String("summary", check.Summary))
		s.reporter.Notify(check.AlertKey, check.Summary, check.Detail)
	}

	outcomes := s.healer.MaybeHeal(ctx, result, snap)
	for _, outcome := range outcomes {
		// 服务重启成功后留出静默期，避免下个周期对未就绪的服务再次告警
		if outcome.Succeeded && outcome.Action.Kind == heal.ActionRestartService {
			s.logger.Info("服务已重启，进入静默期",
				zap.String("service", outcome.Action.Service),
				zap.Duration("settle", s.cfg.SettleDelay()))
			s.sleep(ctx, s.cfg.SettleDelay())
			break
		}
	}

	s.healer.MaintainMandb(ctx, snap)

	if s.advisor != nil && result.Overall != diagnose.StatusNominal {
		if advice, err := s.advisor.Advise(ctx, result); err != nil {
			s.logger.Warn("获取处置建议失败", zap.Error(err))
		} else if advice != "" {
			s.logger.Info("处置建议", zap.String("advice", advice))
		}
	}

	return result
}

// interruptibleSleep 可被 ctx 取消打断的等待
func interruptibleSleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
