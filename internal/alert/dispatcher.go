package alert

import (
	"time"

	"github.com/go-orz/cache"
	"go.uber.org/zap"
)

// Outcome 一次告警分发的结果
type Outcome int

const (
	// Sent 已成功交给传输层
	Sent Outcome = iota
	// Suppressed 被抑制（告警未启用 / 冷却中 / 传输失败）
	Suppressed
)

// String 返回结果名称
func (o Outcome) String() string {
	if o == Sent {
		return "SENT"
	}
	return "SUPPRESSED"
}

// Notifier 告警传输接口，具体通道（SMTP 等）对分发器不可见
type Notifier interface {
	Send(subject, body string) error
}

// Dispatcher 告警分发器：按 AlertKey 做冷却去重，再交给传输层。
// 冷却注册表只在传输成功后写入，进程重启后清空（重启后同类事件会立即重新告警一次）。
type Dispatcher struct {
	enabled       bool
	subjectPrefix string
	cooldown      time.Duration
	registry      cache.Cache[string, time.Time]
	notifier      Notifier
	logger        *zap.Logger

	// now 可注入的时钟，便于测试冷却窗口
	now func() time.Time
}

// NewDispatcher 创建告警分发器
func NewDispatcher(logger *zap.Logger, notifier Notifier, enabled bool, subjectPrefix string, cooldown time.Duration) *Dispatcher {
	return &Dispatcher{
		enabled:       enabled,
		subjectPrefix: subjectPrefix,
		cooldown:      cooldown,
		registry:      cache.New[string, time.Time](time.Minute),
		notifier:      notifier,
		logger:        logger,
		now:           time.Now,
	}
}

// Notify 分发一条告警。
// 冷却中返回 Suppressed 并以 INFO 级别记录（常规抑制不制造日志噪音）；
// 传输失败不更新冷却时间戳，下一次出现同类事件时会再次尝试投递。
func (d *Dispatcher) Notify(key, summary, detail string) Outcome {
	if !d.enabled {
		d.logger.Debug("告警功能未启用，跳过发送", zap.String("alertKey", key))
		return Suppressed
	}

	now := d.now()
	if lastSent, ok := d.registry.Get(key); ok && now.Sub(lastSent) < d.cooldown {
		d.logger.Info("告警冷却中，跳过发送",
			zap.String("alertKey", key),
			zap.Duration("elapsed", now.Sub(lastSent)),
			zap.Duration("cooldown", d.cooldown))
		return Suppressed
	}

	subject := d.subjectPrefix + " " + summary
	if err := d.notifier.Send(subject, detail); err != nil {
		d.logger.Error("告警发送失败",
			zap.String("alertKey", key),
			zap.String("summary", summary),
			zap.Error(err))
		return Suppressed
	}

	d.registry.Set(key, now, d.cooldown)
	d.logger.Info("告警已发送",
		zap.String("alertKey", key),
		zap.String("summary", summary))
	return Sent
}
