package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kardianos/service"
	"go.uber.org/zap"

	"github.com/dushixiang/argus/internal/config"
	"github.com/dushixiang/argus/pkg/agent"
)

// program 实现 service.Interface
type program struct {
	cfg    *config.Config
	logger *zap.Logger
	agent  *agent.Agent
	ctx    context.Context
	cancel context.CancelFunc
}

// initLogger 按配置初始化日志系统（抽取通用逻辑）
func initLogger(cfg *config.Config) *zap.Logger {
	return agent.InitLogger(&agent.LogConfig{
		Level:      cfg.Agent.LogLevel,
		File:       cfg.Agent.LogFile,
		MaxSize:    cfg.Agent.LogMaxSize,
		MaxBackups: cfg.Agent.LogMaxBackups,
		MaxAge:     cfg.Agent.LogMaxAge,
		Compress:   cfg.Agent.LogCompress,
	})
}

// startAgent 在后台启动探针（抽取通用逻辑）
func startAgent(ctx context.Context, logger *zap.Logger, cfg *config.Config) *agent.Agent {
	a := agent.New(logger, cfg)
	go func() {
		if err := a.Start(ctx); err != nil {
			logger.Error("探针运行出错", zap.Error(err))
		}
	}()
	return a
}

// Start 启动服务
func (p *program) Start(s service.Service) error {
	p.logger = initLogger(p.cfg)
	p.logger.Info("Argus Agent 服务启动中...")

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.agent = startAgent(p.ctx, p.logger, p.cfg)
	return nil
}

// Stop 停止服务
func (p *program) Stop(s service.Service) error {
	if p.logger != nil {
		p.logger.Info("Argus Agent 服务停止中...")
	}

	if p.cancel != nil {
		p.cancel()
	}
	if p.agent != nil {
		p.agent.Stop()
	}

	if p.logger != nil {
		p.logger.Info("Argus Agent 服务已停止")
		_ = p.logger.Sync()
	}
	return nil
}

// ServiceManager 服务管理器
type ServiceManager struct {
	cfg     *config.Config
	service service.Service
}

// NewServiceManager 创建服务管理器
func NewServiceManager(cfg *config.Config) (*ServiceManager, error) {
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("获取可执行文件路径失败: %w", err)
	}

	svcConfig := &service.Config{
		Name:        "argus-agent",
		DisplayName: "Argus Agent",
		Description: "Argus 主机健康探针 - 巡检系统指标并执行受控自愈",
		Arguments:   []string{"run", "--config", cfg.Path},
		Executable:  execPath,
		Option: service.KeyValue{
			// Linux systemd 配置
			"Restart":            "always",  // 总是重启
			"RestartSec":         "10",      // 重启前等待 10 秒
			"StartLimitInterval": "0",       // 无限制重启次数
			"KillMode":           "process", // 只杀主进程

			// Windows 配置
			"OnFailure":    "restart",
			"ResetPeriod":  86400,
			"RestartDelay": 10000,

			// 其他 Unix 系统 (upstart/launchd)
			"KeepAlive": true,
			"RunAtLoad": true,
		},
	}

	prg := &program{cfg: cfg}
	s, err := service.New(prg, svcConfig)
	if err != nil {
		return nil, fmt.Errorf("创建服务失败: %w", err)
	}

	return &ServiceManager{cfg: cfg, service: s}, nil
}

// Install 安装服务
func (m *ServiceManager) Install() error {
	return m.service.Install()
}

// Uninstall 卸载服务
func (m *ServiceManager) Uninstall() error {
	// 先停止服务
	_ = m.service.Stop()
	return m.service.Uninstall()
}

// Start 启动服务
func (m *ServiceManager) Start() error {
	return m.service.Start()
}

// Stop 停止服务
func (m *ServiceManager) Stop() error {
	return m.service.Stop()
}

// Restart 重启服务
func (m *ServiceManager) Restart() error {
	return m.service.Restart()
}

// Status 查看服务状态
func (m *ServiceManager) Status() (string, error) {
	status, err := m.service.Status()
	if err != nil {
		return "", err
	}

	switch status {
	case service.StatusRunning:
		return "运行中 (Running)", nil
	case service.StatusStopped:
		return "已停止 (Stopped)", nil
	case service.StatusUnknown:
		return "未知 (Unknown)", nil
	default:
		return fmt.Sprintf("状态: %d", status), nil
	}
}

// Run 运行服务（用于 service run 命令）
func (m *ServiceManager) Run() error {
	if !service.Interactive() {
		// 在服务管理器控制下运行
		return m.service.Run()
	}

	// 交互模式（前台运行）
	logger := initLogger(m.cfg)
	logger.Info("配置加载成功",
		zap.String("config", m.cfg.Path),
		zap.Int("interval", m.cfg.Agent.Interval),
		zap.Bool("alert", m.cfg.Alert.Enabled),
		zap.Bool("heal", m.cfg.Heal.Enabled))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	a := agent.New(logger, m.cfg)
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Start(ctx)
	}()

	select {
	case <-interrupt:
		logger.Info("收到中断信号，正在关闭...")
		cancel()
		a.Stop()
	case err := <-errCh:
		// 启动依赖缺失等致命错误，立即退出并返回非零状态码
		if err != nil {
			logger.Error("探针启动失败", zap.Error(err))
			_ = logger.Sync()
			return err
		}
		a.Stop()
	}

	logger.Info("探针已停止")
	_ = logger.Sync()

	return nil
}
