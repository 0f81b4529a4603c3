package config

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Config 探针完整配置（进程生命周期内只读，修改后需重启生效）
type Config struct {
	Agent       AgentConfig       `yaml:"agent"`
	Checks      ChecksConfig      `yaml:"checks"`
	Alert       AlertConfig       `yaml:"alert"`
	Heal        HealConfig        `yaml:"heal"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Advisor     AdvisorConfig     `yaml:"advisor"`

	// Path 配置文件路径（加载时填充，用于服务安装参数）
	Path string `yaml:"-"`
}

// AgentConfig 探针基础配置
type AgentConfig struct {
	Interval      int    `yaml:"interval" validate:"min=5"` // 巡检间隔（秒）
	LogLevel      string `yaml:"log_level"`
	LogFile       string `yaml:"log_file"`
	LogMaxSize    int    `yaml:"log_max_size"`    // MB
	LogMaxBackups int    `yaml:"log_max_backups"` // 保留的旧日志文件数
	LogMaxAge     int    `yaml:"log_max_age"`     // 天数
	LogCompress   bool   `yaml:"log_compress"`
}

// ChecksConfig 各子系统检查配置
type ChecksConfig struct {
	CPU         ThresholdCheck `yaml:"cpu"`
	Memory      ThresholdCheck `yaml:"memory"`
	Swap        ThresholdCheck `yaml:"swap"`
	Disk        DiskCheck      `yaml:"disk"`
	Network     NetworkCheck   `yaml:"network"`
	Service     ServiceCheck   `yaml:"service"`
	Port        PortCheck      `yaml:"port"`
	Temperature TempCheck      `yaml:"temperature"`
	Zombies     ZombieCheck    `yaml:"zombies"`
}

// ThresholdCheck 阈值型检查（超过阈值即告警）
type ThresholdCheck struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold" validate:"min=0,max=100"`
}

// DiskCheck 磁盘使用率检查
type DiskCheck struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold" validate:"min=0,max=100"`
	Path      string  `yaml:"path"` // 监控的文件系统挂载点
}

// TempCheck 传感器温度检查（摄氏度）
type TempCheck struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold" validate:"min=0,max=150"`
}

// ZombieCheck 僵尸进程数量检查
type ZombieCheck struct {
	Enabled   bool `yaml:"enabled"`
	Threshold int  `yaml:"threshold" validate:"min=0"`
}

// NetworkCheck 网络连通性检查
type NetworkCheck struct {
	Enabled        bool   `yaml:"enabled"`
	Host           string `yaml:"host"`
	TimeoutSeconds int    `yaml:"timeout_seconds" validate:"min=0"`
}

// ServiceCheck 进程/服务状态检查
type ServiceCheck struct {
	Enabled       bool   `yaml:"enabled"`
	Name          string `yaml:"name"`
	ExpectedState string `yaml:"expected_state" validate:"omitempty,oneof=active inactive"`
}

// PortCheck 监听端口检查
type PortCheck struct {
	Enabled       bool   `yaml:"enabled"`
	Port          int    `yaml:"port" validate:"min=0,max=65535"`
	ExpectedState string `yaml:"expected_state" validate:"omitempty,oneof=listening clear"`
	ExpectedIP    string `yaml:"expected_ip"` // 期望的绑定地址，any 表示任意
}

// AlertConfig 告警配置
type AlertConfig struct {
	Enabled         bool       `yaml:"enabled"`
	Recipient       string     `yaml:"recipient"`
	Sender          string     `yaml:"sender"`
	SubjectPrefix   string     `yaml:"subject_prefix"`
	CooldownSeconds int        `yaml:"cooldown_seconds" validate:"min=0"`
	SMTP            SMTPConfig `yaml:"smtp"`
}

// SMTPConfig SMTP 传输配置
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"min=0,max=65535"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// HealConfig 自愈配置
type HealConfig struct {
	Enabled              bool           `yaml:"enabled"`
	SettleSeconds        int            `yaml:"settle_seconds" validate:"min=0"`         // 重启服务后的静默期
	ActionTimeoutSeconds int            `yaml:"action_timeout_seconds" validate:"min=0"` // 单个动作的执行超时
	SudoCommand          []string       `yaml:"sudo_command"`                            // 外部预授权的提权命令前缀，如 [sudo, -n]
	CPUKill              ToggleConfig   `yaml:"cpu_kill"`
	DropCaches           ToggleConfig   `yaml:"drop_caches"`
	ZombieReap           ToggleConfig   `yaml:"zombie_reap"`
	DiskCleanup          CleanupConfig  `yaml:"disk_cleanup"`
	RestartService       ToggleConfig   `yaml:"restart_service"`
	NetworkRestart       NetworkHealing `yaml:"network_restart"`
	ExcludeProcesses     []string       `yaml:"exclude_processes"`    // 绝不终止的进程名
	AllowRootProcesses   []string       `yaml:"allow_root_processes"` // 明确允许终止的 root 进程名
}

// ToggleConfig 单项功能开关
type ToggleConfig struct {
	Enabled bool `yaml:"enabled"`
}

// CleanupConfig 磁盘清理配置
type CleanupConfig struct {
	Enabled bool            `yaml:"enabled"`
	Targets []CleanupTarget `yaml:"targets" validate:"dive"`
}

// CleanupTarget 一条清理目标（路径 + 最大保留天数）
type CleanupTarget struct {
	Path       string `yaml:"path"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"min=0"`
}

// NetworkHealing 网络自愈配置
type NetworkHealing struct {
	Enabled  bool     `yaml:"enabled"`
	Services []string `yaml:"services"`
}

// MaintenanceConfig 低优先级周期性维护任务
type MaintenanceConfig struct {
	Mandb MandbConfig `yaml:"mandb"`
}

// MandbConfig man 索引重建配置
type MandbConfig struct {
	Enabled          bool    `yaml:"enabled"`
	MinIntervalHours int     `yaml:"min_interval_hours" validate:"min=0"`
	CPUPermitPercent float64 `yaml:"cpu_permit_percent" validate:"min=0,max=100"` // CPU 低于此值才执行
}

// AdvisorConfig AI 分析配置（仅输出参考信息，不参与诊断与自愈）
type AdvisorConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Host           string `yaml:"host"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds" validate:"min=0"`
}

// Default 返回带默认值的配置
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Interval:      60,
			LogLevel:      "info",
			LogMaxSize:    10,
			LogMaxBackups: 5,
			LogMaxAge:     30,
		},
		Checks: ChecksConfig{
			CPU:         ThresholdCheck{Enabled: true, Threshold: 85},
			Memory:      ThresholdCheck{Enabled: true, Threshold: 90},
			Swap:        ThresholdCheck{Enabled: true, Threshold: 75},
			Disk:        DiskCheck{Enabled: true, Threshold: 85, Path: "/"},
			Network:     NetworkCheck{Enabled: true, Host: "8.8.8.8", TimeoutSeconds: 3},
			Service:     ServiceCheck{ExpectedState: "active"},
			Port:        PortCheck{ExpectedState: "listening", ExpectedIP: "any"},
			Temperature: TempCheck{Enabled: true, Threshold: 80},
			Zombies:     ZombieCheck{Enabled: true, Threshold: 10},
		},
		Alert: AlertConfig{
			Sender:          "argus-agent@localhost",
			SubjectPrefix:   "[Argus]",
			CooldownSeconds: 1800,
			SMTP:            SMTPConfig{Host: "localhost", Port: 25},
		},
		Heal: HealConfig{
			SettleSeconds:        10,
			ActionTimeoutSeconds: 60,
			SudoCommand:          []string{"sudo", "-n"},
			ExcludeProcesses: []string{
				"systemd", "kthreadd", "sshd", "rsyslogd", "journald",
				"dbus-daemon", "login", "agetty", "containerd", "dockerd",
				"kubelet", "supervisord", "argus",
			},
		},
		Maintenance: MaintenanceConfig{
			Mandb: MandbConfig{MinIntervalHours: 6, CPUPermitPercent: 50},
		},
		Advisor: AdvisorConfig{
			Host:           "http://127.0.0.1:11434",
			Model:          "gemma:2b",
			TimeoutSeconds: 120,
		},
	}
}

// Load 从文件加载配置（严格模式：未知键视为错误，绝不执行配置内容）
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := Default()
	if err := unmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	cfg.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// unmarshalStrict 严格解析 YAML，拒绝未知键
func unmarshalStrict(data []byte, out *Config) error {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return err
	}
	// 空文件直接使用默认值
	if node.Kind == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}

// Validate 校验必填项与取值范围
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	if c.Checks.Service.Enabled && c.Checks.Service.Name == "" {
		return fmt.Errorf("配置校验失败: 启用服务检查时 checks.service.name 不能为空")
	}
	if c.Checks.Port.Enabled && c.Checks.Port.Port == 0 {
		return fmt.Errorf("配置校验失败: 启用端口检查时 checks.port.port 不能为空")
	}
	return nil
}

// Normalize 修正可选项的非法取值与互相矛盾的配置，返回警告信息由调用方记录
func (c *Config) Normalize() []string {
	var warnings []string

	switch strings.ToLower(c.Agent.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		warnings = append(warnings, fmt.Sprintf("非法的日志级别 %q，已回退为 info", c.Agent.LogLevel))
		c.Agent.LogLevel = "info"
	}
	if c.Alert.Enabled && c.Alert.Recipient == "" {
		c.Alert.Enabled = false
		warnings = append(warnings, "已启用邮件告警但未配置收件人，告警功能已禁用")
	}
	if c.Heal.DiskCleanup.Enabled && len(c.Heal.DiskCleanup.Targets) == 0 {
		c.Heal.DiskCleanup.Enabled = false
		warnings = append(warnings, "已启用磁盘清理但未配置清理目标，磁盘清理已禁用")
	}
	if c.Heal.NetworkRestart.Enabled && len(c.Heal.NetworkRestart.Services) == 0 {
		c.Heal.NetworkRestart.Enabled = false
		warnings = append(warnings, "已启用网络自愈但未配置服务列表，网络自愈已禁用")
	}
	return warnings
}

// MonitorInterval 巡检间隔
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Agent.Interval) * time.Second
}

// Cooldown 告警冷却时长
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Alert.CooldownSeconds) * time.Second
}

// ActionTimeout 自愈动作超时
func (c *Config) ActionTimeout() time.Duration {
	return time.Duration(c.Heal.ActionTimeoutSeconds) * time.Second
}

// SettleDelay 自愈重启后的静默期
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Heal.SettleSeconds) * time.Second
}
