package agent

import (
	"testing"

	"github.com/dushixiang/argus/internal/config"
)

func TestToolRequirements(t *testing.T) {
	t.Run("磁盘清理启用时需要 find", func(t *testing.T) {
		cfg := config.Default()
		cfg.Heal.Enabled = true
		cfg.Heal.DiskCleanup.Enabled = true
		cfg.Heal.DiskCleanup.Targets = []config.CleanupTarget{{Path: "/var/tmp/app", MaxAgeDays: 7}}
		cfg.Normalize()

		_, _, needFind, _ := toolRequirements(cfg)
		if !needFind {
			t.Error("配置了清理目标时应要求 find 可用")
		}
	})

	t.Run("归一化禁用的功能不要求工具", func(t *testing.T) {
		// 启用了磁盘清理但没有目标：归一化会禁用该功能，自检不应再要求 find
		cfg := config.Default()
		cfg.Heal.Enabled = true
		cfg.Heal.DiskCleanup.Enabled = true
		cfg.Normalize()

		_, _, needFind, _ := toolRequirements(cfg)
		if needFind {
			t.Error("磁盘清理已被归一化禁用，不应要求 find")
		}
	})

	t.Run("服务检查要求 systemctl", func(t *testing.T) {
		cfg := config.Default()
		cfg.Checks.Service.Enabled = true
		cfg.Checks.Service.Name = "nginx"
		cfg.Normalize()

		_, needSystemctl, _, _ := toolRequirements(cfg)
		if !needSystemctl {
			t.Error("启用服务检查时应要求 systemctl 可用")
		}
	})

	t.Run("自愈与维护未启用时不需要提权", func(t *testing.T) {
		cfg := config.Default()
		cfg.Heal.SudoCommand = []string{"sudo", "-n"}
		cfg.Normalize()

		sudo, _, _, needMandb := toolRequirements(cfg)
		if len(sudo) != 0 {
			t.Error("自愈与维护均未启用时不应要求提权命令")
		}
		if needMandb {
			t.Error("维护任务未启用时不应要求 mandb")
		}
	})
}
