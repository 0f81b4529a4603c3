package runner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/dushixiang/argus/internal/heal"
)

// dropCachesScript 固定脚本，不接受任何外部参数
const dropCachesScript = "sync && echo 3 > /proc/sys/vm/drop_caches"

// ExecRunner 通过外部命令执行自愈动作。
// 提权前缀来自配置（通常是 sudo -n），依赖外部预先授权，
// 本进程从不交互式提权，也从不把动作参数拼进 shell 字符串。
type ExecRunner struct {
	sudo   []string
	logger *zap.Logger
}

// NewExecRunner 创建命令执行器
func NewExecRunner(logger *zap.Logger, sudo []string) *ExecRunner {
	return &ExecRunner{sudo: sudo, logger: logger}
}

// argv 把动作翻译为固定形状的命令行参数
func (r *ExecRunner) argv(action heal.Action) ([]string, error) {
	switch action.Kind {
	case heal.ActionRestartService:
		if action.Service == "" {
			return nil, errors.New("重启动作缺少服务名")
		}
		return []string{"systemctl", "restart", action.Service}, nil
	case heal.ActionKillProcess:
		if action.PID <= 1 {
			return nil, fmt.Errorf("非法的终止目标 PID %d", action.PID)
		}
		return []string{"kill", strconv.Itoa(int(action.PID))}, nil
	case heal.ActionDropCaches:
		return []string{"/bin/sh", "-c", dropCachesScript}, nil
	case heal.ActionDeleteStaleFiles:
		if action.Path == "" || action.MaxAgeDays <= 0 {
			return nil, errors.New("清理动作缺少路径或保留天数")
		}
		return []string{"find", action.Path, "-type", "f",
			"-mtime", "+" + strconv.Itoa(action.MaxAgeDays), "-delete"}, nil
	case heal.ActionReapZombies:
		// 提示 init 收割脱离父进程的僵尸，不直接触碰任何僵尸 PID
		return []string{"kill", "-s", "SIGCHLD", "1"}, nil
	case heal.ActionRunMandb:
		return []string{"mandb", "-q"}, nil
	default:
		return nil, fmt.Errorf("未知的动作类型 %s", action.Kind)
	}
}

// Run 执行一个自愈动作，返回退出码与合并输出
func (r *ExecRunner) Run(ctx context.Context, action heal.Action) (int, string, error) {
	args, err := r.argv(action)
	if err != nil {
		return -1, "", err
	}
	full := append(append([]string{}, r.sudo...), args...)

	r.logger.Debug("执行外部命令", zap.String("command", strings.Join(full, " ")))

	cmd := exec.CommandContext(ctx, full[0], full[1:]...)
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), output, fmt.Errorf("命令退出码 %d", exitErr.ExitCode())
		}
		return -1, output, fmt.Errorf("命令启动失败: %w", err)
	}
	return 0, output, nil
}

// VerifyTools 启动时检查自愈依赖的外部工具是否可用。
// 缺少已启用动作所需的工具视为致命错误。
func VerifyTools(sudo []string, needSystemctl, needFind, needMandb bool) error {
	var required []string
	if len(sudo) > 0 {
		required = append(required, sudo[0])
	}
	if needSystemctl {
		required = append(required, "systemctl")
	}
	if needFind {
		required = append(required, "find", "/bin/sh")
	}
	if needMandb {
		required = append(required, "mandb")
	}

	var missing []string
	for _, tool := range required {
		if _, err := exec.LookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("缺少自愈所需的外部工具: %s", strings.Join(missing, ", "))
	}
	return nil
}
