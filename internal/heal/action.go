package heal

import (
	"context"
	"fmt"

	"github.com/dushixiang/argus/internal/alert"
)

// Kind 自愈动作类型，取值限定在允许的动作词表内
type Kind string

const (
	ActionRestartService   Kind = "RESTART_SERVICE"
	ActionKillProcess      Kind = "KILL_PROCESS"
	ActionDropCaches       Kind = "DROP_CACHES"
	ActionDeleteStaleFiles Kind = "DELETE_STALE_FILES"
	ActionReapZombies      Kind = "REAP_ZOMBIES"
	ActionRunMandb         Kind = "RUN_MANDB"
)

// Action 一条具体的自愈动作及其执行参数
type Action struct {
	Kind        Kind
	Service     string // RESTART_SERVICE
	PID         int32  // KILL_PROCESS
	ProcessName string // KILL_PROCESS
	Path        string // DELETE_STALE_FILES
	MaxAgeDays  int    // DELETE_STALE_FILES
}

// Describe 返回用于日志与告警的动作描述
func (a Action) Describe() string {
	switch a.Kind {
	case ActionRestartService:
		return fmt.Sprintf("重启服务 %s", a.Service)
	case ActionKillProcess:
		return fmt.Sprintf("终止进程 %s (PID %d)", a.ProcessName, a.PID)
	case ActionDropCaches:
		return "释放系统页缓存"
	case ActionDeleteStaleFiles:
		return fmt.Sprintf("清理 %s 中超过 %d 天的过期文件", a.Path, a.MaxAgeDays)
	case ActionReapZombies:
		return "向 init 发送 SIGCHLD 回收僵尸进程"
	case ActionRunMandb:
		return "重建 man 索引"
	default:
		return string(a.Kind)
	}
}

// Runner 外部命令执行接口。
// 实现方负责以外部预授权的机制执行命令，本包只从动作词表中选择，
// 绝不拼接任何提权语法。
type Runner interface {
	Run(ctx context.Context, action Action) (exitCode int, output string, err error)
}

// Reporter 自愈结果上报接口，与普通告警走同一条冷却受控的路径
type Reporter interface {
	Notify(key, summary, detail string) alert.Outcome
}
