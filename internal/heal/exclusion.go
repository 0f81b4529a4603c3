package heal

import (
	"fmt"
	"strings"

	"github.com/dushixiang/argus/internal/collector"
)

// ExclusionSet 进程终止动作的排除集合。
// 在每次选择终止目标前检查，任何情况下都不可绕过。
type ExclusionSet struct {
	names     map[string]struct{}
	allowRoot map[string]struct{}
	selfPID   int32
}

// NewExclusionSet 创建排除集合，进程名比较不区分大小写
func NewExclusionSet(names, allowRoot []string, selfPID int32) *ExclusionSet {
	set := &ExclusionSet{
		names:     make(map[string]struct{}, len(names)),
		allowRoot: make(map[string]struct{}, len(allowRoot)),
		selfPID:   selfPID,
	}
	for _, name := range names {
		set.names[strings.ToLower(name)] = struct{}{}
	}
	for _, name := range allowRoot {
		set.allowRoot[strings.ToLower(name)] = struct{}{}
	}
	return set
}

// Blocked 判断目标进程是否禁止终止，返回禁止原因
func (s *ExclusionSet) Blocked(p collector.ProcessSample) (bool, string) {
	if p.PID == s.selfPID {
		return true, "目标是探针自身进程"
	}
	if p.PID == 1 {
		return true, "目标是 PID 1"
	}
	name := strings.ToLower(p.Name)
	if _, ok := s.names[name]; ok {
		return true, fmt.Sprintf("进程 %s 在排除列表中", p.Name)
	}
	if p.Username == "root" {
		if _, ok := s.allowRoot[name]; !ok {
			return true, fmt.Sprintf("进程 %s 属于 root 且未被明确允许", p.Name)
		}
	}
	return false, ""
}
