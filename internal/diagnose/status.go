package diagnose

// HealthStatus 子系统健康状态，按严重程度排序。
// StatusError 专指「无法获得读数」，与「数值超过阈值」严格区分：
// 参与告警（视同至少 WARNING），但绝不触发自愈。
type HealthStatus int

const (
	StatusNominal HealthStatus = iota
	StatusWarning
	StatusCritical
	StatusError
)

// String 返回状态名称
func (s HealthStatus) String() string {
	switch s {
	case StatusNominal:
		return "NOMINAL"
	case StatusWarning:
		return "WARNING"
	case StatusCritical:
		return "CRITICAL"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Healable 是否允许触发自愈（读数异常的 ERROR 状态不允许）
func (s HealthStatus) Healable() bool {
	return s == StatusWarning || s == StatusCritical
}

// worse 返回两个状态中更严重的一个
func worse(a, b HealthStatus) HealthStatus {
	if b > a {
		return b
	}
	return a
}
