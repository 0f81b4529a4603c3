package collector

import "time"

// Snapshot 一次巡检周期内采集的全部原始读数。
// 周期开始时创建，诊断结束后丢弃，绝不跨周期复用。
type Snapshot struct {
	Timestamp time.Time

	CPU         CPUReading
	Memory      MemoryReading
	Swap        SwapReading
	Disk        DiskReading
	Network     NetworkReading
	Service     ServiceReading
	Port        PortReading
	Temperature TemperatureReading
	Zombies     ZombieReading

	// TopProcesses CPU 占用最高的进程（用于 CPU 自愈选择目标）。
	// 枚举失败记录在 TopProcessesErr 中，不得静默丢弃。
	TopProcesses    []ProcessSample
	TopProcessesErr error
}

// CPUReading CPU 使用率读数
type CPUReading struct {
	Checked bool
	Percent float64
	Err     error
}

// MemoryReading 内存使用读数
type MemoryReading struct {
	Checked bool
	Percent float64
	UsedMB  float64
	Err     error
}

// SwapReading 交换分区使用率读数
type SwapReading struct {
	Checked bool
	Percent float64
	Err     error
}

// DiskReading 磁盘使用率读数
type DiskReading struct {
	Checked bool
	Path    string
	Percent float64
	Err     error
}

// NetworkReading 网络连通性读数
type NetworkReading struct {
	Checked   bool
	Host      string
	Reachable bool
	Err       error
}

// ServiceReading 进程/服务状态读数
type ServiceReading struct {
	Checked        bool
	Name           string
	ProcessRunning bool
	State          string // active / inactive / unknown
	Err            error
}

// PortReading 监听端口读数
type PortReading struct {
	Checked   bool
	Port      int
	Listening bool
	BoundIP   string
	Err       error
}

// TemperatureReading 传感器温度读数
type TemperatureReading struct {
	Checked bool
	Sensors []SensorTemp
	Err     error
}

// SensorTemp 单个传感器的温度（摄氏度）
type SensorTemp struct {
	Name    string
	Celsius float64
}

// ZombieReading 僵尸进程数量读数
type ZombieReading struct {
	Checked bool
	Count   int
	Err     error
}

// ProcessSample 进程采样信息
type ProcessSample struct {
	PID        int32
	Name       string
	Username   string
	CPUPercent float64
}
