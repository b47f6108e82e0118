package models

// MemoryInfo holds RAM figures in bytes. Usage never exceeds Total.
type MemoryInfo struct {
	Total uint64 `json:"total"`
	Usage uint64 `json:"usage"`
}

// LoadInfo holds Load Average stats (unix only)
type LoadInfo struct {
	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`
}

// SystemStatus is the /status snapshot. Nil pointers are serialized as null
// and mean the OS did not report the value.
type SystemStatus struct {
	CPUs   uint64     `json:"cpus"`
	Memory MemoryInfo `json:"memory"`
	Uptime *uint64    `json:"uptime"`
	Usage  *float64   `json:"usage"`
	Load   *LoadInfo  `json:"load,omitempty"`
}
