package models

type ProcessMemory struct {
	Resident uint64 `json:"resident"`
	Virtual  uint64 `json:"virtual"`
}

type ProcessInfo struct {
	PID       int32         `json:"pid"`
	PPID      int32         `json:"ppid"`
	Command   string        `json:"command"`
	Arguments string        `json:"arguments"`
	Memory    ProcessMemory `json:"memory"`
}
