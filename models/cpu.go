package models

// CPUInfo describes one logical core or the whole machine
type CPUInfo struct {
	Model        string  `json:"model"`
	Manufacturer string  `json:"manufacturer"`
	Speed        uint64  `json:"speed"`
	Usage        float64 `json:"usage"`
}
