package collector

import (
	"os"
	"runtime"
	"strings"

	"procstat-agent/logger"
)

// Capabilities describes what the agent can observe from where it runs
type Capabilities struct {
	HasDocker  bool
	HasHostPID bool
	HasProcFS  bool
}

func DetectCapabilities() Capabilities {
	return Capabilities{
		HasDocker:  os.Getenv("DOCKER_HOST") != "" || fileExists("/var/run/docker.sock"),
		HasHostPID: detectHostPID(),
		HasProcFS:  runtime.GOOS != "linux" || fileExists("/proc/self/stat"),
	}
}

// Log prints the capability table at startup
func (c Capabilities) Log(log logger.Logger) {
	log.Info("agent capabilities",
		"docker", c.HasDocker,
		"host_pid_namespace", c.HasHostPID,
		"procfs", c.HasProcFS,
	)
	if !c.HasHostPID {
		log.Warn("agent is pid 1 of its namespace, process listing covers the container only")
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// detectHostPID reports false when pid 1 is the agent itself, i.e. it runs
// in its own pid namespace.
func detectHostPID() bool {
	if os.Getpid() == 1 {
		return false
	}
	data, err := os.ReadFile("/proc/1/cmdline")
	if err != nil {
		return true
	}
	cmdline := strings.ToLower(strings.ReplaceAll(string(data), "\x00", " "))
	return !strings.Contains(cmdline, "procstat")
}
