package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the agent settings
type Config struct {
	ListenAddr      string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	// CPUSampleWindow is how long a CPU usage measurement blocks.
	CPUSampleWindow time.Duration
	ProcessWorkers  int

	// StartCaptureWindow > 0 makes process start wait that long for output.
	StartCaptureWindow time.Duration
	StartCaptureLimit  int

	DockerEnabled bool

	LogLevel  string
	LogFormat string
}

// Load reads .env (if present), procstat.yaml (if present) and the environment.
func Load() (*Config, error) {
	// .env is optional, plain env vars work too
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("procstat")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/procstat")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	v.AutomaticEnv()

	cfg := &Config{
		ListenAddr:         v.GetString("listen_addr"),
		RequestTimeout:     v.GetDuration("request_timeout"),
		ShutdownTimeout:    v.GetDuration("shutdown_timeout"),
		CPUSampleWindow:    v.GetDuration("cpu_sample_window"),
		ProcessWorkers:     v.GetInt("process_workers"),
		StartCaptureWindow: v.GetDuration("start_capture_window"),
		StartCaptureLimit:  v.GetInt("start_capture_limit"),
		DockerEnabled:      v.GetBool("docker_enabled"),
		LogLevel:           v.GetString("log_level"),
		LogFormat:          v.GetString("log_format"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8000")
	v.SetDefault("request_timeout", 10*time.Second)
	v.SetDefault("shutdown_timeout", 5*time.Second)
	v.SetDefault("cpu_sample_window", 200*time.Millisecond)
	v.SetDefault("process_workers", 16)
	v.SetDefault("start_capture_window", time.Duration(0))
	v.SetDefault("start_capture_limit", 64*1024)
	v.SetDefault("docker_enabled", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

// Validate rejects settings the agent cannot run with
func (c *Config) Validate() error {
	switch {
	case c.ListenAddr == "":
		return errors.New("LISTEN_ADDR required")
	case c.RequestTimeout <= 0:
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %v", c.RequestTimeout)
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %v", c.ShutdownTimeout)
	case c.CPUSampleWindow <= 0:
		return fmt.Errorf("CPU_SAMPLE_WINDOW must be positive, got %v", c.CPUSampleWindow)
	case c.CPUSampleWindow >= c.RequestTimeout:
		return fmt.Errorf("CPU_SAMPLE_WINDOW (%v) must be shorter than REQUEST_TIMEOUT (%v)", c.CPUSampleWindow, c.RequestTimeout)
	case c.ProcessWorkers < 1:
		return fmt.Errorf("PROCESS_WORKERS must be at least 1, got %d", c.ProcessWorkers)
	case c.StartCaptureWindow < 0:
		return fmt.Errorf("START_CAPTURE_WINDOW must not be negative, got %v", c.StartCaptureWindow)
	case c.StartCaptureLimit < 0:
		return fmt.Errorf("START_CAPTURE_LIMIT must not be negative, got %d", c.StartCaptureLimit)
	}
	return nil
}
