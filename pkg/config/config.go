package config

import (
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"
)

type Config struct {
	// Port Settings
	ServerAddr  string `json:"serverAddr"`  // The address the admission API binds to.
	MetricsAddr string `json:"metricsAddr"` // The address the metric endpoint binds to.

	Postgres struct {
		Host     string `json:"host"`
		Port     string `json:"port"`
		DBName   string `json:"dbname"`
		User     string `json:"user"`
		Password string `json:"password"`
		SSLMode  string `json:"sslmode"`
		TimeZone string `json:"TimeZone"`
	} `json:"postgres"`

	Nats struct {
		URL    string `json:"url"`
		Stream string `json:"stream"` // JetStream stream holding all gpu.jobs.* subjects.
	} `json:"nats"`

	Scheduler struct {
		TickMillis             int `json:"tickMillis"`             // scheduling pass interval, default 500
		DispatchTimeoutSeconds int `json:"dispatchTimeoutSeconds"` // stale-dispatch requeue threshold, default 120
		T4SharedSlots          int `json:"t4SharedSlots"`          // cluster-wide shared slots on the t4 pool
		T4ExclusiveSlots       int `json:"t4ExclusiveSlots"`       // cluster-wide exclusive slots on the t4 pool
		MigSlots               int `json:"migSlots"`               // cluster-wide mig slots
	} `json:"scheduler"`

	Runner struct {
		Pool  string `json:"pool"`  // pool this runner consumes: t4 | mig
		Class string `json:"class"` // isolation class for t4 runners: shared | exclusive

		ExecutionMode      string `json:"executionMode"` // direct | pod
		Executor           string `json:"executor"`      // http | simulate
		FetchBatch         int    `json:"fetchBatch"`    // messages pulled per poll, default 10
		ExecTimeoutSeconds int    `json:"execTimeoutSeconds"`

		Kubernetes struct {
			Namespace         string `json:"namespace"`
			ExecutorImage     string `json:"executorImage"`
			NodeSelectorKey   string `json:"nodeSelectorKey"`
			NodeSelectorValue string `json:"nodeSelectorValue"`
			GPUResourceName   string `json:"gpuResourceName"`
			GPUResourceCount  string `json:"gpuResourceCount"`
			TTLSeconds        int    `json:"ttlSeconds"`
		} `json:"kubernetes"`
	} `json:"runner"`
}

func (c *Config) SchedulerTick() time.Duration {
	return time.Duration(c.Scheduler.TickMillis) * time.Millisecond
}

func (c *Config) DispatchTimeout() time.Duration {
	return time.Duration(c.Scheduler.DispatchTimeoutSeconds) * time.Second
}

func (c *Config) ExecTimeout() time.Duration {
	return time.Duration(c.Runner.ExecTimeoutSeconds) * time.Second
}

var (
	once   sync.Once
	config *Config
)

func GetConfig() *Config {
	once.Do(func() {
		config = initConfig()
	})
	return config
}

func IsDebugMode() bool {
	return gin.Mode() == gin.DebugMode
}

// initConfig reads the yaml configuration file. In debug mode the path can
// be overridden with GPUSCHED_DEBUG_CONFIG_PATH; in production it comes from
// the ConfigMap mount.
func initConfig() *Config {
	config := &Config{}
	var configPath string
	if IsDebugMode() {
		if os.Getenv("GPUSCHED_DEBUG_CONFIG_PATH") != "" {
			configPath = os.Getenv("GPUSCHED_DEBUG_CONFIG_PATH")
		} else {
			configPath = "./etc/debug-config.yaml"
		}
	} else {
		configPath = "/etc/config/config.yaml"
	}
	klog.Info("config path: ", configPath)

	if err := readConfig(configPath, config); err != nil {
		klog.Error("init config", err)
		panic(err)
	}
	applyDefaults(config)
	return config
}

func readConfig(filePath string, config *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, config)
}

//nolint:gocyclo // default-by-field is flat and readable
func applyDefaults(c *Config) {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8088"
	}
	if c.Nats.Stream == "" {
		c.Nats.Stream = "GPU"
	}
	if c.Scheduler.TickMillis <= 0 {
		c.Scheduler.TickMillis = 500
	}
	if c.Scheduler.DispatchTimeoutSeconds <= 0 {
		c.Scheduler.DispatchTimeoutSeconds = 120
	}
	if c.Scheduler.T4SharedSlots <= 0 {
		c.Scheduler.T4SharedSlots = 8
	}
	if c.Scheduler.T4ExclusiveSlots <= 0 {
		c.Scheduler.T4ExclusiveSlots = 1
	}
	if c.Runner.Pool == "" {
		c.Runner.Pool = "t4"
	}
	if c.Runner.ExecutionMode == "" {
		c.Runner.ExecutionMode = "direct"
	}
	if c.Runner.Executor == "" {
		c.Runner.Executor = "http"
	}
	if c.Runner.FetchBatch <= 0 {
		c.Runner.FetchBatch = 10
	}
	if c.Runner.ExecTimeoutSeconds <= 0 {
		c.Runner.ExecTimeoutSeconds = 300
	}
	if c.Runner.Kubernetes.Namespace == "" {
		c.Runner.Kubernetes.Namespace = "gpusched-system"
	}
	if c.Runner.Kubernetes.NodeSelectorKey == "" {
		c.Runner.Kubernetes.NodeSelectorKey = "nvidia.com/device-plugin.config"
	}
	if c.Runner.Kubernetes.NodeSelectorValue == "" {
		c.Runner.Kubernetes.NodeSelectorValue = "tesla-t4"
	}
	if c.Runner.Kubernetes.GPUResourceName == "" {
		c.Runner.Kubernetes.GPUResourceName = "nvidia.com/gpu"
	}
	if c.Runner.Kubernetes.GPUResourceCount == "" {
		c.Runner.Kubernetes.GPUResourceCount = "1"
	}
	if c.Runner.Kubernetes.TTLSeconds <= 0 {
		c.Runner.Kubernetes.TTLSeconds = 120
	}
}
