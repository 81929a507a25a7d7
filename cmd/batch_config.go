package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/drivesim/drivesim/sim"
)

// BatchConfig is the YAML surface of one batch run: the endpoint replica
// descriptors and the scenario list. Durations are strings ("10s", "500ms")
// and are resolved here; the engine only ever sees fully resolved configs.
type BatchConfig struct {
	Endpoints []EndpointEntry `yaml:"endpoints"`
	Scenarios []ScenarioEntry `yaml:"scenarios"`
}

// EndpointEntry describes one service's replica pool.
type EndpointEntry struct {
	Service      string   `yaml:"service"`
	Replicas     []string `yaml:"replicas"`
	PerReplica   int64    `yaml:"per_replica_concurrency"`
	Selector     string   `yaml:"selector"`
	MaxQueueWait string   `yaml:"max_queue_wait"`
}

// ScenarioEntry describes one scenario, optionally expanded into a set of
// rollouts (count > 1), each with a derived rollout id.
type ScenarioEntry struct {
	SceneID           string          `yaml:"scene_id"`
	Count             int             `yaml:"count"`
	ControlIntervalUS int64           `yaml:"control_interval_us"`
	Steps             int             `yaml:"steps"`
	Clocks            []sim.ClockSpec `yaml:"clocks"`
	StrictSync        bool            `yaml:"strict_sync"`
	VehicleCount      int             `yaml:"vehicle_count"`
	CameraCount       int             `yaml:"camera_count"`
	Services          []string        `yaml:"services"`
	MaxCallAttempts   int             `yaml:"max_call_attempts"`
	CallTimeout       string          `yaml:"call_timeout"`
	LogDir            string          `yaml:"log_dir"`
}

// LoadBatchConfig reads and resolves a batch YAML file.
func LoadBatchConfig(path string) (*BatchConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch config: %w", err)
	}
	var cfg BatchConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse batch config: %w", err)
	}
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("batch config %s declares no endpoints", path)
	}
	if len(cfg.Scenarios) == 0 {
		return nil, fmt.Errorf("batch config %s declares no scenarios", path)
	}
	return &cfg, nil
}

// PoolConfigs resolves the endpoint entries into pool descriptors.
func (c *BatchConfig) PoolConfigs() ([]sim.ReplicaPoolConfig, error) {
	out := make([]sim.ReplicaPoolConfig, 0, len(c.Endpoints))
	for _, e := range c.Endpoints {
		wait, err := parseDuration(e.MaxQueueWait, 0)
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: max_queue_wait: %w", e.Service, err)
		}
		out = append(out, sim.ReplicaPoolConfig{
			Service:      e.Service,
			Replicas:     e.Replicas,
			PerReplica:   e.PerReplica,
			Selector:     e.Selector,
			MaxQueueWait: wait,
		})
	}
	return out, nil
}

// ScenarioConfigs expands scenario entries into one resolved ScenarioConfig
// per rollout. An entry with count N yields N rollouts sharing the scene but
// carrying unique rollout ids.
func (c *BatchConfig) ScenarioConfigs() ([]*sim.ScenarioConfig, error) {
	var out []*sim.ScenarioConfig
	for _, s := range c.Scenarios {
		count := s.Count
		if count <= 0 {
			count = 1
		}
		timeout, err := parseDuration(s.CallTimeout, 10*time.Second)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: call_timeout: %w", s.SceneID, err)
		}
		for i := 0; i < count; i++ {
			cfg := &sim.ScenarioConfig{
				RolloutID:         fmt.Sprintf("%s-%03d-%s", s.SceneID, i, uuid.NewString()[:8]),
				SceneID:           s.SceneID,
				ControlIntervalUS: s.ControlIntervalUS,
				Steps:             s.Steps,
				Clocks:            s.Clocks,
				StrictSync:        s.StrictSync,
				VehicleCount:      s.VehicleCount,
				CameraCount:       s.CameraCount,
				Services:          s.Services,
				MaxCallAttempts:   s.MaxCallAttempts,
				CallTimeout:       timeout,
				LogDir:            s.LogDir,
			}
			out = append(out, cfg)
		}
		if count > 1 {
			logrus.Infof("scenario %s expanded into %d rollouts", s.SceneID, count)
		}
	}
	return out, nil
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}
