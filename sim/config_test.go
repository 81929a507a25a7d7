package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// validScenario returns a minimal passing config for mutation in tests.
func validScenario() *ScenarioConfig {
	return &ScenarioConfig{
		RolloutID:         "r-001",
		SceneID:           "scene-a",
		ControlIntervalUS: 33000,
		Steps:             10,
		Clocks: []ClockSpec{
			{Name: ClockCamera, IntervalUS: 33000, PhaseOffsetUS: 18000, ShutterUS: 15000},
		},
		VehicleCount:    1,
		Services:        []string{ServiceWorld, ServicePolicy, ServiceVehicle},
		MaxCallAttempts: 3,
		CallTimeout:     5 * time.Second,
		LogDir:          "/tmp/logs",
	}
}

func TestScenarioConfig_Validate_OK(t *testing.T) {
	require.NoError(t, validScenario().Validate())
}

func TestScenarioConfig_Validate_Faults(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ScenarioConfig)
		field  string
	}{
		{"missing rollout id", func(c *ScenarioConfig) { c.RolloutID = "" }, "rollout_id"},
		{"zero steps", func(c *ScenarioConfig) { c.Steps = 0 }, "steps"},
		{"no vehicles", func(c *ScenarioConfig) { c.VehicleCount = 0 }, "vehicle_count"},
		{"negative cameras", func(c *ScenarioConfig) { c.CameraCount = -1 }, "camera_count"},
		{"no services", func(c *ScenarioConfig) { c.Services = nil }, "services"},
		{"unknown service", func(c *ScenarioConfig) { c.Services = []string{"teleport"} }, "services"},
		{"zero attempts", func(c *ScenarioConfig) { c.MaxCallAttempts = 0 }, "max_call_attempts"},
		{"zero timeout", func(c *ScenarioConfig) { c.CallTimeout = 0 }, "call_timeout"},
		{"misaligned clock", func(c *ScenarioConfig) { c.Clocks[0].IntervalUS = 40000 }, ClockCamera},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validScenario()
			tc.mutate(cfg)
			err := cfg.Validate()
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			require.Equal(t, tc.field, ce.Field)
		})
	}
}

func TestScenarioConfig_ServiceActive(t *testing.T) {
	cfg := validScenario()
	require.True(t, cfg.ServiceActive(ServiceWorld))
	require.False(t, cfg.ServiceActive(ServiceRender))
}

func TestScenarioConfig_Duration(t *testing.T) {
	cfg := validScenario()
	require.Equal(t, SimInstant(330000), cfg.Duration())
}
