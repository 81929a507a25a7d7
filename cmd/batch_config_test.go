package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleBatch = `
endpoints:
  - service: world
    replicas: ["localhost:7001", "localhost:7002"]
    per_replica_concurrency: 4
    selector: least-inflight
    max_queue_wait: 30s
  - service: policy
    replicas: ["localhost:7101"]
    per_replica_concurrency: 2
scenarios:
  - scene_id: urban-merge-01
    count: 3
    control_interval_us: 33000
    steps: 300
    strict_sync: true
    vehicle_count: 12
    camera_count: 6
    services: [world, policy]
    max_call_attempts: 3
    call_timeout: 10s
    log_dir: ./logs
    clocks:
      - name: camera
        interval_us: 33000
        phase_offset_us: 18000
        shutter_us: 15000
  - scene_id: highway-exit-02
    control_interval_us: 50000
    steps: 100
    vehicle_count: 4
    services: [world, policy]
    max_call_attempts: 2
    log_dir: ./logs
`

func writeBatch(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadBatchConfig_ResolvesPoolsAndScenarios(t *testing.T) {
	cfg, err := LoadBatchConfig(writeBatch(t, sampleBatch))
	require.NoError(t, err)

	pools, err := cfg.PoolConfigs()
	require.NoError(t, err)
	require.Len(t, pools, 2)
	require.Equal(t, "world", pools[0].Service)
	require.Equal(t, int64(4), pools[0].PerReplica)
	require.Equal(t, 30*time.Second, pools[0].MaxQueueWait)
	require.Equal(t, time.Duration(0), pools[1].MaxQueueWait)

	scenarios, err := cfg.ScenarioConfigs()
	require.NoError(t, err)
	// urban-merge-01 expands into 3 rollouts, highway-exit-02 into 1.
	require.Len(t, scenarios, 4)

	ids := map[string]bool{}
	for _, s := range scenarios[:3] {
		require.Equal(t, "urban-merge-01", s.SceneID)
		require.True(t, s.StrictSync)
		require.Equal(t, 10*time.Second, s.CallTimeout)
		require.Len(t, s.Clocks, 1)
		require.Equal(t, int64(15000), s.Clocks[0].ShutterUS)
		require.False(t, ids[s.RolloutID], "rollout ids must be unique")
		ids[s.RolloutID] = true
		require.NoError(t, s.Validate())
	}
	require.Equal(t, "highway-exit-02", scenarios[3].SceneID)
	require.Equal(t, 10*time.Second, scenarios[3].CallTimeout, "call_timeout defaults to 10s")
}

func TestLoadBatchConfig_RejectsEmptySections(t *testing.T) {
	_, err := LoadBatchConfig(writeBatch(t, "endpoints: []\nscenarios: []\n"))
	require.Error(t, err)

	_, err = LoadBatchConfig(writeBatch(t, "endpoints:\n  - service: world\n    replicas: [a]\n    per_replica_concurrency: 1\nscenarios: []\n"))
	require.Error(t, err)
}

func TestLoadBatchConfig_BadDuration(t *testing.T) {
	bad := `
endpoints:
  - service: world
    replicas: ["localhost:7001"]
    per_replica_concurrency: 1
    max_queue_wait: thirty seconds
scenarios:
  - scene_id: s
    control_interval_us: 1000
    steps: 1
    vehicle_count: 1
    services: [world]
    max_call_attempts: 1
    log_dir: ./logs
`
	cfg, err := LoadBatchConfig(writeBatch(t, bad))
	require.NoError(t, err)
	_, err = cfg.PoolConfigs()
	require.Error(t, err)
}

func TestLoadBatchConfig_MissingFile(t *testing.T) {
	_, err := LoadBatchConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
