package system

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Opentrons/opentrons-sub010/internal/config"
	"github.com/Opentrons/opentrons-sub010/internal/plan"
	"github.com/Opentrons/opentrons-sub010/internal/streaming"
	"github.com/Opentrons/opentrons-sub010/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func simulatorConfig(t *testing.T) *config.Config {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Bus.Driver = config.DriverSimulator
	cfg.Simulator.Nodes = []string{"gantry_x", "gantry_y"}
	return cfg
}

func TestRunPlanOnSimulator(t *testing.T) {
	lm := NewLifecycleManager(nil, simulatorConfig(t), zaptest.NewLogger(t))
	require.NoError(t, lm.Start())
	assert.Equal(t, StateRunning, lm.State())
	require.NotNil(t, lm.Simulator())

	events := lm.Streamer().Subscribe(streaming.AllRuns)

	p := &plan.Plan{
		Name: "two-axis",
		Groups: [][]plan.StepSpec{
			{{
				"gantry_x": {Linear: &plan.LinearSpec{Distance: 30, Velocity: 15, Duration: 2}},
				"gantry_y": {Linear: &plan.LinearSpec{Distance: 10, Velocity: 5, Duration: 2}},
			}},
		},
	}
	positions, err := lm.RunPlan(context.Background(), p)
	require.NoError(t, err)
	assert.InDelta(t, 30.0, positions[types.NodeGantryX].PositionMM, 0.01)
	assert.InDelta(t, 10.0, positions[types.NodeGantryY].PositionMM, 0.01)

	first := <-events
	assert.Equal(t, streaming.EventRunStarted, first.Type)

	require.NoError(t, lm.Shutdown(context.Background()))
	assert.Equal(t, StateStopped, lm.State())
	assert.NoError(t, lm.Shutdown(context.Background()))
}

func TestRunPlanRequiresRunning(t *testing.T) {
	lm := NewLifecycleManager(nil, simulatorConfig(t), zaptest.NewLogger(t))
	_, err := lm.RunPlan(context.Background(), &plan.Plan{})
	assert.ErrorContains(t, err, "INITIALIZING")
}

func TestStartRejectsUnknownSimulatorNode(t *testing.T) {
	cfg := simulatorConfig(t)
	cfg.Simulator.Nodes = []string{"gantry_q"}

	lm := NewLifecycleManager(nil, cfg, zaptest.NewLogger(t))
	err := lm.Start()
	assert.ErrorContains(t, err, "simulator.nodes")
	assert.Equal(t, StateError, lm.State())

	st := lm.Status()
	assert.Equal(t, StateError, st.State)
	assert.Contains(t, st.Error, "gantry_q")
	require.NoError(t, lm.Shutdown(context.Background()))
	assert.Equal(t, StateStopped, lm.State())
}

func TestStatusReportsDriver(t *testing.T) {
	lm := NewLifecycleManager(nil, simulatorConfig(t), zaptest.NewLogger(t))
	require.NoError(t, lm.Start())
	defer lm.Shutdown(context.Background())

	st := lm.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, config.DriverSimulator, st.Driver)
	assert.Empty(t, st.Interface)
	assert.False(t, st.Journal)
	assert.False(t, st.Since.IsZero())

	data, err := json.Marshal(st)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"RUNNING"`)
}

func TestRunnerAppliesPlanOverrides(t *testing.T) {
	cfg := simulatorConfig(t)
	lm := NewLifecycleManager(nil, cfg, zaptest.NewLogger(t))

	p := &plan.Plan{
		StartGroup: 4,
		Groups:     [][]plan.StepSpec{{{"gantry_x": {Linear: &plan.LinearSpec{Duration: 1}}}}},
	}
	r, err := lm.Runner(p)
	require.NoError(t, err)
	assert.Equal(t, []types.NodeID{types.NodeGantryX}, r.AllNodes())
}

func TestValidateTransition(t *testing.T) {
	assert.NoError(t, ValidateTransition(StateInitializing, StateRunning))
	assert.NoError(t, ValidateTransition(StateRunning, StateStopping))
	assert.NoError(t, ValidateTransition(StateStopping, StateStopped))
	assert.Error(t, ValidateTransition(StateStopped, StateRunning))
	assert.Error(t, ValidateTransition(SystemState(42), StateRunning))
}
