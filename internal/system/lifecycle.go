package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Opentrons/opentrons-sub010/internal/canbus"
	"github.com/Opentrons/opentrons-sub010/internal/canbus/socketcan"
	"github.com/Opentrons/opentrons-sub010/internal/config"
	"github.com/Opentrons/opentrons-sub010/internal/movegroup"
	"github.com/Opentrons/opentrons-sub010/internal/plan"
	"github.com/Opentrons/opentrons-sub010/internal/simulator"
	"github.com/Opentrons/opentrons-sub010/internal/storage"
	"github.com/Opentrons/opentrons-sub010/internal/streaming"
	"github.com/Opentrons/opentrons-sub010/internal/types"
	"go.uber.org/zap"
)

// LifecycleManager owns the bus stack for one process: driver,
// messenger, event streamer and the optional run journal.
type LifecycleManager struct {
	config    *config.Config
	storage   *storage.PostgresClient
	logger    *zap.Logger
	streamer  *streaming.EventStreamer
	driver    canbus.Driver
	simulated *simulator.Bus
	messenger *canbus.Messenger

	stateMu      sync.RWMutex
	currentState SystemState
	since        time.Time
	lastErr      error

	events       <-chan *streaming.Event
	eventsDone   chan struct{}
	planMu       sync.Mutex
	planName     string
	shutdownOnce sync.Once
}

// NewLifecycleManager prepares the manager. storage may be nil when the
// journal is disabled.
func NewLifecycleManager(storage *storage.PostgresClient, cfg *config.Config, logger *zap.Logger) *LifecycleManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleManager{
		config:       cfg,
		storage:      storage,
		logger:       logger,
		streamer:     streaming.NewEventStreamer(),
		currentState: StateInitializing,
		since:        time.Now(),
	}
}

// Start opens the bus driver, starts the messenger and begins consuming
// run events.
func (lm *LifecycleManager) Start() error {
	driver, err := lm.openDriver()
	if err != nil {
		return lm.fail(err)
	}
	lm.driver = driver

	lm.messenger = canbus.NewMessenger(driver, lm.config.Bus.FD, lm.logger)
	if err := lm.messenger.Start(); err != nil {
		return lm.fail(fmt.Errorf("failed to start messenger: %w", err))
	}

	lm.events = lm.streamer.Subscribe(streaming.AllRuns)
	lm.eventsDone = make(chan struct{})
	go lm.consumeEvents()

	lm.setState(StateRunning)
	lm.logger.Info("Bus started",
		zap.String("driver", lm.config.Bus.Driver),
		zap.Bool("journal", lm.storage != nil))
	return nil
}

func (lm *LifecycleManager) openDriver() (canbus.Driver, error) {
	switch lm.config.Bus.Driver {
	case config.DriverSocketCAN:
		bus, err := socketcan.Open(lm.config.Bus.Interface, lm.config.Bus.FD)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", lm.config.Bus.Interface, err)
		}
		return bus, nil
	case config.DriverSimulator:
		nodes := make([]types.NodeID, 0, len(lm.config.Simulator.Nodes))
		for _, name := range lm.config.Simulator.Nodes {
			id, err := types.ParseNodeID(name)
			if err != nil {
				return nil, fmt.Errorf("simulator.nodes: %w", err)
			}
			nodes = append(nodes, id)
		}
		lm.simulated = simulator.New(nodes,
			simulator.WithTimeScale(lm.config.Simulator.TimeScale),
			simulator.WithInterruptRates(lm.config.Motion.InterruptsPerSec, lm.config.Motion.BrushedInterruptsPerSec),
			simulator.WithLogger(lm.logger.Named("simulator")))
		return lm.simulated, nil
	default:
		return nil, fmt.Errorf("unknown bus driver %q", lm.config.Bus.Driver)
	}
}

func (lm *LifecycleManager) consumeEvents() {
	defer close(lm.eventsDone)
	for event := range lm.events {
		lm.logger.Info("Run event",
			zap.String("run_id", event.RunID.String()),
			zap.String("type", string(event.Type)),
			zap.Int("group_id", event.GroupID))

		if lm.storage == nil {
			continue
		}
		lm.planMu.Lock()
		name := lm.planName
		lm.planMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := lm.storage.RecordEvent(ctx, name, event); err != nil {
			lm.logger.Error("Failed to journal run event", zap.Error(err))
		}
		cancel()
	}
}

// Runner builds a movegroup runner for p using the configured motion
// settings. Plan settings override config where set.
func (lm *LifecycleManager) Runner(p *plan.Plan) (*movegroup.Runner, error) {
	groups, err := p.MoveGroups()
	if err != nil {
		return nil, err
	}

	opts := movegroup.Options{
		StartAt:      p.StartGroup,
		IgnoreStalls: lm.config.Motion.IgnoreStalls || p.IgnoreStalls,
		Rates: movegroup.Rates{
			InterruptsPerSec:        lm.config.Motion.InterruptsPerSec,
			BrushedInterruptsPerSec: lm.config.Motion.BrushedInterruptsPerSec,
		},
		AckTimeout:        lm.config.Bus.AckTimeout,
		GroupTimeout:      lm.config.Motion.GroupTimeout,
		GroupTimeoutSlack: lm.config.Motion.GroupTimeoutSlack,
	}
	if p.GroupTimeout.Duration > 0 {
		opts.GroupTimeout = p.GroupTimeout.Duration
	}

	return movegroup.NewRunner(groups, opts, lm.streamer, lm.logger.Named("movegroup")), nil
}

// RunPlan executes p on the bus and returns the final node positions.
func (lm *LifecycleManager) RunPlan(ctx context.Context, p *plan.Plan) (movegroup.NodeMap, error) {
	if state := lm.State(); state != StateRunning {
		return nil, fmt.Errorf("cannot run plan: system is %s", state)
	}

	runner, err := lm.Runner(p)
	if err != nil {
		return nil, err
	}

	lm.planMu.Lock()
	lm.planName = p.Name
	lm.planMu.Unlock()

	return runner.Run(ctx, lm.messenger)
}

func (lm *LifecycleManager) Streamer() *streaming.EventStreamer {
	return lm.streamer
}

func (lm *LifecycleManager) Messenger() *canbus.Messenger {
	return lm.messenger
}

// Simulator is the simulated bus, or nil when running on hardware.
func (lm *LifecycleManager) Simulator() *simulator.Bus {
	return lm.simulated
}

// Shutdown stops the messenger, closes the driver and drains pending
// run events.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down bus")
		lm.setState(StateStopping)

		if lm.messenger != nil {
			lm.messenger.Stop()
		}
		if lm.driver != nil {
			if err := lm.driver.Close(); err != nil {
				shutdownErr = fmt.Errorf("failed to close driver: %w", err)
			}
		}

		if lm.events != nil {
			lm.streamer.Unsubscribe(streaming.AllRuns, lm.events)
			select {
			case <-lm.eventsDone:
			case <-ctx.Done():
				lm.logger.Warn("Shutdown timeout, dropping pending run events")
				if shutdownErr == nil {
					shutdownErr = fmt.Errorf("shutdown timeout exceeded")
				}
			}
		}

		lm.setState(StateStopped)
	})

	return shutdownErr
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// Status reports the current state of the bus stack.
func (lm *LifecycleManager) Status() Status {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()

	st := Status{
		State:   lm.currentState,
		Driver:  lm.config.Bus.Driver,
		Journal: lm.storage != nil,
		Since:   lm.since,
	}
	if lm.config.Bus.Driver == config.DriverSocketCAN {
		st.Interface = lm.config.Bus.Interface
	}
	if lm.messenger != nil {
		st.Listeners = lm.messenger.ListenerCount()
	}
	if lm.lastErr != nil {
		st.Error = lm.lastErr.Error()
	}
	return st
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected state transition", zap.Error(err))
	}
	lm.currentState = state
	lm.since = time.Now()
}

func (lm *LifecycleManager) fail(err error) error {
	lm.stateMu.Lock()
	lm.lastErr = err
	lm.stateMu.Unlock()
	lm.setState(StateError)
	return err
}
