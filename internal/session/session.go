// Package session owns the recording lifecycle. Samples flow into the
// aggregator in every state; totals accrue and snapshots persist only
// while recording.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lowaak/ride-engine/internal/events"
	"github.com/lowaak/ride-engine/internal/go_func_utils"
	"github.com/lowaak/ride-engine/internal/metrics"
	"github.com/lowaak/ride-engine/internal/store"
)

type State int

const (
	StatePending State = iota
	StateReady
	StateRecording
	StatePaused
	StateFinished
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

const defaultSnapshotPeriod = 5 * time.Second

// Session drives one ride from pending to finished. Finished is
// terminal; a new ride needs a new session.
type Session struct {
	logger     *log.Logger
	aggregator *metrics.Aggregator
	store      store.SnapshotStore
	id         string

	mu             sync.Mutex
	state          State
	snapshotPeriod time.Duration
	sinceSnapshot  time.Duration

	stateEvent *events.ChannelEvent[State]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSession(logger *log.Logger, aggregator *metrics.Aggregator, snapshotStore store.SnapshotStore, snapshotPeriod ...time.Duration) *Session {
	if logger == nil {
		panic("Session: logger cannot be nil")
	}
	if aggregator == nil {
		panic("Session: aggregator cannot be nil")
	}
	if snapshotStore == nil {
		panic("Session: store cannot be nil")
	}
	period := defaultSnapshotPeriod
	if len(snapshotPeriod) > 0 && snapshotPeriod[0] > 0 {
		period = snapshotPeriod[0]
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		logger:         logger,
		aggregator:     aggregator,
		store:          snapshotStore,
		id:             time.Now().Format("20060102-150405"),
		state:          StatePending,
		snapshotPeriod: period,
		stateEvent:     events.NewChannelEvent[State](true),
		ctx:            ctx,
		cancel:         cancel,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ListenState registers a channel for state changes; the current state
// is replayed to new listeners.
func (s *Session) ListenState(ch chan<- State) func() {
	return s.stateEvent.Listen(ch)
}

// Snapshot returns the current derived metrics.
func (s *Session) Snapshot() metrics.SimplifiedMetrics {
	return s.aggregator.Snapshot()
}

// MarkReady moves a pending session to ready.
func (s *Session) MarkReady() error {
	return s.transition(StateReady, StatePending)
}

// HandleSensorConnected marks a pending session ready. The first
// connected sensor is as good a readiness signal as an explicit call;
// in any other state this is a no-op.
func (s *Session) HandleSensorConnected() {
	s.mu.Lock()
	if s.state != StatePending {
		s.mu.Unlock()
		return
	}
	s.state = StateReady
	s.mu.Unlock()
	s.logger.Printf("Session[%s]: ready (sensor connected)", s.id)
	s.stateEvent.Notify(StateReady)
}

// Start begins recording from ready.
func (s *Session) Start() error {
	return s.transition(StateRecording, StateReady)
}

// Pause suspends accrual; ingestion continues.
func (s *Session) Pause() error {
	return s.transition(StatePaused, StateRecording)
}

// Resume continues recording after a pause.
func (s *Session) Resume() error {
	return s.transition(StateRecording, StatePaused)
}

// Finish ends the ride from any live state. Terminal. The final
// snapshot is flushed only when recording ever started; a session
// abandoned before that has nothing worth keeping.
func (s *Session) Finish() error {
	s.mu.Lock()
	if s.state == StateFinished {
		s.mu.Unlock()
		return fmt.Errorf("cannot move to %s from %s", StateFinished, StateFinished)
	}
	prior := s.state
	s.state = StateFinished
	s.mu.Unlock()

	s.logger.Printf("Session[%s]: %s", s.id, StateFinished)
	s.stateEvent.Notify(StateFinished)

	if prior != StateRecording && prior != StatePaused {
		return nil
	}
	if err := s.persistSnapshot(); err != nil {
		s.logger.Printf("Session[%s]: final snapshot failed: %v", s.id, err)
		return err
	}
	return nil
}

func (s *Session) transition(to State, from ...State) error {
	s.mu.Lock()
	allowed := false
	for _, f := range from {
		if s.state == f {
			allowed = true
			break
		}
	}
	if !allowed {
		current := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot move to %s from %s", to, current)
	}
	s.state = to
	s.mu.Unlock()

	s.logger.Printf("Session[%s]: %s", s.id, to)
	s.stateEvent.Notify(to)
	return nil
}

// Run drives the once-per-second tick until Shutdown.
func (s *Session) Run() {
	s.wg.Add(1)
	go_func_utils.SafeGo(s.logger, func() {
		defer s.wg.Done()

		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.tick(1 * time.Second)
			}
		}
	})
}

// tick advances the aggregator and persists a snapshot every period.
// Only recording time moves anything.
func (s *Session) tick(dt time.Duration) {
	s.mu.Lock()
	recording := s.state == StateRecording
	var persist bool
	if recording {
		s.sinceSnapshot += dt
		if s.sinceSnapshot >= s.snapshotPeriod {
			s.sinceSnapshot = 0
			persist = true
		}
	}
	s.mu.Unlock()

	if !recording {
		return
	}

	s.aggregator.Tick(dt)

	if persist {
		if err := s.persistSnapshot(); err != nil {
			s.logger.Printf("Session[%s]: snapshot failed: %v", s.id, err)
		}
	}
}

func (s *Session) persistSnapshot() error {
	ctx, cancel := context.WithTimeout(s.ctx, 3*time.Second)
	defer cancel()
	return s.store.SaveSnapshot(ctx, s.id, s.aggregator.Snapshot())
}

// Shutdown stops the tick loop. It does not finish the session; an
// unfinished ride keeps its last periodic snapshot.
func (s *Session) Shutdown() {
	s.cancel()
	s.wg.Wait()
}
