// Package orchestrator drives cohort sessions through the fixed simulation
// sequence. Transitions persist durably when they can, fall back to an
// in-memory shadow record when storage is down, and broadcast progress to the
// session room and the facilitator dashboard. Broadcast and side-effect
// failures never block progression.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/oakline/venturesim/internal/id"
	"github.com/oakline/venturesim/internal/platform/timeouts"
	"github.com/oakline/venturesim/internal/services/game/domain"
	"github.com/oakline/venturesim/internal/services/game/storage"
)

// ErrSimulationAlreadyStarted indicates a start request for a session that
// has already left the lobby.
var ErrSimulationAlreadyStarted = errors.New("simulation already started")

// Stores bundles the persistence interfaces the orchestrator writes through.
type Stores struct {
	Sessions     storage.SessionStore
	Participants storage.ParticipantStore
	Groups       storage.GroupStore
	Submissions  storage.SubmissionStore
}

// Config carries the orchestrator dependencies. Clock and IDGenerator default
// to the real ones; Broadcaster may be nil during tests.
type Config struct {
	Stores      Stores
	Broadcaster Broadcaster
	Clock       func() time.Time
	IDGenerator func() (string, error)
	GroupSize   int
	Logger      *log.Logger
}

// Orchestrator is the session state machine. One instance serves every
// session; per-session locks serialize transitions so a timer expiry and a
// facilitator skip can never interleave.
type Orchestrator struct {
	stores      Stores
	broadcaster Broadcaster
	clock       func() time.Time
	idGenerator func() (string, error)
	groupSize   int
	logger      *log.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	shadows map[string]domain.Session
	locks   map[string]*sync.Mutex
}

// New creates an orchestrator.
func New(config Config) (*Orchestrator, error) {
	if config.Stores.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if config.Stores.Participants == nil {
		return nil, fmt.Errorf("participant store is required")
	}
	if config.Stores.Groups == nil {
		return nil, fmt.Errorf("group store is required")
	}
	if config.Stores.Submissions == nil {
		return nil, fmt.Errorf("submission store is required")
	}
	clock := config.Clock
	if clock == nil {
		clock = time.Now
	}
	idGenerator := config.IDGenerator
	if idGenerator == nil {
		idGenerator = id.NewID
	}
	groupSize := config.GroupSize
	if groupSize <= 0 {
		groupSize = domain.DefaultGroupSize
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{
		stores:      config.Stores,
		broadcaster: config.Broadcaster,
		clock:       clock,
		idGenerator: idGenerator,
		groupSize:   groupSize,
		logger:      logger,
		timers:      make(map[string]*time.Timer),
		shadows:     make(map[string]domain.Session),
		locks:       make(map[string]*sync.Mutex),
	}, nil
}

func (o *Orchestrator) now() time.Time {
	return o.clock().UTC()
}

func (o *Orchestrator) logf(operation, sessionID string, err error) {
	o.logger.Printf("game: %s failed session=%q err=%v", operation, sessionID, err)
}

func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[sessionID] = lock
	}
	return lock
}

// StartSimulation moves a lobby session onto the first timed stage and stamps
// the simulation clock. Sessions that already left the lobby are rejected so a
// double-click on the start button cannot restart a run.
func (o *Orchestrator) StartSimulation(ctx context.Context, sessionID string) (domain.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Session{}, fmt.Errorf("session id is required")
	}

	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := o.loadSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if session.CurrentStage != domain.StageLobby {
		return domain.Session{}, ErrSimulationAlreadyStarted
	}

	startedAt := o.now()
	endsAt := startedAt.Add(domain.SimulationDuration)
	if err := o.stores.Sessions.UpdateSessionClock(ctx, sessionID, startedAt, endsAt); err != nil {
		o.logf("stamp simulation clock", sessionID, err)
	} else {
		session.Status = domain.SessionStatusRunning
		session.SimulationStartedAt = &startedAt
		session.SimulationEndsAt = &endsAt
	}

	first, ok := session.CurrentStage.Next()
	if !ok {
		return session, nil
	}
	return o.setStage(ctx, session, first), nil
}

// AdvanceStage moves a session to the next stage of the sequence. It serves
// both timer expiries and facilitator skips; on a terminal or unknown stage it
// clears any pending timer and leaves the session alone.
func (o *Orchestrator) AdvanceStage(ctx context.Context, sessionID string) (domain.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Session{}, fmt.Errorf("session id is required")
	}

	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := o.loadSession(ctx, sessionID)
	if err != nil {
		o.clearTimer(sessionID)
		return domain.Session{}, err
	}

	next, ok := session.CurrentStage.Next()
	if !ok {
		o.clearTimer(sessionID)
		return session, nil
	}

	o.forceStageSubmissions(ctx, session)
	return o.setStage(ctx, session, next), nil
}

// PauseSession applies a facilitator pause: the auto-advance timer is dropped
// and the status flips to PAUSED.
func (o *Orchestrator) PauseSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return o.overrideStatus(ctx, sessionID, domain.SessionStatusPaused)
}

// CompleteSession is the facilitator override that ends a run early, skipping
// whatever stages remain.
func (o *Orchestrator) CompleteSession(ctx context.Context, sessionID string) (domain.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Session{}, fmt.Errorf("session id is required")
	}

	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := o.loadSession(ctx, sessionID)
	if err != nil {
		o.clearTimer(sessionID)
		return domain.Session{}, err
	}
	if session.CurrentStage.IsTerminal() {
		o.clearTimer(sessionID)
		return session, nil
	}
	return o.setStage(ctx, session, domain.StageCompleted), nil
}

func (o *Orchestrator) overrideStatus(ctx context.Context, sessionID string, status domain.SessionStatus) (domain.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Session{}, fmt.Errorf("session id is required")
	}

	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := o.loadSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}

	o.clearTimer(sessionID)
	if err := o.stores.Sessions.UpdateSessionStatus(ctx, sessionID, status); err != nil {
		o.logf("override session status", sessionID, err)
		session.Status = status
		session.UpdatedAt = o.now()
		o.writeShadow(session)
		return session, nil
	}

	updated, err := o.stores.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		o.logf("read session after status override", sessionID, err)
		session.Status = status
		session.UpdatedAt = o.now()
		return session, nil
	}
	o.dropShadow(sessionID)
	o.broadcastAdminUpdated(updated)
	return updated, nil
}

// Stop cancels every pending auto-advance timer. Sessions resume from their
// persisted stage on the next process start.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for sessionID, timer := range o.timers {
		timer.Stop()
		delete(o.timers, sessionID)
	}
}

// setStage performs one transition: stamp, persist (shadow on failure),
// announce, run the stage's side effects, and arm the next timer. It never
// fails; a session is always locatable through the shadow record.
func (o *Orchestrator) setStage(ctx context.Context, session domain.Session, stage domain.Stage) domain.Session {
	sessionID := session.ID
	startedAt := o.now()
	var endsAt *time.Time
	if duration := stage.Duration(); duration > 0 {
		deadline := startedAt.Add(duration)
		endsAt = &deadline
	}

	session.CurrentStage = stage
	session.StageStartedAt = startedAt
	session.StageEndsAt = endsAt
	session.UpdatedAt = startedAt
	if stage.IsTerminal() {
		session.Status = domain.SessionStatusCompleted
	}

	durable := true
	if err := o.stores.Sessions.UpdateSessionStage(ctx, sessionID, stage, startedAt, endsAt); err != nil {
		durable = false
		o.logf("persist stage", sessionID, err)
		o.writeShadow(session)
	}
	if durable && stage.IsTerminal() {
		if err := o.stores.Sessions.UpdateSessionStatus(ctx, sessionID, domain.SessionStatusCompleted); err != nil {
			o.logf("complete session status", sessionID, err)
		}
	}

	o.broadcastTaskChanged(sessionID, stage, startedAt, endsAt)
	o.applyStageSideEffects(ctx, sessionID, stage)

	if durable {
		updated, err := o.stores.Sessions.GetSession(ctx, sessionID)
		if err != nil {
			o.logf("read session after transition", sessionID, err)
		} else {
			session = updated
		}
		o.dropShadow(sessionID)
		o.broadcastAdminUpdated(session)
	}

	o.armTimer(sessionID, endsAt)
	return session
}

// applyStageSideEffects runs the entry hook for stages that have one. Group
// formation happens when the cohort first reaches market selection; the same
// rosters are retagged, not rebuilt, for budget allocation.
func (o *Orchestrator) applyStageSideEffects(ctx context.Context, sessionID string, stage domain.Stage) {
	switch stage {
	case domain.StageMarketSelection:
		o.formGroups(ctx, sessionID)
	case domain.StageBudgetAllocation:
		if err := o.stores.Groups.RetagGroupsBySession(ctx, sessionID, stage); err != nil {
			o.logf("retag groups", sessionID, err)
		}
	}
}

func (o *Orchestrator) formGroups(ctx context.Context, sessionID string) {
	count, err := o.stores.Groups.CountGroupsBySession(ctx, sessionID)
	if err != nil {
		o.logf("count groups", sessionID, err)
		return
	}
	if count > 0 {
		if err := o.stores.Groups.RetagGroupsBySession(ctx, sessionID, domain.StageMarketSelection); err != nil {
			o.logf("retag groups", sessionID, err)
		}
		return
	}

	participants, err := o.stores.Participants.ListJoinedParticipants(ctx, sessionID)
	if err != nil {
		o.logf("list participants", sessionID, err)
		return
	}
	if len(participants) == 0 {
		return
	}

	createdAt := o.now()
	for i, chunk := range domain.ChunkParticipants(participants, o.groupSize) {
		groupID, err := o.idGenerator()
		if err != nil {
			o.logf("generate group id", sessionID, err)
			return
		}
		memberIDs := make([]string, len(chunk))
		for j, participant := range chunk {
			memberIDs[j] = participant.ID
		}
		group := domain.Group{
			ID:        groupID,
			SessionID: sessionID,
			Name:      fmt.Sprintf("Group %d", i+1),
			TaskType:  domain.StageMarketSelection,
			LeaderID:  memberIDs[0],
			MemberIDs: memberIDs,
			CreatedAt: createdAt,
		}
		if err := o.stores.Groups.CreateGroup(ctx, group); err != nil {
			o.logf("create group", sessionID, err)
		}
	}
}

// forceStageSubmissions synthesizes zeroed submissions for every joined
// participant who never submitted for the expiring stage, then announces how
// many were forced. Lobby and terminal stages collect nothing.
func (o *Orchestrator) forceStageSubmissions(ctx context.Context, session domain.Session) {
	stage := session.CurrentStage
	if stage == domain.StageLobby || stage.IsTerminal() {
		return
	}
	sessionID := session.ID

	participants, err := o.stores.Participants.ListJoinedParticipants(ctx, sessionID)
	if err != nil {
		o.logf("list participants", sessionID, err)
		return
	}
	if len(participants) == 0 {
		return
	}

	submitted := make(map[string]bool)
	submissions, err := o.stores.Submissions.ListSubmissionsByStage(ctx, sessionID, stage)
	if err != nil {
		o.logf("list submissions", sessionID, err)
		return
	}
	for _, submission := range submissions {
		submitted[submission.ParticipantID] = true
	}

	createdAt := o.now()
	forced := 0
	for _, participant := range participants {
		if submitted[participant.ID] {
			continue
		}
		submissionID, err := o.idGenerator()
		if err != nil {
			o.logf("generate submission id", sessionID, err)
			return
		}
		submission := domain.Submission{
			ID:            submissionID,
			SessionID:     sessionID,
			ParticipantID: participant.ID,
			Stage:         stage,
			Forced:        true,
			CreatedAt:     createdAt,
		}
		err = o.stores.Submissions.PutSubmission(ctx, submission)
		switch {
		case err == nil:
			forced++
		case errors.Is(err, storage.ErrAlreadyExists):
			// Lost the race to a late submit; nothing to force.
		default:
			o.logf("force submission", sessionID, err)
		}
	}
	if forced > 0 {
		o.broadcastSubmissionForced(sessionID, stage, forced)
	}
}

// ForceSubmissions is the facilitator-triggered variant of the stage-cutoff
// forcing pass.
func (o *Orchestrator) ForceSubmissions(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := o.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	o.forceStageSubmissions(ctx, session)
	return nil
}

// loadSession returns the freshest view of a session. A shadow record exists
// only while durable writes are failing, which makes it newer than whatever
// the store holds; it wins until a durable write drops it.
func (o *Orchestrator) loadSession(ctx context.Context, sessionID string) (domain.Session, error) {
	o.mu.Lock()
	shadow, ok := o.shadows[sessionID]
	o.mu.Unlock()
	if ok {
		return shadow, nil
	}
	return o.stores.Sessions.GetSession(ctx, sessionID)
}

func (o *Orchestrator) writeShadow(session domain.Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.shadows[session.ID] = session
}

func (o *Orchestrator) dropShadow(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.shadows, sessionID)
}

// armTimer replaces any pending timer for the session. A nil deadline leaves
// the session waiting on a facilitator action.
func (o *Orchestrator) armTimer(sessionID string, endsAt *time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if timer, ok := o.timers[sessionID]; ok {
		timer.Stop()
		delete(o.timers, sessionID)
	}
	if endsAt == nil {
		return
	}
	wait := endsAt.Sub(o.now())
	if wait < 0 {
		wait = 0
	}
	o.timers[sessionID] = time.AfterFunc(wait, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.StoreWrite)
		defer cancel()
		if _, err := o.AdvanceStage(ctx, sessionID); err != nil {
			o.logf("auto advance", sessionID, err)
		}
	})
}

func (o *Orchestrator) clearTimer(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if timer, ok := o.timers[sessionID]; ok {
		timer.Stop()
		delete(o.timers, sessionID)
	}
}

// timerCount reports the number of armed timers, for tests.
func (o *Orchestrator) timerCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.timers)
}
