package merge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/steveyegge/convmerge/internal/events"
	"github.com/steveyegge/convmerge/internal/identity"
	"github.com/steveyegge/convmerge/internal/types"
	"golang.org/x/sync/errgroup"
)

// ErrSessionNotFound is returned when the session selector matches nothing
var ErrSessionNotFound = errors.New("no session matches the selector")

// Store is the persistence the engine reads and mutates
type Store interface {
	GetSession(ctx context.Context, id string) (*types.Session, error)
	ListSessions(ctx context.Context) ([]*types.Session, error)
	ListConversations(ctx context.Context, sessionID string, includeGroups bool) ([]*types.Conversation, error)
	CountMessages(ctx context.Context, conversationID string) (int, error)
	ReassignMessages(ctx context.Context, fromID, toID string) (int, error)
	DeleteConversation(ctx context.Context, id string) error
	AbsorbConversation(ctx context.Context, id string, lastActivity time.Time, contactName string) error
	RecordMergeEvent(ctx context.Context, event *events.MergeEvent) error
	AcquireMergeLock(ctx context.Context, holder string) (func() error, error)
}

// Options select what one run processes
type Options struct {
	// SessionID limits the run to one session; empty means all sessions
	SessionID string

	// Simulate computes and reports plans without mutating anything
	Simulate bool

	// Progress, when set, is called once per finished session.
	// Calls are serialized even when sessions run concurrently.
	Progress func(*SessionReport)
}

// Engine finds and merges duplicate conversations
type Engine struct {
	store      Store
	cfg        Config
	selector   Selector
	normalizer identity.Normalizer
	logger     zerolog.Logger
}

// NewEngine creates a merge engine
func NewEngine(store Store, cfg Config, logger zerolog.Logger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid merge config: %w", err)
	}
	return &Engine{
		store:      store,
		cfg:        cfg,
		selector:   Selector{DirectSuffix: cfg.DirectSuffix},
		normalizer: cfg.Normalizer(),
		logger:     logger.With().Str("component", "merge").Logger(),
	}, nil
}

// run carries the state shared by the sessions of one Run call
type run struct {
	id       string
	simulate bool
	executor *Executor
	claims   *claimSet

	progressMu sync.Mutex
	progress   func(*SessionReport)
}

func (r *run) report(s *SessionReport) {
	if r.progress == nil {
		return
	}
	r.progressMu.Lock()
	defer r.progressMu.Unlock()
	r.progress(s)
}

// Run processes the selected sessions.
//
// A failure inside one session is recorded on its SessionReport and does not
// stop the others. Run itself only returns an error when nothing could be
// processed: the selector matched no session, the session list could not be
// read, the merge lock is held, or ctx was cancelled.
func (e *Engine) Run(ctx context.Context, opts Options) (*Report, error) {
	sessions, err := e.selectSessions(ctx, opts.SessionID)
	if err != nil {
		return nil, err
	}

	r := &run{
		id:       uuid.New().String(),
		simulate: opts.Simulate,
		claims:   newClaimSet(),
		progress: opts.Progress,
	}
	report := &Report{
		RunID:     r.id,
		Simulated: opts.Simulate,
		StartedAt: time.Now(),
	}

	log := e.logger.With().Str("run", r.id).Bool("simulate", opts.Simulate).Logger()

	if !opts.Simulate {
		release, err := e.store.AcquireMergeLock(ctx, "convmerge run "+r.id)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire merge lock: %w", err)
		}
		defer func() {
			if err := release(); err != nil {
				log.Warn().Err(err).Msg("failed to release merge lock")
			}
		}()
		r.executor = NewExecutor(e.store, e.cfg, r.id, newLimiter(e.cfg), log)
	}

	log.Info().Int("sessions", len(sessions)).Int("workers", e.cfg.Workers).Msg("merge run started")

	results, err := e.processSessions(ctx, r, sessions)
	for _, s := range results {
		if s != nil {
			report.Add(s)
		}
	}
	report.FinishedAt = time.Now()
	if err != nil {
		return report, err
	}

	if !opts.Simulate && e.cfg.RecordEvents {
		event := events.NewMergeRunCompletedEvent(r.id, report.TotalDuplicateGroups,
			report.TotalConversationsMerged, report.TotalMessagesMoved, report.FailedSessions)
		if err := e.store.RecordMergeEvent(ctx, event); err != nil {
			log.Warn().Err(err).Msg("failed to record run summary")
		}
	}

	log.Info().
		Int("groups", report.TotalDuplicateGroups).
		Int("merged", report.TotalConversationsMerged).
		Int("moved", report.TotalMessagesMoved).
		Int("failed_sessions", report.FailedSessions).
		Dur("duration", report.Duration()).
		Msg("merge run finished")

	return report, nil
}

func (e *Engine) selectSessions(ctx context.Context, sessionID string) ([]*types.Session, error) {
	if sessionID != "" {
		session, err := e.store.GetSession(ctx, sessionID)
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
		}
		return []*types.Session{session}, nil
	}

	sessions, err := e.store.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("%w: store has no sessions", ErrSessionNotFound)
	}
	return sessions, nil
}

// processSessions returns one report per session in input order. Sessions
// not started because ctx was cancelled are left nil.
func (e *Engine) processSessions(ctx context.Context, r *run, sessions []*types.Session) ([]*SessionReport, error) {
	results := make([]*SessionReport, len(sessions))

	if e.cfg.Workers <= 1 {
		for i, session := range sessions {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			results[i] = e.processSession(ctx, r, session)
			r.report(results[i])
		}
		return results, ctx.Err()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, session := range sessions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.processSession(gctx, r, session)
			r.report(results[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

// processSession scans, groups, plans and (unless simulating) merges one session
func (e *Engine) processSession(ctx context.Context, r *run, session *types.Session) *SessionReport {
	sr := &SessionReport{SessionID: session.ID, Phone: session.Label()}
	log := e.logger.With().Str("session", session.ID).Logger()

	convs, err := e.store.ListConversations(ctx, session.ID, false)
	if err != nil {
		sr.fail(fmt.Errorf("failed to list conversations for session %s: %w", session.ID, err))
		log.Error().Err(sr.Err).Msg("session aborted")
		return sr
	}
	sr.Conversations = len(convs)

	groups := GroupConversations(convs, e.normalizer)
	if len(groups) == 0 {
		log.Info().Int("conversations", len(convs)).Msg("no duplicates found")
		return sr
	}
	log.Info().Int("conversations", len(convs)).Int("groups", len(groups)).Msg("duplicate groups found")

	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			sr.fail(err)
			return sr
		}

		gr, err := e.processGroup(ctx, r, session.ID, group)
		if gr != nil {
			sr.addGroup(*gr)
		}
		if err != nil {
			sr.fail(fmt.Errorf("session %s, key %s: %w", session.ID, group.Key, err))
			log.Error().Err(err).Str("key", group.Key).Msg("session aborted")
			return sr
		}
	}
	return sr
}

// processGroup plans one group and executes the plan when not simulating.
// The returned report is nil only when planning could not start.
func (e *Engine) processGroup(ctx context.Context, r *run, sessionID string, group Group) (*GroupReport, error) {
	counts, err := e.countMessages(ctx, group)
	if err != nil {
		return nil, err
	}

	survivor, ok := e.selector.SelectSurvivor(group, counts)
	if !ok {
		return nil, fmt.Errorf("empty group for key %s", group.Key)
	}
	plan := BuildPlan(sessionID, group, survivor, counts, r.simulate)
	gr := &GroupReport{Phase: PhasePlanned, Plan: plan}

	e.logger.Debug().
		Str("session", sessionID).
		Str("key", group.Key).
		Str("survivor", plan.SurvivorID).
		Int64("score", plan.SurvivorScore).
		Strs("duplicates", plan.DuplicateIDs()).
		Msg("planned merge")

	if r.simulate {
		gr.Phase = PhaseSimulated
		gr.Merged = len(plan.Duplicates)
		gr.MessagesMoved = plan.MessagesToMove()
		return gr, nil
	}

	ids := group.IDs()
	if !r.claims.claim(ids) {
		gr.Phase = PhaseSkipped
		e.logger.Warn().Str("session", sessionID).Str("key", group.Key).Msg("group already claimed, skipping")
		return gr, nil
	}
	defer r.claims.release(ids)

	res, err := r.executor.Execute(ctx, plan)
	if res != nil {
		gr.Merged = len(res.Merged)
		gr.MessagesMoved = res.MessagesMoved
	}
	if err != nil {
		gr.Phase = PhaseFailed
		gr.Error = err.Error()
		return gr, err
	}
	gr.Phase = PhaseExecuted
	return gr, nil
}

// countMessages reads the message count of every group member
func (e *Engine) countMessages(ctx context.Context, group Group) (map[string]int, error) {
	counts := make(map[string]int, len(group.Members))
	for _, c := range group.Members {
		n, err := e.store.CountMessages(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count messages of %s: %w", c.ID, err)
		}
		counts[c.ID] = n
	}
	return counts, nil
}
