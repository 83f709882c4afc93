package merge

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/steveyegge/convmerge/internal/events"
	"golang.org/x/time/rate"
)

// DuplicateResult records one duplicate that was merged away
type DuplicateResult struct {
	ConversationID string `json:"conversation_id"`
	MessagesMoved  int    `json:"messages_moved"`
}

// ExecutionResult is the outcome of applying one plan
type ExecutionResult struct {
	SurvivorID    string            `json:"survivor_id"`
	Merged        []DuplicateResult `json:"merged"`
	MessagesMoved int               `json:"messages_moved"`
}

// Executor applies merge plans to the store
type Executor struct {
	store   Store
	cfg     Config
	runID   string
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewExecutor creates an executor whose audit events carry runID.
// A nil limiter means writes are not throttled.
func NewExecutor(store Store, cfg Config, runID string, limiter *rate.Limiter, logger zerolog.Logger) *Executor {
	return &Executor{
		store:   store,
		cfg:     cfg,
		runID:   runID,
		limiter: limiter,
		logger:  logger,
	}
}

// newLimiter builds the write limiter for cfg, or nil when unlimited
func newLimiter(cfg Config) *rate.Limiter {
	if cfg.WritesPerSecond <= 0 {
		return nil
	}
	burst := int(cfg.WritesPerSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.WritesPerSecond), burst)
}

// Execute merges every duplicate of the plan into its survivor.
//
// For each duplicate the messages are reassigned first and the conversation
// is deleted second. Once a reassignment has started the delete runs even if
// ctx is cancelled, so cancellation only takes effect between duplicates.
// On error the returned result still describes the duplicates already merged.
func (e *Executor) Execute(ctx context.Context, plan *MergePlan) (*ExecutionResult, error) {
	if plan.Simulated {
		return nil, fmt.Errorf("refusing to execute simulated plan for key %s", plan.Key)
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}

	result := &ExecutionResult{SurvivorID: plan.SurvivorID}

	for _, dup := range plan.Duplicates {
		if err := e.wait(ctx); err != nil {
			return result, err
		}

		moved, err := e.mergeDuplicate(ctx, plan, dup)
		if err != nil {
			return result, err
		}
		result.Merged = append(result.Merged, DuplicateResult{
			ConversationID: dup.ConversationID,
			MessagesMoved:  moved,
		})
		result.MessagesMoved += moved

		if moved != dup.MessageCount {
			e.logger.Warn().
				Str("duplicate", dup.ConversationID).
				Int("planned", dup.MessageCount).
				Int("moved", moved).
				Msg("message count changed since planning")
		}

		if e.cfg.RecordEvents {
			event := events.NewConversationMergedEvent(e.runID, plan.SessionID, plan.Key, plan.SurvivorID, dup.ConversationID, moved)
			if err := e.store.RecordMergeEvent(context.WithoutCancel(ctx), event); err != nil {
				e.logger.Warn().Err(err).Str("duplicate", dup.ConversationID).Msg("failed to record merge event")
			}
		}
	}

	if e.cfg.RefreshSurvivor && len(result.Merged) > 0 {
		lastActivity, name := absorbedMetadata(plan)
		if err := e.store.AbsorbConversation(context.WithoutCancel(ctx), plan.SurvivorID, lastActivity, name); err != nil {
			return result, fmt.Errorf("failed to refresh survivor %s: %w", plan.SurvivorID, err)
		}
	}

	return result, nil
}

// mergeDuplicate reassigns one duplicate's messages and then deletes it
func (e *Executor) mergeDuplicate(ctx context.Context, plan *MergePlan, dup PlannedDuplicate) (int, error) {
	moved, err := e.store.ReassignMessages(ctx, dup.ConversationID, plan.SurvivorID)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign messages from %s to %s: %w", dup.ConversationID, plan.SurvivorID, err)
	}

	unit := context.WithoutCancel(ctx)
	if err := e.wait(unit); err != nil {
		return moved, err
	}
	if err := e.store.DeleteConversation(unit, dup.ConversationID); err != nil {
		return moved, fmt.Errorf("failed to delete duplicate %s after moving %d messages: %w", dup.ConversationID, moved, err)
	}

	e.logger.Debug().
		Str("session", plan.SessionID).
		Str("survivor", plan.SurvivorID).
		Str("duplicate", dup.ConversationID).
		Int("moved", moved).
		Msg("merged duplicate conversation")
	return moved, nil
}

func (e *Executor) wait(ctx context.Context) error {
	if e.limiter == nil {
		return ctx.Err()
	}
	return e.limiter.Wait(ctx)
}

// absorbedMetadata returns the latest duplicate activity and the contact
// name of the most recently active duplicate that has one
func absorbedMetadata(plan *MergePlan) (time.Time, string) {
	var latest, named time.Time
	var name string
	for _, d := range plan.Duplicates {
		if d.LastActivityAt.After(latest) {
			latest = d.LastActivityAt
		}
		if d.ContactName != "" && (name == "" || d.LastActivityAt.After(named)) {
			name = d.ContactName
			named = d.LastActivityAt
		}
	}
	return latest, name
}
