package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/stratix-hq/control-plane/internal/cache"
	"github.com/stratix-hq/control-plane/internal/config"
	"github.com/stratix-hq/control-plane/internal/models"
	"github.com/stratix-hq/control-plane/internal/repository"
)

// windowOfDay is one daily eligibility window, minutes after midnight.
type windowOfDay struct {
	hour   int
	minute int
}

// Scheduler runs engagement-driven reminder passes. Each pass scans
// outstanding invitations, asks the analyzer for a recommendation per
// invitation, and executes resends and reminders; cancellation
// recommendations are surfaced for a human decision, never executed.
//
// Passes only start inside configured weekday windows, and a per-scope cache
// lock guarantees at most one concurrent pass per scope.
type Scheduler struct {
	invitations repository.InvitationRepository
	events      repository.EventRepository
	dispatcher  *Dispatcher
	locks       cache.Cache
	policy      EngagementPolicy
	logger      *slog.Logger
	now         func() time.Time

	windows      []windowOfDay
	windowLength time.Duration
	concurrency  int
	lockTTL      time.Duration
}

// NewScheduler creates a scheduler from configuration. Malformed window
// specs are rejected so a bad deploy fails at startup, not at 09:00.
func NewScheduler(
	invitations repository.InvitationRepository,
	events repository.EventRepository,
	dispatcher *Dispatcher,
	locks cache.Cache,
	policy EngagementPolicy,
	cfg config.SchedulerConfig,
	logger *slog.Logger,
) (*Scheduler, error) {
	windows, err := parseWindows(cfg.Windows)
	if err != nil {
		return nil, err
	}

	windowLength := cfg.WindowLength
	if windowLength <= 0 {
		windowLength = time.Hour
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}

	return &Scheduler{
		invitations:  invitations,
		events:       events,
		dispatcher:   dispatcher,
		locks:        locks,
		policy:       policy,
		logger:       logger,
		now:          time.Now,
		windows:      windows,
		windowLength: windowLength,
		concurrency:  concurrency,
		lockTTL:      lockTTL,
	}, nil
}

func parseWindows(specs []string) ([]windowOfDay, error) {
	if len(specs) == 0 {
		specs = []string{"09:00", "14:00"}
	}
	windows := make([]windowOfDay, 0, len(specs))
	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("scheduler window %q: want HH:MM", spec)
		}
		hour, err := strconv.Atoi(parts[0])
		if err != nil || hour < 0 || hour > 23 {
			return nil, fmt.Errorf("scheduler window %q: bad hour", spec)
		}
		minute, err := strconv.Atoi(parts[1])
		if err != nil || minute < 0 || minute > 59 {
			return nil, fmt.Errorf("scheduler window %q: bad minute", spec)
		}
		windows = append(windows, windowOfDay{hour: hour, minute: minute})
	}
	sort.Slice(windows, func(i, j int) bool {
		if windows[i].hour != windows[j].hour {
			return windows[i].hour < windows[j].hour
		}
		return windows[i].minute < windows[j].minute
	})
	return windows, nil
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// InWindow reports whether a pass may start at t.
func (s *Scheduler) InWindow(t time.Time) bool {
	if isWeekend(t) {
		return false
	}
	for _, w := range s.windows {
		open := time.Date(t.Year(), t.Month(), t.Day(), w.hour, w.minute, 0, 0, t.Location())
		if !t.Before(open) && t.Before(open.Add(s.windowLength)) {
			return true
		}
	}
	return false
}

// NextRun returns the next time a pass may start at or after t. If t is
// already inside a window it returns t.
func (s *Scheduler) NextRun(t time.Time) time.Time {
	if s.InWindow(t) {
		return t
	}
	// Two weeks is enough to clear any weekend/window combination.
	for day := 0; day < 14; day++ {
		date := t.AddDate(0, 0, day)
		if isWeekend(date) {
			continue
		}
		for _, w := range s.windows {
			open := time.Date(date.Year(), date.Month(), date.Day(), w.hour, w.minute, 0, 0, t.Location())
			if open.After(t) {
				return open
			}
		}
	}
	return t // unreachable with a sane config
}

// PassResult summarizes one scheduler pass.
type PassResult struct {
	// Ran is false when the pass was a no-op (outside window, or lock held).
	Ran       bool   `json:"ran"`
	Reason    string `json:"reason,omitempty"`
	Processed int    `json:"processed"`
	Resent    int    `json:"resent"`
	Reminded  int    `json:"reminded"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	// RecommendedCancellations lists invitations flagged for a human
	// decision; the scheduler never cancels.
	RecommendedCancellations []uuid.UUID `json:"recommended_cancellations"`
}

// RunPass executes one scheduler pass over the given scope (nil orgID scans
// all tenants). force bypasses the eligibility window for manual triggers;
// the overlap lock is never bypassed.
func (s *Scheduler) RunPass(ctx context.Context, orgID *uuid.UUID, force bool) (*PassResult, error) {
	now := s.now()
	if !force && !s.InWindow(now) {
		schedulerPassesTotal.WithLabelValues("skipped_window").Inc()
		return &PassResult{Reason: "outside eligibility window", RecommendedCancellations: []uuid.UUID{}}, nil
	}

	scope := "all"
	if orgID != nil {
		scope = orgID.String()
	}
	lockKey := "scheduler:pass:" + scope

	acquired, err := s.locks.TryLock(ctx, lockKey, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire scheduler lock: %w", err)
	}
	if !acquired {
		schedulerPassesTotal.WithLabelValues("skipped_locked").Inc()
		return &PassResult{Reason: "another pass holds the lock", RecommendedCancellations: []uuid.UUID{}}, nil
	}
	defer func() {
		if err := s.locks.Unlock(ctx, lockKey); err != nil {
			s.logger.Error("failed to release scheduler lock", "key", lockKey, "error", err)
		}
	}()

	started := time.Now()
	result, err := s.pass(ctx, orgID, now)
	schedulerPassDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, err
	}

	schedulerPassesTotal.WithLabelValues("completed").Inc()
	s.logger.Info("scheduler pass completed",
		"scope", scope,
		"processed", result.Processed,
		"resent", result.Resent,
		"reminded", result.Reminded,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"recommended_cancellations", len(result.RecommendedCancellations))
	return result, nil
}

func (s *Scheduler) pass(ctx context.Context, orgID *uuid.UUID, now time.Time) (*PassResult, error) {
	invs, err := s.invitations.ListOutstanding(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("list outstanding invitations: %w", err)
	}

	result := &PassResult{Ran: true, RecommendedCancellations: []uuid.UUID{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, inv := range invs {
		rec, err := Analyze(inv, s.policy, now)
		if err != nil {
			continue
		}
		result.Processed++

		switch rec {
		case RecommendWait:
			result.Skipped++
		case RecommendCancellation:
			result.RecommendedCancellations = append(result.RecommendedCancellations, inv.ID)
		case RecommendResend:
			inv := inv
			g.Go(func() error {
				err := s.executeResend(gctx, inv)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.Failed++
				} else {
					result.Resent++
				}
				return nil
			})
		case RecommendRemind:
			inv := inv
			g.Go(func() error {
				err := s.executeReminder(gctx, inv)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.Failed++
				} else {
					result.Reminded++
				}
				return nil
			})
		}
	}

	// Per-item failures are tallied, never propagated.
	_ = g.Wait()
	return result, nil
}

// executeResend re-dispatches an expired invitation and re-arms its
// validity window.
func (s *Scheduler) executeResend(ctx context.Context, inv *models.Invitation) error {
	kind := mailResend
	if inv.Status == models.InvitationStatusPending {
		kind = mailInvite
	}

	res, err := s.dispatcher.Send(ctx, inv, kind)
	if err != nil {
		deliveryFailuresTotal.Inc()
		s.logger.Error("scheduled resend dispatch failed", "invitation_id", inv.ID, "error", err)
		if recErr := s.invitations.RecordDeliveryError(ctx, inv.ID, err.Error()); recErr != nil {
			s.logger.Error("failed to record delivery error", "invitation_id", inv.ID, "error", recErr)
		}
		return err
	}

	now := s.now()
	expiresAt := now.Add(models.DefaultExpiry)

	var ok bool
	if inv.Status == models.InvitationStatusPending {
		ok, err = s.invitations.MarkSent(ctx, inv.ID, now, res.MessageID)
		if err == nil && ok {
			invitationsSentTotal.Inc()
			s.appendEvent(ctx, inv, models.EventSent, map[string]any{"message_id": res.MessageID}, now)
		}
	} else {
		ok, err = s.invitations.RecordResend(ctx, inv.ID, expiresAt, res.MessageID, now)
		if err == nil && ok {
			invitationsResentTotal.Inc()
			s.appendEvent(ctx, inv, models.EventResent, map[string]any{
				"message_id": res.MessageID,
				"expires_at": expiresAt,
				"automatic":  true,
			}, now)
		}
	}
	if err != nil {
		return err
	}
	if !ok {
		// The invitation reached a terminal state between scan and send.
		return fmt.Errorf("invitation %s no longer resendable", inv.ID)
	}
	return nil
}

// executeReminder nudges an unengaged recipient without touching status or
// expiry.
func (s *Scheduler) executeReminder(ctx context.Context, inv *models.Invitation) error {
	if _, err := s.dispatcher.Send(ctx, inv, mailReminder); err != nil {
		deliveryFailuresTotal.Inc()
		s.logger.Error("reminder dispatch failed", "invitation_id", inv.ID, "error", err)
		if recErr := s.invitations.RecordDeliveryError(ctx, inv.ID, err.Error()); recErr != nil {
			s.logger.Error("failed to record delivery error", "invitation_id", inv.ID, "error", recErr)
		}
		return err
	}

	now := s.now()
	ok, err := s.invitations.RecordReminder(ctx, inv.ID, now)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("invitation %s no longer remindable", inv.ID)
	}

	invitationsRemindedTotal.Inc()
	s.appendEvent(ctx, inv, models.EventReminded, map[string]any{"automatic": true}, now)
	return nil
}

func (s *Scheduler) appendEvent(ctx context.Context, inv *models.Invitation, typ models.EventType, metadata map[string]any, at time.Time) {
	ev := &models.InvitationEvent{
		InvitationID: inv.ID,
		OrgID:        inv.OrgID,
		Type:         typ,
		OccurredAt:   at,
	}
	if metadata != nil {
		if b, err := json.Marshal(metadata); err == nil {
			ev.Metadata = b
		}
	}
	if err := s.events.Append(ctx, ev); err != nil {
		s.logger.Error("failed to append invitation event",
			"invitation_id", inv.ID, "event_type", typ, "error", err)
	}
}

// Loop sleeps until the next eligibility window, runs a pass, and repeats
// until ctx is cancelled. This is the daemon entrypoint.
func (s *Scheduler) Loop(ctx context.Context) {
	for {
		now := s.now()
		next := s.NextRun(now)
		if wait := next.Sub(now); wait > 0 {
			s.logger.Info("scheduler sleeping until next window", "next_run", next)
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}

		if _, err := s.RunPass(ctx, nil, false); err != nil {
			s.logger.Error("scheduler pass failed", "error", err)
		}

		// Step past the current window before recomputing, otherwise the
		// loop would re-enter the same window immediately.
		timer := time.NewTimer(s.windowLength)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}
