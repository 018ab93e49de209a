// Package service provides business logic implementations.
package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stratix-hq/control-plane/internal/config"
	"github.com/stratix-hq/control-plane/internal/models"
)

// Recommendation is the single remediation action the engagement analyzer
// picks for one outstanding invitation.
type Recommendation string

const (
	// RecommendResend reissues an expired invitation's validity.
	RecommendResend Recommendation = "resend"
	// RecommendRemind nudges an unengaged recipient.
	RecommendRemind Recommendation = "remind"
	// RecommendWait takes no action this pass.
	RecommendWait Recommendation = "wait"
	// RecommendCancellation flags the invitation for a human decision;
	// the engine never cancels automatically.
	RecommendCancellation Recommendation = "recommend_cancellation"
)

// EngagementPolicy holds the tunable thresholds behind the analyzer.
type EngagementPolicy struct {
	// ClickGracePeriod is how long after a click with no acceptance the
	// analyzer flags the invitation for cancellation review.
	ClickGracePeriod time.Duration
	// ResendMax caps resends of expired invitations.
	ResendMax int
	// ReminderInterval is the minimum quiet period since the last touch
	// before a reminder goes out.
	ReminderInterval time.Duration
	// ReminderMax caps reminders per invitation.
	ReminderMax int
}

// PolicyFromConfig builds an EngagementPolicy from configuration.
func PolicyFromConfig(cfg config.EngagementConfig) EngagementPolicy {
	return EngagementPolicy{
		ClickGracePeriod: cfg.ClickGracePeriod,
		ResendMax:        cfg.ResendMax,
		ReminderInterval: cfg.ReminderInterval,
		ReminderMax:      cfg.ReminderMax,
	}
}

// Analyze maps one invitation's engagement state to exactly one
// recommendation. It is a pure function of (status, timestamps, counters,
// now): no I/O, no shared state, safe to call concurrently.
//
// The rules are evaluated in priority order; the first match wins:
//
//  1. clicked but never accepted, past the grace period -> flag for review
//  2. expired with resends left                         -> resend
//  3. expired with resends exhausted                    -> flag for review
//  4. never opened, quiet long enough, reminders left   -> remind
//  5. otherwise                                         -> wait
func Analyze(inv *models.Invitation, policy EngagementPolicy, now time.Time) (Recommendation, error) {
	if inv.Status.IsTerminal() {
		return "", fmt.Errorf("invitation %s is %s; terminal invitations are not analyzable", inv.ID, inv.Status)
	}

	if inv.ClickedAt != nil && inv.AcceptedAt == nil &&
		now.Sub(*inv.ClickedAt) >= policy.ClickGracePeriod {
		return RecommendCancellation, nil
	}

	if inv.IsExpired(now) {
		if inv.ResendCount < policy.ResendMax {
			return RecommendResend, nil
		}
		return RecommendCancellation, nil
	}

	if inv.OpenedAt == nil && inv.ClickedAt == nil &&
		now.Sub(inv.LastTouchAt()) >= policy.ReminderInterval &&
		inv.ReminderCount < policy.ReminderMax {
		return RecommendRemind, nil
	}

	return RecommendWait, nil
}

// BulkAnalysis groups outstanding invitation ids by recommendation.
type BulkAnalysis struct {
	Total           int                           `json:"total"`
	Recommendations map[Recommendation][]uuid.UUID `json:"recommendations"`
}

// BulkAnalyze applies Analyze to every given invitation. Invitations in a
// terminal state are skipped; callers normally pass the outstanding set.
func BulkAnalyze(invs []*models.Invitation, policy EngagementPolicy, now time.Time) *BulkAnalysis {
	out := &BulkAnalysis{
		Recommendations: map[Recommendation][]uuid.UUID{
			RecommendResend:       {},
			RecommendRemind:       {},
			RecommendWait:         {},
			RecommendCancellation: {},
		},
	}
	for _, inv := range invs {
		rec, err := Analyze(inv, policy, now)
		if err != nil {
			continue
		}
		out.Total++
		out.Recommendations[rec] = append(out.Recommendations[rec], inv.ID)
	}
	return out
}
