package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	invitationsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratix_invitations_created_total",
			Help: "Total invitations created",
		},
		[]string{"kind"},
	)

	invitationsSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stratix_invitations_sent_total",
			Help: "Total invitation emails dispatched",
		},
	)

	invitationsResentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stratix_invitations_resent_total",
			Help: "Total invitation resends",
		},
	)

	invitationsRemindedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stratix_invitations_reminded_total",
			Help: "Total invitation reminders sent",
		},
	)

	invitationsAcceptedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stratix_invitations_accepted_total",
			Help: "Total invitations accepted",
		},
	)

	invitationsCancelledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stratix_invitations_cancelled_total",
			Help: "Total invitations cancelled",
		},
	)

	deliveryFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stratix_delivery_failures_total",
			Help: "Total email gateway failures",
		},
	)

	providerEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratix_provider_events_total",
			Help: "Total delivery provider events ingested",
		},
		[]string{"type"},
	)

	schedulerPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratix_scheduler_passes_total",
			Help: "Total reminder scheduler passes by outcome",
		},
		[]string{"outcome"}, // completed, skipped_window, skipped_locked
	)

	schedulerPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stratix_scheduler_pass_duration_seconds",
			Help:    "Duration of reminder scheduler passes",
			Buckets: prometheus.DefBuckets,
		},
	)
)
