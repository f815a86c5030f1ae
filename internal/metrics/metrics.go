package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Checkins counts committed attendance records by status and reason.
var Checkins = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "classtrack",
	Name:      "checkins_total",
	Help:      "Attendance records committed at check-in time.",
}, []string{"status", "reason"})

// DuplicateCheckins counts rejected duplicate check-in attempts.
var DuplicateCheckins = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "classtrack",
	Name:      "duplicate_checkins_total",
	Help:      "Check-in attempts rejected because the pair was already marked.",
})

// FinalizedSessions counts finalize runs that completed.
var FinalizedSessions = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "classtrack",
	Name:      "finalized_sessions_total",
	Help:      "Completed finalization runs.",
})

// SynthesizedAbsences counts ABSENT records inserted by finalization.
var SynthesizedAbsences = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "classtrack",
	Name:      "synthesized_absences_total",
	Help:      "ABSENT records synthesized for non-responders at finalization.",
})
