// Package fixmetrics defines the Prometheus metrics emitted by the FIX
// session engine, the replication core, and the archive.
package fixmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const namespace = "fixrelay"

// Subsystems group related metrics under a common name prefix.
const (
	subsystemSession     = "session"
	subsystemReplication = "replication"
	subsystemArchive     = "archive"
)

// Label names.
const (
	labelSessionKey = "session_key"
	labelFromState  = "from_state"
	labelToState    = "to_state"
	labelFromRole   = "from_role"
	labelToRole     = "to_role"
)

// -------------------------------------------------------------------------
// Collector — Prometheus fixrelay Metrics
// -------------------------------------------------------------------------

// Collector holds every Prometheus metric exported by the daemon.
//
// Metrics are grouped by subsystem:
//   - Session metrics track FIX session-engine activity per session key.
//   - Replication metrics track the Raft-style core's term, commit
//     position, and role transitions.
//   - Archive metrics track durability throughput.
type Collector struct {
	// Sessions tracks the number of currently active FIX sessions.
	Sessions *prometheus.GaugeVec

	// MessagesSent counts application/admin messages transmitted per session.
	MessagesSent *prometheus.CounterVec

	// MessagesReceived counts application/admin messages received per session.
	MessagesReceived *prometheus.CounterVec

	// SessionStateTransitions counts FIX session-engine state changes.
	SessionStateTransitions *prometheus.CounterVec

	// ResendRequests counts ResendRequest messages sent or received per session.
	ResendRequests *prometheus.CounterVec

	// Rejects counts Reject messages sent or received per session.
	Rejects *prometheus.CounterVec

	// Term reports the current leadership term id for this node.
	Term prometheus.Gauge

	// CommitPosition reports the current commit position of the replication log.
	CommitPosition prometheus.Gauge

	// RoleTransitions counts Follower/Candidate/Leader role changes.
	RoleTransitions *prometheus.CounterVec

	// ElectionTimeouts counts election timeout expirations observed as Follower.
	ElectionTimeouts prometheus.Counter

	// Acknowledgements counts log entries acknowledged by the configured
	// AcknowledgementStrategy.
	Acknowledgements prometheus.Counter

	// ArchiveFragmentsWritten counts fragments appended to the archive.
	ArchiveFragmentsWritten prometheus.Counter

	// ArchiveFragmentsRead counts fragments replayed from the archive.
	ArchiveFragmentsRead prometheus.Counter

	// ArchiveBytesWritten counts bytes appended to the archive.
	ArchiveBytesWritten prometheus.Counter
}

// NewCollector creates a Collector with every metric registered against the
// provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Sessions,
		c.MessagesSent,
		c.MessagesReceived,
		c.SessionStateTransitions,
		c.ResendRequests,
		c.Rejects,
		c.Term,
		c.CommitPosition,
		c.RoleTransitions,
		c.ElectionTimeouts,
		c.Acknowledgements,
		c.ArchiveFragmentsWritten,
		c.ArchiveFragmentsRead,
		c.ArchiveBytesWritten,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	sessionLabels := []string{labelSessionKey}
	transitionLabels := []string{labelSessionKey, labelFromState, labelToState}
	roleLabels := []string{labelFromRole, labelToRole}

	return &Collector{
		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "sessions",
			Help:      "Number of currently active FIX sessions.",
		}, sessionLabels),

		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "messages_sent_total",
			Help:      "Total FIX messages transmitted.",
		}, sessionLabels),

		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "messages_received_total",
			Help:      "Total FIX messages received.",
		}, sessionLabels),

		SessionStateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "state_transitions_total",
			Help:      "Total FIX session-engine state transitions.",
		}, transitionLabels),

		ResendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "resend_requests_total",
			Help:      "Total ResendRequest messages exchanged.",
		}, sessionLabels),

		Rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "rejects_total",
			Help:      "Total Reject messages exchanged.",
		}, sessionLabels),

		Term: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemReplication,
			Name:      "term",
			Help:      "Current leadership term id.",
		}),

		CommitPosition: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemReplication,
			Name:      "commit_position",
			Help:      "Current commit position of the replicated log.",
		}),

		RoleTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemReplication,
			Name:      "role_transitions_total",
			Help:      "Total Follower/Candidate/Leader role transitions.",
		}, roleLabels),

		ElectionTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemReplication,
			Name:      "election_timeouts_total",
			Help:      "Total election timeout expirations observed as Follower.",
		}),

		Acknowledgements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemReplication,
			Name:      "acknowledgements_total",
			Help:      "Total log entries acknowledged by the cluster.",
		}),

		ArchiveFragmentsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemArchive,
			Name:      "fragments_written_total",
			Help:      "Total fragments appended to the archive.",
		}),

		ArchiveFragmentsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemArchive,
			Name:      "fragments_read_total",
			Help:      "Total fragments replayed from the archive.",
		}),

		ArchiveBytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemArchive,
			Name:      "bytes_written_total",
			Help:      "Total bytes appended to the archive.",
		}),
	}
}

// -------------------------------------------------------------------------
// Session Lifecycle
// -------------------------------------------------------------------------

// RegisterSession increments the active sessions gauge for sessionKey.
func (c *Collector) RegisterSession(sessionKey string) {
	c.Sessions.WithLabelValues(sessionKey).Inc()
}

// UnregisterSession decrements the active sessions gauge for sessionKey.
func (c *Collector) UnregisterSession(sessionKey string) {
	c.Sessions.WithLabelValues(sessionKey).Dec()
}

// -------------------------------------------------------------------------
// Message Counters
// -------------------------------------------------------------------------

// IncMessagesSent increments the transmitted message counter for sessionKey.
func (c *Collector) IncMessagesSent(sessionKey string) {
	c.MessagesSent.WithLabelValues(sessionKey).Inc()
}

// IncMessagesReceived increments the received message counter for sessionKey.
func (c *Collector) IncMessagesReceived(sessionKey string) {
	c.MessagesReceived.WithLabelValues(sessionKey).Inc()
}

// RecordStateTransition increments the session state transition counter
// with the old and new state labels.
func (c *Collector) RecordStateTransition(sessionKey, from, to string) {
	c.SessionStateTransitions.WithLabelValues(sessionKey, from, to).Inc()
}

// IncResendRequests increments the resend request counter for sessionKey.
func (c *Collector) IncResendRequests(sessionKey string) {
	c.ResendRequests.WithLabelValues(sessionKey).Inc()
}

// IncRejects increments the reject counter for sessionKey.
func (c *Collector) IncRejects(sessionKey string) {
	c.Rejects.WithLabelValues(sessionKey).Inc()
}

// -------------------------------------------------------------------------
// Replication
// -------------------------------------------------------------------------

// SetTerm sets the current leadership term id gauge.
func (c *Collector) SetTerm(term int64) {
	c.Term.Set(float64(term))
}

// SetCommitPosition sets the current commit position gauge.
func (c *Collector) SetCommitPosition(position int64) {
	c.CommitPosition.Set(float64(position))
}

// RecordRoleTransition increments the role transition counter.
func (c *Collector) RecordRoleTransition(from, to string) {
	c.RoleTransitions.WithLabelValues(from, to).Inc()
}

// IncElectionTimeouts increments the election timeout counter.
func (c *Collector) IncElectionTimeouts() {
	c.ElectionTimeouts.Inc()
}

// IncAcknowledgements increments the acknowledgement counter.
func (c *Collector) IncAcknowledgements() {
	c.Acknowledgements.Inc()
}

// -------------------------------------------------------------------------
// Archive
// -------------------------------------------------------------------------

// RecordArchiveWrite records a fragment append of n bytes.
func (c *Collector) RecordArchiveWrite(n int) {
	c.ArchiveFragmentsWritten.Inc()
	c.ArchiveBytesWritten.Add(float64(n))
}

// IncArchiveFragmentsRead increments the archive fragments-read counter.
func (c *Collector) IncArchiveFragmentsRead() {
	c.ArchiveFragmentsRead.Inc()
}
