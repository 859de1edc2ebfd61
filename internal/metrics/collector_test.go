package fixmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	fixmetrics "github.com/arcfix/fixrelay/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := fixmetrics.NewCollector(reg)

	if c.Sessions == nil {
		t.Error("Sessions is nil")
	}
	if c.MessagesSent == nil {
		t.Error("MessagesSent is nil")
	}
	if c.MessagesReceived == nil {
		t.Error("MessagesReceived is nil")
	}
	if c.SessionStateTransitions == nil {
		t.Error("SessionStateTransitions is nil")
	}
	if c.Term == nil {
		t.Error("Term is nil")
	}
	if c.CommitPosition == nil {
		t.Error("CommitPosition is nil")
	}
	if c.RoleTransitions == nil {
		t.Error("RoleTransitions is nil")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	_ = families
}

func TestRegisterUnregisterSession(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := fixmetrics.NewCollector(reg)

	key := "RELAY|PRIMARY|BROKER1"

	c.RegisterSession(key)

	val := gaugeValue(t, c.Sessions, key)
	if val != 1 {
		t.Errorf("after RegisterSession: sessions gauge = %v, want 1", val)
	}

	c.UnregisterSession(key)

	val = gaugeValue(t, c.Sessions, key)
	if val != 0 {
		t.Errorf("after UnregisterSession: sessions gauge = %v, want 0", val)
	}
}

func TestMessageCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := fixmetrics.NewCollector(reg)

	key := "RELAY|PRIMARY|BROKER1"

	c.IncMessagesSent(key)
	c.IncMessagesSent(key)
	c.IncMessagesSent(key)

	val := counterValue(t, c.MessagesSent, key)
	if val != 3 {
		t.Errorf("MessagesSent = %v, want 3", val)
	}

	c.IncMessagesReceived(key)
	c.IncMessagesReceived(key)

	val = counterValue(t, c.MessagesReceived, key)
	if val != 2 {
		t.Errorf("MessagesReceived = %v, want 2", val)
	}

	c.IncResendRequests(key)

	val = counterValue(t, c.ResendRequests, key)
	if val != 1 {
		t.Errorf("ResendRequests = %v, want 1", val)
	}

	c.IncRejects(key)

	val = counterValue(t, c.Rejects, key)
	if val != 1 {
		t.Errorf("Rejects = %v, want 1", val)
	}
}

func TestSessionStateTransition(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := fixmetrics.NewCollector(reg)

	key := "RELAY|PRIMARY|BROKER1"

	c.RecordStateTransition(key, "NotLoggedOn", "LoggedOn")

	val := counterValue(t, c.SessionStateTransitions, key, "NotLoggedOn", "LoggedOn")
	if val != 1 {
		t.Errorf("SessionStateTransitions(NotLoggedOn->LoggedOn) = %v, want 1", val)
	}

	c.RecordStateTransition(key, "NotLoggedOn", "LoggedOn")

	val = counterValue(t, c.SessionStateTransitions, key, "NotLoggedOn", "LoggedOn")
	if val != 2 {
		t.Errorf("SessionStateTransitions(NotLoggedOn->LoggedOn) = %v, want 2", val)
	}
}

func TestReplicationGauges(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := fixmetrics.NewCollector(reg)

	c.SetTerm(7)
	c.SetCommitPosition(4096)

	if val := singleGaugeValue(t, c.Term); val != 7 {
		t.Errorf("Term = %v, want 7", val)
	}
	if val := singleGaugeValue(t, c.CommitPosition); val != 4096 {
		t.Errorf("CommitPosition = %v, want 4096", val)
	}
}

func TestRoleTransitionAndElectionCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := fixmetrics.NewCollector(reg)

	c.RecordRoleTransition("follower", "candidate")
	c.RecordRoleTransition("candidate", "leader")
	c.IncElectionTimeouts()
	c.IncElectionTimeouts()
	c.IncAcknowledgements()

	val := counterValue(t, c.RoleTransitions, "follower", "candidate")
	if val != 1 {
		t.Errorf("RoleTransitions(follower->candidate) = %v, want 1", val)
	}

	val = counterValue(t, c.RoleTransitions, "candidate", "leader")
	if val != 1 {
		t.Errorf("RoleTransitions(candidate->leader) = %v, want 1", val)
	}

	if val := singleCounterValue(t, c.ElectionTimeouts); val != 2 {
		t.Errorf("ElectionTimeouts = %v, want 2", val)
	}

	if val := singleCounterValue(t, c.Acknowledgements); val != 1 {
		t.Errorf("Acknowledgements = %v, want 1", val)
	}
}

func TestArchiveCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := fixmetrics.NewCollector(reg)

	c.RecordArchiveWrite(128)
	c.RecordArchiveWrite(64)
	c.IncArchiveFragmentsRead()

	if val := singleCounterValue(t, c.ArchiveFragmentsWritten); val != 2 {
		t.Errorf("ArchiveFragmentsWritten = %v, want 2", val)
	}
	if val := singleCounterValue(t, c.ArchiveBytesWritten); val != 192 {
		t.Errorf("ArchiveBytesWritten = %v, want 192", val)
	}
	if val := singleCounterValue(t, c.ArchiveFragmentsRead); val != 1 {
		t.Errorf("ArchiveFragmentsRead = %v, want 1", val)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}

func singleGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func singleCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}
