package session_test

import (
	"testing"

	"github.com/arcfix/fixrelay/internal/session"
)

func TestApplyEventLogonHandshake(t *testing.T) {
	t.Parallel()

	res := session.ApplyEvent(session.StateNotLoggedOn, session.EventRecvLogon)
	if !res.Changed {
		t.Fatal("expected state change on RecvLogon")
	}
	if res.NewState != session.StateLoggedOn {
		t.Errorf("NewState = %v, want LoggedOn", res.NewState)
	}
}

func TestApplyEventUnknownTransitionIgnored(t *testing.T) {
	t.Parallel()

	res := session.ApplyEvent(session.StateDisconnected, session.EventRecvLogon)
	if res.Changed {
		t.Errorf("expected no change from terminal state, got %v -> %v", res.OldState, res.NewState)
	}
}

func TestApplyEventLogoutSequence(t *testing.T) {
	t.Parallel()

	res := session.ApplyEvent(session.StateLoggedOn, session.EventSendLogout)
	if res.NewState != session.StateLogoutInProgress {
		t.Fatalf("NewState = %v, want LogoutInProgress", res.NewState)
	}

	res = session.ApplyEvent(res.NewState, session.EventRecvLogout)
	if res.NewState != session.StateDisconnected {
		t.Fatalf("NewState = %v, want Disconnected", res.NewState)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	tests := map[session.State]string{
		session.StateNotLoggedOn:      "NotLoggedOn",
		session.StateLoggedOn:         "LoggedOn",
		session.StateLogoutInProgress: "LogoutInProgress",
		session.StateDisconnected:     "Disconnected",
	}

	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
