// Package session implements the FIX session-layer state machine: Logon,
// Logout, Heartbeat, TestRequest, Reject and SequenceReset handling,
// sequence-number and SendingTime validation, and the resend/gap-fill
// protocol.
package session

// This file implements the session connection-lifecycle FSM as a pure
// function over a transition table -- no side effects, no Session
// dependency. Message-level validation (sequence numbers, SendingTime,
// resend/gap-fill) is handled procedurally in session.go, which calls into
// this table only for the coarse NotLoggedOn/LoggedOn/LogoutInProgress/
// Disconnected lifecycle.
//
// State diagram:
//
//	NotLoggedOn --RecvLogon--> LoggedOn  (SendLogon leaves NotLoggedOn)
//	LoggedOn --RecvLogout/SendLogout--> LogoutInProgress
//	LogoutInProgress --RecvLogout/Timeout--> Disconnected
//	LoggedOn --TransportLost--> Disconnected

// State represents the session-engine connection-lifecycle state.
type State uint8

const (
	// StateNotLoggedOn is the initial state before a Logon has been
	// exchanged in either direction.
	StateNotLoggedOn State = iota

	// StateLoggedOn is reached once both sides have exchanged Logon.
	StateLoggedOn

	// StateLogoutInProgress is entered once a Logout has been sent or
	// received and the counterparty's Logout (or the transport close) is
	// still pending.
	StateLogoutInProgress

	// StateDisconnected is the terminal state for a session instance; the
	// transport has been closed.
	StateDisconnected
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateNotLoggedOn:
		return "NotLoggedOn"
	case StateLoggedOn:
		return "LoggedOn"
	case StateLogoutInProgress:
		return "LogoutInProgress"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Event represents an event applied to the connection-lifecycle FSM.
type Event uint8

const (
	// EventRecvLogon is the event for receiving a valid Logon message.
	EventRecvLogon Event = iota

	// EventSendLogon is the event for initiating a session with an
	// outbound Logon.
	EventSendLogon

	// EventRecvLogout is the event for receiving a Logout message.
	EventRecvLogout

	// EventSendLogout is the event for the local side initiating a Logout.
	EventSendLogout

	// EventTransportClosed is the event for the underlying transport
	// closing, gracefully or otherwise.
	EventTransportClosed

	// EventLogonTimeout is the event for the counterparty failing to send
	// a Logon within the configured window after connection.
	EventLogonTimeout

	// EventLogoutTimeout is the event for the counterparty failing to
	// acknowledge a Logout within the configured window.
	EventLogoutTimeout
)

// String returns the human-readable name of the event.
func (e Event) String() string {
	switch e {
	case EventRecvLogon:
		return "RecvLogon"
	case EventSendLogon:
		return "SendLogon"
	case EventRecvLogout:
		return "RecvLogout"
	case EventSendLogout:
		return "SendLogout"
	case EventTransportClosed:
		return "TransportClosed"
	case EventLogonTimeout:
		return "LogonTimeout"
	case EventLogoutTimeout:
		return "LogoutTimeout"
	default:
		return "Unknown"
	}
}

// Action represents a side-effect the caller must execute after an FSM
// transition. The FSM itself is a pure function; actions are returned for
// the caller (Session.applyEvent) to carry out.
type Action uint8

const (
	// ActionStartHeartbeatTimer arms the heartbeat/test-request timer pair.
	ActionStartHeartbeatTimer Action = iota + 1

	// ActionStopHeartbeatTimer disarms the heartbeat/test-request timer pair.
	ActionStopHeartbeatTimer

	// ActionNotifyLoggedOn signals session consumers that the session
	// reached LoggedOn.
	ActionNotifyLoggedOn

	// ActionNotifyDisconnected signals session consumers that the session
	// has disconnected.
	ActionNotifyDisconnected

	// ActionCloseTransport instructs the caller to close the underlying
	// transport.
	ActionCloseTransport
)

// String returns the human-readable name of the action.
func (a Action) String() string {
	switch a {
	case ActionStartHeartbeatTimer:
		return "StartHeartbeatTimer"
	case ActionStopHeartbeatTimer:
		return "StopHeartbeatTimer"
	case ActionNotifyLoggedOn:
		return "NotifyLoggedOn"
	case ActionNotifyDisconnected:
		return "NotifyDisconnected"
	case ActionCloseTransport:
		return "CloseTransport"
	default:
		return "Unknown"
	}
}

// stateEvent is the FSM transition table key: current state + incoming event.
type stateEvent struct {
	state State
	event Event
}

// transition describes the target state and side-effects for a single FSM
// transition.
type transition struct {
	newState State
	actions  []Action
}

// FSMResult holds the outcome of applying an event to the FSM.
type FSMResult struct {
	// OldState is the state before the event was applied.
	OldState State

	// NewState is the state after the event was applied. Equal to OldState
	// when the event is ignored.
	NewState State

	// Actions lists the side-effects the caller must execute. Empty when
	// the event is ignored.
	Actions []Action

	// Changed is true when NewState differs from OldState.
	Changed bool
}

//nolint:gochecknoglobals // FSM transition table is intentionally package-level.
var fsmTable = map[stateEvent]transition{
	{StateNotLoggedOn, EventSendLogon}: {
		newState: StateNotLoggedOn,
		actions:  nil,
	},
	{StateNotLoggedOn, EventRecvLogon}: {
		newState: StateLoggedOn,
		actions:  []Action{ActionStartHeartbeatTimer, ActionNotifyLoggedOn},
	},
	{StateNotLoggedOn, EventLogonTimeout}: {
		newState: StateDisconnected,
		actions:  []Action{ActionCloseTransport, ActionNotifyDisconnected},
	},
	{StateNotLoggedOn, EventTransportClosed}: {
		newState: StateDisconnected,
		actions:  []Action{ActionNotifyDisconnected},
	},

	{StateLoggedOn, EventRecvLogout}: {
		newState: StateLogoutInProgress,
		actions:  []Action{ActionStopHeartbeatTimer},
	},
	{StateLoggedOn, EventSendLogout}: {
		newState: StateLogoutInProgress,
		actions:  []Action{ActionStopHeartbeatTimer},
	},
	{StateLoggedOn, EventTransportClosed}: {
		newState: StateDisconnected,
		actions:  []Action{ActionStopHeartbeatTimer, ActionNotifyDisconnected},
	},

	{StateLogoutInProgress, EventRecvLogout}: {
		newState: StateDisconnected,
		actions:  []Action{ActionCloseTransport, ActionNotifyDisconnected},
	},
	{StateLogoutInProgress, EventLogoutTimeout}: {
		newState: StateDisconnected,
		actions:  []Action{ActionCloseTransport, ActionNotifyDisconnected},
	},
	{StateLogoutInProgress, EventTransportClosed}: {
		newState: StateDisconnected,
		actions:  []Action{ActionNotifyDisconnected},
	},
}

// ApplyEvent applies an FSM event to the given state and returns the
// result.
//
// This is a pure function with no side effects. The caller is responsible
// for executing the returned actions. If the (state, event) pair has no
// entry in the transition table, the event is silently ignored and
// FSMResult.Changed is false with an empty action list.
func ApplyEvent(currentState State, event Event) FSMResult {
	key := stateEvent{state: currentState, event: event}

	tr, ok := fsmTable[key]
	if !ok {
		return FSMResult{
			OldState: currentState,
			NewState: currentState,
			Actions:  nil,
			Changed:  false,
		}
	}

	return FSMResult{
		OldState: currentState,
		NewState: tr.newState,
		Actions:  tr.actions,
		Changed:  currentState != tr.newState,
	}
}
