// Package node implements the command-processing controller: admission,
// the peek/process/commit pipeline, conflict-retry escalation, the
// crash-fingerprint registry, and the role state machine of §4.3/§4.4.
package node

import (
	"sync"
)

// Role is one of the eight explicit states of §4.4.
type Role string

const (
	RoleSearching     Role = "SEARCHING"
	RoleSynchronizing Role = "SYNCHRONIZING"
	RoleWaiting       Role = "WAITING"
	RoleStandingUp    Role = "STANDINGUP"
	RoleLeading       Role = "LEADING"
	RoleStandingDown  Role = "STANDINGDOWN"
	RoleSubscribing   Role = "SUBSCRIBING"
	RoleFollowing     Role = "FOLLOWING"
)

// Event drives a RoleMachine transition (§4.4 table).
type Event string

const (
	EventPeersDiscoveredBehind  Event = "peers_discovered_behind"
	EventCaughtUpToQuorum       Event = "caught_up_to_quorum"
	EventHighestPriorityNoLeader Event = "highest_priority_no_leader"
	EventMajorityAcked          Event = "majority_acked"
	EventHigherPriorityCaughtUp Event = "higher_priority_caught_up"
	EventInFlightCommitsDrained Event = "in_flight_commits_drained"
	EventLeaderObserved         Event = "leader_observed"
	EventStreamEstablished      Event = "stream_established"
	EventPeerContactLost        Event = "peer_contact_lost"
)

var transitions = map[Role]map[Event]Role{
	RoleSearching:     {EventPeersDiscoveredBehind: RoleSynchronizing},
	RoleSynchronizing: {EventCaughtUpToQuorum: RoleWaiting},
	RoleWaiting: {
		EventHighestPriorityNoLeader: RoleStandingUp,
		EventLeaderObserved:          RoleSubscribing,
	},
	RoleStandingUp:   {EventMajorityAcked: RoleLeading},
	RoleLeading:      {EventHigherPriorityCaughtUp: RoleStandingDown, EventPeerContactLost: RoleSearching},
	RoleStandingDown: {EventInFlightCommitsDrained: RoleWaiting},
	RoleSubscribing:  {EventStreamEstablished: RoleFollowing},
	RoleFollowing:    {EventPeerContactLost: RoleSearching},
}

// LegacyAliases maps each role to its Bedrock-predecessor name, included on
// the control port response for the deprecation window (§9, decided).
var LegacyAliases = map[Role]string{
	RoleLeading:   "MASTERING",
	RoleFollowing: "SLAVING",
}

// RoleMachine is a small explicit-transition state machine. Permafollowers
// (priority 0) never leave WAITING toward STANDINGUP: ApplyEvent rejects
// EventHighestPriorityNoLeader for them, matching §4.4's "skip
// STANDINGUP/LEADING entirely".
type RoleMachine struct {
	mu          sync.RWMutex
	current     Role
	priority    int
	synced      bool // becomes true once SYNCHRONIZING -> WAITING fires
	commitIndex int64
}

// NewRoleMachine starts a machine in SEARCHING with the node's configured
// priority. EffectivePriority reports -1 until the node reaches WAITING.
func NewRoleMachine(priority int) *RoleMachine {
	return &RoleMachine{current: RoleSearching, priority: priority}
}

// Permafollower reports whether this node's configured priority is 0.
func (m *RoleMachine) Permafollower() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.priority == 0
}

// Current returns the role machine's present state and effective priority,
// exactly the shape exposed by the control port's Status response (§6).
func (m *RoleMachine) Current() (role Role, effectivePriority int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.effectivePriorityLocked()
}

func (m *RoleMachine) effectivePriorityLocked() int {
	if !m.synced {
		return -1
	}
	return m.priority
}

// EffectivePriority returns -1 until the node reaches WAITING, then the
// configured priority (§4.4).
func (m *RoleMachine) EffectivePriority() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.effectivePriorityLocked()
}

// CommitIndex reports the machine's last-known commit index.
func (m *RoleMachine) CommitIndex() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commitIndex
}

// SetCommitIndex updates the tracked commit index; monotonic, lower values
// are ignored.
func (m *RoleMachine) SetCommitIndex(index int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index > m.commitIndex {
		m.commitIndex = index
	}
}

// ApplyEvent attempts the transition named by event from the machine's
// current state. Returns the resulting role and whether the transition was
// legal; an illegal transition leaves the machine unchanged.
func (m *RoleMachine) ApplyEvent(event Event) (Role, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if event == EventHighestPriorityNoLeader && m.priority == 0 {
		return m.current, false // permafollower: never stands up
	}

	next, ok := transitions[m.current][event]
	if !ok {
		return m.current, false
	}

	if m.current == RoleSynchronizing && next == RoleWaiting {
		m.synced = true
	}
	m.current = next
	return m.current, true
}

// IsLeading reports whether the machine is in the LEADING state.
func (m *RoleMachine) IsLeading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current == RoleLeading
}

// IsFollowing reports whether the machine is in the FOLLOWING state.
func (m *RoleMachine) IsFollowing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current == RoleFollowing
}
