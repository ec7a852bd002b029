package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleMachine_EffectivePriorityUnsyncedUntilWaiting(t *testing.T) {
	m := NewRoleMachine(100)
	assert.Equal(t, -1, m.EffectivePriority())

	_, ok := m.ApplyEvent(EventPeersDiscoveredBehind)
	assert.True(t, ok)
	assert.Equal(t, -1, m.EffectivePriority())

	role, ok := m.ApplyEvent(EventCaughtUpToQuorum)
	assert.True(t, ok)
	assert.Equal(t, RoleWaiting, role)
	assert.Equal(t, 100, m.EffectivePriority())
}

func TestRoleMachine_FullLeaderPath(t *testing.T) {
	m := NewRoleMachine(100)
	m.ApplyEvent(EventPeersDiscoveredBehind)
	m.ApplyEvent(EventCaughtUpToQuorum)

	role, ok := m.ApplyEvent(EventHighestPriorityNoLeader)
	assert.True(t, ok)
	assert.Equal(t, RoleStandingUp, role)

	role, ok = m.ApplyEvent(EventMajorityAcked)
	assert.True(t, ok)
	assert.Equal(t, RoleLeading, role)
	assert.True(t, m.IsLeading())

	role, ok = m.ApplyEvent(EventPeerContactLost)
	assert.True(t, ok)
	assert.Equal(t, RoleSearching, role)
}

func TestRoleMachine_FollowerPath(t *testing.T) {
	m := NewRoleMachine(50)
	m.ApplyEvent(EventPeersDiscoveredBehind)
	m.ApplyEvent(EventCaughtUpToQuorum)

	role, ok := m.ApplyEvent(EventLeaderObserved)
	assert.True(t, ok)
	assert.Equal(t, RoleSubscribing, role)

	role, ok = m.ApplyEvent(EventStreamEstablished)
	assert.True(t, ok)
	assert.Equal(t, RoleFollowing, role)
	assert.True(t, m.IsFollowing())
}

func TestRoleMachine_PermafollowerNeverStandsUp(t *testing.T) {
	m := NewRoleMachine(0)
	assert.True(t, m.Permafollower())

	m.ApplyEvent(EventPeersDiscoveredBehind)
	m.ApplyEvent(EventCaughtUpToQuorum)

	role, ok := m.ApplyEvent(EventHighestPriorityNoLeader)
	assert.False(t, ok)
	assert.Equal(t, RoleWaiting, role)
}

func TestRoleMachine_IllegalTransitionLeavesStateUnchanged(t *testing.T) {
	m := NewRoleMachine(100)
	role, ok := m.ApplyEvent(EventMajorityAcked)
	assert.False(t, ok)
	assert.Equal(t, RoleSearching, role)
}
