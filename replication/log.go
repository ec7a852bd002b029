// Package replication models the local half of Bedrock's commit log: the
// per-node sequence of proposed and committed entries a leader advances as
// followers acknowledge them. The wire protocol that actually ships write
// sets between nodes is explicitly out of scope (see SPEC_FULL.md §1
// Non-goals); this package gives node.Controller's commit step something
// concrete to propose against and the membership-reported commitIndex
// something to read from.
package replication

import (
	"sync"
)

// Entry is one proposed write set in the log.
type Entry struct {
	Index       int64
	Fingerprint string
	Acks        map[string]struct{}
}

// Log is an append-only, in-process sequence of proposed entries with a
// monotonically advancing commit index once a quorum of distinct nodes has
// acknowledged a contiguous prefix.
type Log struct {
	mu          sync.Mutex
	entries     []*Entry
	commitIndex int64
	quorumSize  int
}

// NewLog starts an empty log. quorumSize defaults to 1 (self-ack commits
// immediately) until SetQuorumSize is called with the cluster's actual
// majority count.
func NewLog() *Log {
	return &Log{quorumSize: 1}
}

// SetQuorumSize configures how many distinct node acks an entry needs
// before it can advance the commit index.
func (l *Log) SetQuorumSize(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > 0 {
		l.quorumSize = n
	}
}

// Propose appends a new entry for fingerprint and returns its index.
func (l *Log) Propose(fingerprint string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	index := int64(len(l.entries)) + 1
	l.entries = append(l.entries, &Entry{Index: index, Fingerprint: fingerprint, Acks: make(map[string]struct{})})
	return index
}

// Ack records nodeName's acknowledgment of index, then advances the commit
// index as far as a contiguous quorum-acked prefix allows.
func (l *Log) Ack(index int64, nodeName string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 1 || index > int64(len(l.entries)) {
		return
	}
	l.entries[index-1].Acks[nodeName] = struct{}{}
	l.advanceLocked()
}

func (l *Log) advanceLocked() {
	for l.commitIndex < int64(len(l.entries)) {
		next := l.entries[l.commitIndex]
		if len(next.Acks) < l.quorumSize {
			return
		}
		l.commitIndex = next.Index
	}
}

// CommitIndex returns the highest index committed by quorum.
func (l *Log) CommitIndex() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commitIndex
}

// Len reports the number of proposed entries, committed or not.
func (l *Log) Len() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.entries))
}
