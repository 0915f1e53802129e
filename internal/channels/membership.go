// Package channels tracks which live connections are subscribed to which
// rooms. Subscriptions are ephemeral and independent of persisted
// conversation or group membership.
package channels

import (
	"sort"
	"sync"

	"chatrelay/internal/live"
)

type Membership struct {
	mu        sync.RWMutex
	rooms     map[string]map[string]live.Conn // roomID -> connID -> conn
	connRooms map[string]map[string]struct{}  // connID -> roomIDs
}

func NewMembership() *Membership {
	return &Membership{
		rooms:     make(map[string]map[string]live.Conn),
		connRooms: make(map[string]map[string]struct{}),
	}
}

// Join subscribes conn to roomID. Joining twice has no further effect.
func (m *Membership) Join(conn live.Conn, roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.rooms[roomID]
	if !ok {
		members = make(map[string]live.Conn)
		m.rooms[roomID] = members
	}
	members[conn.ID()] = conn

	joined, ok := m.connRooms[conn.ID()]
	if !ok {
		joined = make(map[string]struct{})
		m.connRooms[conn.ID()] = joined
	}
	joined[roomID] = struct{}{}
}

// Leave unsubscribes conn from roomID. Leaving a room never joined is fine.
func (m *Membership) Leave(conn live.Conn, roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(conn.ID(), roomID)
}

// Drop removes conn from every room it joined.
func (m *Membership) Drop(conn live.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for roomID := range m.connRooms[conn.ID()] {
		m.leaveLocked(conn.ID(), roomID)
	}
	delete(m.connRooms, conn.ID())
}

func (m *Membership) leaveLocked(connID, roomID string) {
	if members, ok := m.rooms[roomID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(m.rooms, roomID)
		}
	}
	if joined, ok := m.connRooms[connID]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(m.connRooms, connID)
		}
	}
}

// MembersOf returns the connections currently subscribed to roomID.
func (m *Membership) MembersOf(roomID string) []live.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := m.rooms[roomID]
	out := make([]live.Conn, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// RoomsOf returns the rooms a connection is subscribed to, sorted.
func (m *Membership) RoomsOf(connID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.connRooms[connID]))
	for roomID := range m.connRooms[connID] {
		out = append(out, roomID)
	}
	sort.Strings(out)
	return out
}

func (m *Membership) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

func (m *Membership) IsSubscribed(connID, roomID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[roomID][connID]
	return ok
}
