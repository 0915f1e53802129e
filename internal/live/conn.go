// Package live defines the view of a live connection shared by the
// presence registry, channel membership and the fan-out paths.
package live

// Conn is an open bidirectional session. Push must not block; it reports
// false when the frame could not be queued (closed or saturated).
type Conn interface {
	ID() string
	Push(frame []byte) bool
}

// PushAll pushes frame to every connection, skipping duplicates by id and
// any id in skip. It returns how many pushes were queued.
func PushAll(conns []Conn, frame []byte, skip map[string]bool) int {
	seen := make(map[string]bool, len(conns))
	queued := 0
	for _, c := range conns {
		id := c.ID()
		if seen[id] || skip[id] {
			continue
		}
		seen[id] = true
		if c.Push(frame) {
			queued++
		}
	}
	return queued
}
