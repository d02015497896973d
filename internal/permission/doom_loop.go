package permission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
)

// DoomLoopThreshold is the number of identical consecutive calls that
// counts as a loop.
const DoomLoopThreshold = 3

type callStreak struct {
	hash  string
	count int
}

// DoomLoopDetector tracks consecutive identical tool calls per session.
type DoomLoopDetector struct {
	mu      sync.Mutex
	streaks map[string]callStreak
}

// NewDoomLoopDetector creates a new doom loop detector.
func NewDoomLoopDetector() *DoomLoopDetector {
	return &DoomLoopDetector{streaks: make(map[string]callStreak)}
}

// Observe records a call and reports whether it is at least the
// DoomLoopThreshold-th identical call in a row for the session.
func (d *DoomLoopDetector) Observe(sessionID, tool string, input any) bool {
	hash := hashCall(tool, input)

	d.mu.Lock()
	defer d.mu.Unlock()

	streak := d.streaks[sessionID]
	if streak.hash == hash {
		streak.count++
	} else {
		streak = callStreak{hash: hash, count: 1}
	}
	d.streaks[sessionID] = streak
	return streak.count >= DoomLoopThreshold
}

// Clear forgets a session's history.
func (d *DoomLoopDetector) Clear(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.streaks, sessionID)
}

func hashCall(tool string, input any) string {
	data, _ := json.Marshal(map[string]any{
		"tool":  tool,
		"input": input,
	})
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
