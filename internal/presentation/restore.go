package presentation

// LookupForRestore returns the currently active engine instance registered
// under identifier, if any. A platform-initiated transport re-instantiation
// (e.g. the radio stack waking the process to redeliver a pending
// notification) calls this to re-bind onto the in-flight session rather
// than starting a new one (spec §9 "Background wake continuity").
//
// Absent platform support for restoration, or when identifier does not
// match any active engine, the caller should fall back to constructing a
// fresh Engine — it begins from Idle, per spec.
func LookupForRestore(identifier string) (*Engine, bool) {
	if identifier == "" {
		return nil, false
	}
	activeMu.Lock()
	defer activeMu.Unlock()
	e, ok := activeRestoreIDs[identifier]
	return e, ok
}

// Resuming reports whether the engine recorded a pending_start while the
// radio was powered off and is waiting for a power-on event to resume
// scanning (spec §5 background lifecycle). Safe for concurrent use, like
// State and Snapshot: a platform wake handler calls this from its own
// goroutine, never the engine's Run goroutine.
func (e *Engine) Resuming() bool {
	return e.pendingStart.Load()
}
