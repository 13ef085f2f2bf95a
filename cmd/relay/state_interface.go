package main

import "github.com/matst80/tcprelay/internal/relay"

// StateStore records active sessions and totals for the dashboard and state API.
// It is never on the data path: a failing store must not affect relaying.
type StateStore interface {
	sessionStarted(info sessionInfo) error
	sessionEnded(res relay.Result)
	incrementRejected()
	activeSessions() []sessionInfo
	setClosing(closing bool)
	setReady(ready bool)
	isClosing() bool
	isReady() bool
	// stats helpers (not exported outside package main)
	getStats() (active int, c counters)
}
