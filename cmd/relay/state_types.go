package main

import "time"

// sessionInfo describes a session that is connecting or relaying.
type sessionInfo struct {
	ID      string    `json:"id"`
	Remote  string    `json:"remote"`
	Target  string    `json:"target"`
	Started time.Time `json:"started"`
}

// counters are the cumulative totals kept by every StateStore.
type counters struct {
	total    int64
	rejected int64
	ends     map[string]int64 // end reason -> count
}
