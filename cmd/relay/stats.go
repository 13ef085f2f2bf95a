package main

import "time"

// Stats represents current relay stats for dashboards & API.
type Stats struct {
	Active   int              `json:"active"`
	Total    int64            `json:"total"`
	Rejected int64            `json:"rejected"`
	Ends     map[string]int64 `json:"ends"`
	Sessions []sessionInfo    `json:"sessions"`
	Now      string           `json:"now"`
}

func collectStats(s StateStore) Stats {
	active, c := s.getStats()
	return Stats{
		Active:   active,
		Total:    c.total,
		Rejected: c.rejected,
		Ends:     c.ends,
		Sessions: s.activeSessions(),
		Now:      time.Now().UTC().Format(time.RFC3339),
	}
}

// ToTemplateMap returns a map suited for html/template rendering with expected capitalized keys.
func (s Stats) ToTemplateMap() map[string]any {
	return map[string]any{
		"Active":   s.Active,
		"Total":    s.Total,
		"Rejected": s.Rejected,
		"Ends":     s.Ends,
		"Sessions": s.Sessions,
	}
}
