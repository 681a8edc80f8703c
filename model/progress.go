package model

// Attempt is one traversal of the quest tree by a user, from start to a
// terminal outcome or abandonment. It is stored inside the questProgress
// document of its guild.
type Attempt struct {
	// ID identifies the attempt across logs and the audit trail.
	ID string `json:"id"`
	// Question is the current question ID; meaningless once Result is set.
	Question string `json:"question"`
	// Result is the terminal outcome tag, empty while the attempt is open.
	Result string `json:"result,omitempty"`
	// StartTime (unix ms) doubles as half of the deterministic seed input.
	StartTime int64 `json:"startTime"`
	// EndTime (unix ms) is set exactly once, at the terminal outcome.
	EndTime int64 `json:"endTime,omitempty"`
	// Attempts counts in-place restarts of this slot before completion.
	Attempts int `json:"attempts"`
	// Points accumulates per-faction deltas from selected answers.
	Points map[string]float64 `json:"points,omitempty"`
	// Faction is set exactly once when a faction-assigning outcome closes
	// the attempt.
	Faction string `json:"faction,omitempty"`
}

// Open reports whether the attempt has not reached a terminal outcome.
func (a *Attempt) Open() bool { return a.EndTime == 0 }

// AddPoints applies an additive per-faction delta, treating an absent
// accumulator as all-zero.
func (a *Attempt) AddPoints(faction string, delta float64) {
	if a.Points == nil {
		a.Points = make(map[string]float64)
	}
	a.Points[faction] += delta
}

// Clone returns a deep copy, used to snapshot an attempt before a mutation
// that may need to be rolled back.
func (a *Attempt) Clone() *Attempt {
	c := *a
	if a.Points != nil {
		c.Points = make(map[string]float64, len(a.Points))
		for k, v := range a.Points {
			c.Points[k] = v
		}
	}
	return &c
}

// UserRecord is the per-user quest history within a guild.
type UserRecord struct {
	Quests []*Attempt `json:"quests"`
}

// Clone returns a deep copy of the record and its attempts.
func (r *UserRecord) Clone() *UserRecord {
	c := &UserRecord{Quests: make([]*Attempt, len(r.Quests))}
	for i, a := range r.Quests {
		c.Quests[i] = a.Clone()
	}
	return c
}

// ProgressDoc is the questProgress document: user ID → quest history.
type ProgressDoc map[string]*UserRecord
