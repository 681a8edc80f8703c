package questdef

import (
	"fmt"
)

// Validate checks a loaded guild configuration for referential consistency.
// It is called once at document load; a failing config marks the guild as
// not ready and the engine ignores its events.
func (c *GuildConfig) Validate() error {
	if len(c.BotChannels) == 0 {
		return fmt.Errorf("questdef: no bot channels configured")
	}
	if len(c.Quest.Questions) == 0 {
		return fmt.Errorf("questdef: quest has no questions")
	}
	if c.Quest.StartQuestion.IsZero() {
		return fmt.Errorf("questdef: quest has no start question")
	}
	for _, start := range c.Quest.StartQuestion.Candidates() {
		if _, ok := c.Quest.Questions[start]; !ok {
			return fmt.Errorf("questdef: start question %q is not defined", start)
		}
	}

	tags := map[string]bool{TargetRestart: true}
	for _, o := range c.TerminalOutcomes() {
		if o.Tag == "" {
			return fmt.Errorf("questdef: terminal outcome with empty tag")
		}
		if o.Tag == TargetRestart {
			return fmt.Errorf("questdef: outcome tag %q is reserved", TargetRestart)
		}
		if tags[o.Tag] {
			return fmt.Errorf("questdef: duplicate outcome tag %q", o.Tag)
		}
		tags[o.Tag] = true
	}

	for id, q := range c.Quest.Questions {
		if err := c.validateQuestion(id, q, tags); err != nil {
			return err
		}
	}

	for key, f := range c.Factions {
		if f.Role == "" {
			return fmt.Errorf("questdef: faction %q has no role", key)
		}
	}
	return nil
}

func (c *GuildConfig) validateQuestion(id string, q Question, terminals map[string]bool) error {
	if q.Text.IsZero() {
		return fmt.Errorf("questdef: question %q has no text", id)
	}
	if len(q.Answers) == 0 {
		return fmt.Errorf("questdef: question %q has no answers", id)
	}
	for i, candidate := range q.Answers {
		if len(candidate.Candidates()) == 0 {
			return fmt.Errorf("questdef: question %q answer %d has no candidates", id, i)
		}
		for _, a := range candidate.Candidates() {
			if a.Text == "" {
				return fmt.Errorf("questdef: question %q answer %d has no text", id, i)
			}
			if a.Target != nil {
				if len(a.Target.Candidates()) == 0 {
					return fmt.Errorf("questdef: question %q answer %d has an empty target list", id, i)
				}
				for _, target := range a.Target.Candidates() {
					if terminals[target] {
						continue
					}
					if _, ok := c.Quest.Questions[target]; !ok {
						return fmt.Errorf("questdef: question %q answer %d targets undefined question %q", id, i, target)
					}
				}
			}
			for faction, delta := range a.Points {
				if len(delta.Candidates()) == 0 {
					return fmt.Errorf("questdef: question %q answer %d has an empty point list for faction %q", id, i, faction)
				}
				if _, ok := c.Factions[faction]; !ok {
					return fmt.Errorf("questdef: question %q answer %d scores undefined faction %q", id, i, faction)
				}
			}
		}
	}
	return nil
}
