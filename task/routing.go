package task

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fleetsmith/armada/fleet"
)

// Candidate is an agent ranked against a task's requirements.
type Candidate struct {
	Agent  *fleet.Agent `json:"agent"`
	Score  int          `json:"score"`
	Reason string       `json:"reason"`
}

// Scoring weights. Exact capability matches dominate; the descriptive-word
// overlap is a deliberately weak signal that only breaks near-ties.
const (
	scoreExactCapability = 10
	scoreFuzzyCapability = 5
	scoreDescriptionWord = 1
	scoreOnline          = 3
	scoreSessionKey      = 2
)

// ScoreAgent rates a single agent against a task. The returned reason is a
// human-readable explanation assembled from every rule that contributed.
func ScoreAgent(t *Task, a *fleet.Agent) Candidate {
	var score int
	var reasons []string

	text := strings.ToLower(t.Title + " " + t.Description)

	for _, want := range t.RequiredCapabilities {
		if a.HasCapability(want) {
			score += scoreExactCapability
			reasons = append(reasons, fmt.Sprintf("capability %q", want))
		}
	}

	for _, tag := range a.Capabilities {
		if tag != "" && strings.Contains(text, strings.ToLower(tag)) {
			score += scoreFuzzyCapability
			reasons = append(reasons, fmt.Sprintf("task mentions %q", tag))
		}
	}

	if a.Description != "" {
		desc := strings.ToLower(a.Description)
		var overlap int
		for _, word := range strings.Fields(text) {
			if len(word) > 4 && strings.Contains(desc, word) {
				overlap++
			}
		}
		if overlap > 0 {
			score += overlap * scoreDescriptionWord
			reasons = append(reasons, fmt.Sprintf("%d descriptive word(s) overlap", overlap))
		}
	}

	if a.Status == fleet.StatusOnline {
		score += scoreOnline
		reasons = append(reasons, "online")
	}
	if a.SessionKey != "" {
		score += scoreSessionKey
		reasons = append(reasons, "direct session available")
	}

	reason := "no match"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, "; ")
	}
	return Candidate{Agent: a, Score: score, Reason: reason}
}

// Route scores the roster against the task and returns candidates with a
// positive score, best first. Offline agents and orchestrator-role agents
// are never candidates. Equal scores keep the roster's input order so
// routing stays deterministic.
func Route(t *Task, roster []*fleet.Agent) []Candidate {
	var candidates []Candidate
	for _, a := range roster {
		if a.Status == fleet.StatusOffline || a.Role == fleet.RoleOrchestrator {
			continue
		}
		if c := ScoreAgent(t, a); c.Score > 0 {
			candidates = append(candidates, c)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates
}

// BestRoute returns the highest-scoring candidate, or ok=false when no
// agent scores above zero.
func BestRoute(t *Task, roster []*fleet.Agent) (Candidate, bool) {
	candidates := Route(t, roster)
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	return candidates[0], true
}
