package game

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/livequiz/internal/domain"
)

// Submission is a participant's confirmed answer for the current round.
type Submission struct {
	Choices []int     `json:"choices,omitempty"`
	Text    string    `json:"text,omitempty"`
	At      time.Time `json:"at"`
}

// Player is the round-scoped state of one participant. Score, bonus count and mute survive rounds;
// everything else is reset when a new question starts.
type Player struct {
	Conn       domain.ConnID
	Username   string
	Score      decimal.Decimal
	BonusCount int
	Presence   domain.Presence
	Muted      bool

	selected   map[int]bool
	submission *Submission
	interacted bool
}

func newPlayer(conn domain.ConnID, username string) *Player {
	return &Player{
		Conn:     conn,
		Username: username,
		Score:    decimal.Zero,
		Presence: domain.PresenceNoAction,
		selected: make(map[int]bool),
	}
}

func (p *Player) resetRound() {
	p.selected = make(map[int]bool)
	p.submission = nil
	p.interacted = false
	if p.Presence != domain.PresenceLeft {
		p.Presence = domain.PresenceNoAction
	}
}

func (p *Player) hasSubmitted() bool { return p.submission != nil }

// Selected returns the live (unconfirmed) selection in ascending order.
func (p *Player) Selected() []int {
	idx := make([]int, 0, len(p.selected))
	for i, ok := range p.selected {
		if ok {
			idx = append(idx, i)
		}
	}
	slices.Sort(idx)
	return idx
}

func (p *Player) Submission() (Submission, bool) {
	if p.submission == nil {
		return Submission{}, false
	}
	return *p.submission, true
}

func (p *Player) interact() {
	if p.Presence == domain.PresenceNoAction {
		p.Presence = domain.PresenceInteracted
	}
}

func (p *Player) entry() domain.LeaderboardEntry {
	return domain.LeaderboardEntry{
		Username:   p.Username,
		Points:     p.Score,
		BonusCount: p.BonusCount,
		Presence:   p.Presence,
		Muted:      p.Muted,
	}
}

// normalizeChoices drops out-of-range indices and duplicates and sorts the rest.
func normalizeChoices(indices []int, n int) []int {
	out := make([]int, 0, len(indices))
	for _, i := range indices {
		if i >= 0 && i < n && !slices.Contains(out, i) {
			out = append(out, i)
		}
	}
	slices.Sort(out)
	return out
}
