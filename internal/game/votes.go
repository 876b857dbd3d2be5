package game

import "github.com/victornm/livequiz/internal/domain"

type Vote struct {
	ChoiceText string `json:"choiceText"`
	IsCorrect  bool   `json:"isCorrect"`
	VoteCount  int    `json:"voteCount"`
}

// VoteList tallies one multiple-choice question. Live toggles move the counts while participants
// change their minds; Tally replaces them with the confirmed selections at round end.
type VoteList struct {
	votes []Vote
}

func NewVoteList(q domain.Question) *VoteList {
	v := &VoteList{votes: make([]Vote, len(q.Choices))}
	for i, c := range q.Choices {
		v.votes[i] = Vote{ChoiceText: c.Text, IsCorrect: c.Correct}
	}
	return v
}

// Toggle moves the count of one choice. Counts never drop below zero.
func (v *VoteList) Toggle(choice int, selected bool) {
	if choice < 0 || choice >= len(v.votes) {
		return
	}

	if selected {
		v.votes[choice].VoteCount++
		return
	}

	if v.votes[choice].VoteCount > 0 {
		v.votes[choice].VoteCount--
	}
}

// Tally recomputes every count from the confirmed selection sets.
func (v *VoteList) Tally(selections [][]int) {
	for i := range v.votes {
		v.votes[i].VoteCount = 0
	}

	for _, sel := range selections {
		for _, c := range sel {
			if c >= 0 && c < len(v.votes) {
				v.votes[c].VoteCount++
			}
		}
	}
}

func (v *VoteList) Votes() []Vote {
	out := make([]Vote, len(v.votes))
	copy(out, v.votes)
	return out
}

func (v *VoteList) Counts() []int {
	out := make([]int, len(v.votes))
	for i, vote := range v.votes {
		out[i] = vote.VoteCount
	}
	return out
}
