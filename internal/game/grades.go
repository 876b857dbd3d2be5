package game

import "strings"

const (
	GradeWrong   = 0
	GradeHalf    = 50
	GradeCorrect = 100
)

type Grade struct {
	Username string `json:"username"`
	Grade    int    `json:"grade"`
}

// GradeCounts is the distribution of one long-answer round.
type GradeCounts struct {
	Zero int `json:"0"`
	Half int `json:"50"`
	Full int `json:"100"`
}

// GradeManager keeps the grades of the current long-answer round and the archived distribution of
// every graded question.
type GradeManager struct {
	grades  map[string]int
	history map[int]GradeCounts
}

func NewGradeManager() *GradeManager {
	return &GradeManager{
		grades:  make(map[string]int),
		history: make(map[int]GradeCounts),
	}
}

// SetGrades records assignments for the current round's submitters. A later grade for the same
// username replaces the earlier one. Grades outside {0, 50, 100} or for anyone who did not submit
// are ignored.
func (m *GradeManager) SetGrades(gs []Grade, submitters []string) {
	allowed := make(map[string]bool, len(submitters))
	for _, u := range submitters {
		allowed[gradeKey(u)] = true
	}

	for _, g := range gs {
		if !validGrade(g.Grade) || !allowed[gradeKey(g.Username)] {
			continue
		}
		m.grades[gradeKey(g.Username)] = g.Grade
	}
}

func (m *GradeManager) Grade(username string) (int, bool) {
	g, ok := m.grades[gradeKey(username)]
	return g, ok
}

func (m *GradeManager) GetGradeCounts() GradeCounts {
	var c GradeCounts
	for _, g := range m.grades {
		switch g {
		case GradeWrong:
			c.Zero++
		case GradeHalf:
			c.Half++
		case GradeCorrect:
			c.Full++
		}
	}
	return c
}

// PushGrades archives the current distribution under the question index.
func (m *GradeManager) PushGrades(question int) {
	m.history[question] = m.GetGradeCounts()
}

func (m *GradeManager) History(question int) (GradeCounts, bool) {
	c, ok := m.history[question]
	return c, ok
}

// IsGraded reports whether every submitter has a grade.
func (m *GradeManager) IsGraded(submitters []string) bool {
	for _, u := range submitters {
		if _, ok := m.grades[gradeKey(u)]; !ok {
			return false
		}
	}
	return true
}

// Reset clears the current round. History is kept.
func (m *GradeManager) Reset() {
	m.grades = make(map[string]int)
}

func validGrade(g int) bool {
	return g == GradeWrong || g == GradeHalf || g == GradeCorrect
}

func gradeKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
