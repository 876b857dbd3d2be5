package catalog

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

// Memory is a catalog held in memory, usually loaded from a YAML quiz bank.
type Memory struct {
	mu      sync.RWMutex
	quizzes map[string]domain.Quiz
	bank    []domain.Question
}

func NewMemory(quizzes []domain.Quiz, bank []domain.Question) *Memory {
	m := &Memory{
		quizzes: make(map[string]domain.Quiz, len(quizzes)),
		bank:    slices.Clone(bank),
	}
	for _, q := range quizzes {
		m.quizzes[q.QuizID] = q
	}
	return m
}

func (m *Memory) Quiz(_ context.Context, quizID, requester string) (domain.Quiz, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.quizzes[quizID]
	if !ok || !visible(q, requester) {
		return domain.Quiz{}, errors.New(errors.CodeNotFound, errors.WithMessagef("quiz not found: %s", quizID))
	}
	q.Questions = slices.Clone(q.Questions)
	return q, nil
}

func (m *Memory) RandomQuestions(_ context.Context, t domain.QuestionType, n int) ([]domain.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pool []domain.Question
	for _, q := range m.bank {
		if q.Type == t {
			pool = append(pool, q)
		}
	}

	rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	return pool[:min(n, len(pool))], nil
}

// Add registers or replaces a quiz.
func (m *Memory) Add(q domain.Quiz) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.quizzes[q.QuizID] = q
}

func visible(q domain.Quiz, requester string) bool {
	return q.Public || (requester != "" && q.Owner == requester)
}

type bankFile struct {
	Quizzes []quizYAML     `yaml:"quizzes"`
	Bank    []questionYAML `yaml:"bank"`
}

type quizYAML struct {
	ID        string         `yaml:"id"`
	Title     string         `yaml:"title"`
	Owner     string         `yaml:"owner"`
	Public    bool           `yaml:"public"`
	Questions []questionYAML `yaml:"questions"`
}

type questionYAML struct {
	ID       string        `yaml:"id"`
	Text     string        `yaml:"text"`
	Type     string        `yaml:"type"`
	Points   int64         `yaml:"points"`
	Duration time.Duration `yaml:"duration"`
	Choices  []choiceYAML  `yaml:"choices"`
}

type choiceYAML struct {
	Text    string `yaml:"text"`
	Correct bool   `yaml:"correct"`
}

// LoadFile reads a YAML quiz bank.
func LoadFile(path string) (*Memory, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read quiz bank: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Memory, error) {
	var f bankFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse quiz bank: %w", err)
	}

	quizzes := make([]domain.Quiz, 0, len(f.Quizzes))
	for _, qz := range f.Quizzes {
		if qz.ID == "" {
			return nil, fmt.Errorf("parse quiz bank: quiz %q has no id", qz.Title)
		}

		quiz := domain.Quiz{QuizID: qz.ID, Title: qz.Title, Owner: qz.Owner, Public: qz.Public}
		for i, q := range qz.Questions {
			dq, err := q.toDomain()
			if err != nil {
				return nil, fmt.Errorf("parse quiz bank: quiz %s question %d: %w", qz.ID, i, err)
			}
			quiz.Questions = append(quiz.Questions, dq)
		}
		quizzes = append(quizzes, quiz)
	}

	bank := make([]domain.Question, 0, len(f.Bank))
	for i, q := range f.Bank {
		dq, err := q.toDomain()
		if err != nil {
			return nil, fmt.Errorf("parse quiz bank: bank question %d: %w", i, err)
		}
		bank = append(bank, dq)
	}

	return NewMemory(quizzes, bank), nil
}

func (q questionYAML) toDomain() (domain.Question, error) {
	t := domain.QuestionType(q.Type)
	if !t.Valid() {
		return domain.Question{}, fmt.Errorf("unknown type %q", q.Type)
	}
	if t == domain.QuestionTypeMultipleChoice && len(q.Choices) == 0 {
		return domain.Question{}, fmt.Errorf("multiple-choice question without choices")
	}

	dq := domain.Question{
		QuestionID: q.ID,
		Text:       q.Text,
		Type:       t,
		Points:     q.Points,
		Duration:   q.Duration,
	}
	for _, c := range q.Choices {
		dq.Choices = append(dq.Choices, domain.Choice{Text: c.Text, Correct: c.Correct})
	}
	return dq, nil
}
