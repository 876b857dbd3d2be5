package catalog_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/catalog"
	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

const bank = `
quizzes:
  - id: go-basics
    title: Go basics
    public: true
    questions:
      - text: Which keyword starts a goroutine?
        type: multiple-choice
        points: 100
        duration: 15s
        choices:
          - text: defer
          - text: go
            correct: true
      - text: Explain channels
        type: long-answer
        points: 50
  - id: secret
    title: Owner only
    owner: alice
    questions:
      - text: Who am I?
        type: long-answer
        points: 10
bank:
  - text: 1 + 1?
    type: multiple-choice
    points: 10
    choices:
      - text: "2"
        correct: true
  - text: 2 + 2?
    type: multiple-choice
    points: 10
    choices:
      - text: "4"
        correct: true
  - text: Describe a mutex
    type: long-answer
    points: 20
`

func TestParse(t *testing.T) {
	m, err := catalog.Parse([]byte(bank))
	require.NoError(t, err)

	q, err := m.Quiz(context.Background(), "go-basics", "")
	require.NoError(t, err)
	assert.Equal(t, "Go basics", q.Title)
	require.Len(t, q.Questions, 2)
	assert.Equal(t, 15*time.Second, q.Questions[0].Duration)
	assert.Equal(t, []int{1}, q.Questions[0].CorrectChoices())
	assert.Equal(t, domain.QuestionTypeLongAnswer, q.Questions[1].Type)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown type": `
bank:
  - text: x
    type: essay`,

		"multiple choice without choices": `
bank:
  - text: x
    type: multiple-choice`,

		"quiz without id": `
quizzes:
  - title: nameless`,

		"malformed yaml": `quizzes: [`,
	}

	for name, doc := range tests {
		doc := doc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := catalog.Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestMemory_Quiz(t *testing.T) {
	m, err := catalog.Parse([]byte(bank))
	require.NoError(t, err)

	tests := map[string]struct {
		quizID    string
		requester string
		wantErr   bool
	}{
		"public quiz":                 {quizID: "go-basics"},
		"private quiz for its owner":  {quizID: "secret", requester: "alice"},
		"private quiz for a stranger": {quizID: "secret", requester: "bob", wantErr: true},
		"private quiz anonymously":    {quizID: "secret", wantErr: true},
		"unknown quiz":                {quizID: "nope", wantErr: true},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := m.Quiz(context.Background(), tt.quizID, tt.requester)
			if tt.wantErr {
				assert.True(t, errors.IsCode(err, errors.CodeNotFound), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestMemory_RandomQuestions(t *testing.T) {
	m, err := catalog.Parse([]byte(bank))
	require.NoError(t, err)

	qs, err := m.RandomQuestions(context.Background(), domain.QuestionTypeMultipleChoice, 5)
	require.NoError(t, err)
	assert.Len(t, qs, 2, "should return at most what the bank has")

	qs, err = m.RandomQuestions(context.Background(), domain.QuestionTypeLongAnswer, 1)
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, "Describe a mutex", qs[0].Text)
}
