package order

import (
	"encoding/json"
	"fmt"

	"marketplace-server-go/internal/apierr"
)

// Content definitions of interactive earn offers. Polls and quizzes share the
// page layout; quiz pages additionally carry the right answer and its reward.

type contentQuestion struct {
	Id   string `json:"id"`
	Text string `json:"text"`
}

type pollPage struct {
	Question contentQuestion `json:"question"`
	Answers  []string        `json:"answers"`
}

type pollContent struct {
	Pages []pollPage `json:"pages"`
}

type quizPage struct {
	Question    contentQuestion `json:"question"`
	Answers     []string        `json:"answers"`
	RightAnswer int             `json:"right_answer"` // 1-based index into Answers
	Amount      int64           `json:"amount"`
}

type quizContent struct {
	Pages []quizPage `json:"pages"`
}

// answersForm is the submitted form: question id to the 1-based index of the
// chosen answer.
type answersForm map[string]int

func parseAnswersForm(form string) (answersForm, error) {
	if form == "" {
		return nil, apierr.InvalidPollAnswers()
	}
	answers := answersForm{}
	if err := json.Unmarshal([]byte(form), &answers); err != nil {
		return nil, apierr.InvalidPollAnswers()
	}
	return answers, nil
}

// validatePollAnswers checks that every submitted answer references an
// existing question and a valid choice.
func validatePollAnswers(content, form string) error {
	var poll pollContent
	if err := json.Unmarshal([]byte(content), &poll); err != nil {
		return fmt.Errorf("malformed poll content: %w", err)
	}
	answers, err := parseAnswersForm(form)
	if err != nil {
		return err
	}

	choices := make(map[string]int, len(poll.Pages))
	for _, page := range poll.Pages {
		choices[page.Question.Id] = len(page.Answers)
	}
	for questionId, selected := range answers {
		max, ok := choices[questionId]
		if !ok || selected < 1 || selected > max {
			return apierr.InvalidPollAnswers()
		}
	}
	return nil
}

// quizReward sums the rewards of correctly answered questions. A quiz with no
// correct answers still pays one unit so the completed order carries value.
func quizReward(content, form string) (int64, error) {
	var quiz quizContent
	if err := json.Unmarshal([]byte(content), &quiz); err != nil {
		return 0, fmt.Errorf("malformed quiz content: %w", err)
	}
	answers, err := parseAnswersForm(form)
	if err != nil {
		return 0, err
	}

	var sum int64
	for _, page := range quiz.Pages {
		selected, ok := answers[page.Question.Id]
		if !ok {
			continue
		}
		if selected < 1 || selected > len(page.Answers) {
			return 0, apierr.InvalidPollAnswers()
		}
		if selected == page.RightAnswer {
			sum += page.Amount
		}
	}
	if sum < 1 {
		sum = 1
	}
	return sum, nil
}
