package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/example/inkquest/pkg/models"
)

// EvaluationRequest is a finished piece of writing to score
type EvaluationRequest struct {
	Task      *models.DailyTask
	Content   string
	WordCount int
}

// Dimension is the score of one aspect of the writing
type Dimension struct {
	Name    string `json:"name"`
	Score   int    `json:"score"`
	Comment string `json:"comment,omitempty"`
}

// Dimensions accepts either a JSON array of dimensions or an object keyed
// by dimension name whose values are a score or {score, comment}
type Dimensions []Dimension

func (d *Dimensions) UnmarshalJSON(data []byte) error {
	var list []Dimension
	if err := json.Unmarshal(data, &list); err == nil {
		*d = list
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("dimensions must be an array or an object")
	}
	out := make(Dimensions, 0, len(obj))
	for name, raw := range obj {
		dim := Dimension{Name: name}
		var score float64
		if err := json.Unmarshal(raw, &score); err == nil {
			dim.Score = int(score)
		} else {
			var v struct {
				Score   float64 `json:"score"`
				Comment string  `json:"comment"`
			}
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("invalid dimension %q", name)
			}
			dim.Score = int(v.Score)
			dim.Comment = v.Comment
		}
		out = append(out, dim)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	*d = out
	return nil
}

// Evaluation is the scorer's verdict. Fallback is set when the scorer could
// not be reached or answered nonsense; Score then holds the default.
type Evaluation struct {
	Score        int        `json:"score"`
	Dimensions   Dimensions `json:"dimensions"`
	Highlights   []string   `json:"highlights"`
	Improvements []string   `json:"improvements"`
	Overall      string     `json:"overall"`
	Fallback     bool       `json:"fallback,omitempty"`
	Err          error      `json:"-"`
}

// Evaluate asks the model to score a submission
func (c *ChatGPT) Evaluate(ctx context.Context, req EvaluationRequest) (*Evaluation, error) {
	if req.Task == nil {
		return nil, fmt.Errorf("evaluation needs a task")
	}
	reply, err := c.complete(ctx, []Message{
		{Role: "system", Content: "You are a demanding but encouraging writing coach. You answer with JSON only."},
		{Role: "user", Content: evaluationPrompt(req)},
	}, 800, 0.3)
	if err != nil {
		return nil, err
	}
	return parseEvaluation(reply)
}

// EvaluateWithFallback never fails: on any error it returns fallbackScore
// with Fallback set
func (c *ChatGPT) EvaluateWithFallback(ctx context.Context, req EvaluationRequest, fallbackScore int) Evaluation {
	eval, err := c.Evaluate(ctx, req)
	if err != nil {
		return Evaluation{
			Score:    fallbackScore,
			Overall:  "Automatic scoring is unavailable, a default score was recorded.",
			Fallback: true,
			Err:      err,
		}
	}
	return *eval
}

func evaluationPrompt(req EvaluationRequest) string {
	var b strings.Builder
	t := req.Task
	fmt.Fprintf(&b, "Task (%s, trains %s): %s\n%s\n", t.Tier, t.AttrType, t.Title, t.Description)
	if t.Requirements != nil && *t.Requirements != "" {
		fmt.Fprintf(&b, "Requirements: %s\n", *t.Requirements)
	}
	if t.WordLimitMin != nil || t.WordLimitMax != nil {
		b.WriteString("Length:")
		if t.WordLimitMin != nil {
			fmt.Fprintf(&b, " at least %d words", *t.WordLimitMin)
		}
		if t.WordLimitMax != nil {
			fmt.Fprintf(&b, " at most %d words", *t.WordLimitMax)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Submission (%d words):\n\"\"\"\n%s\n\"\"\"\n", req.WordCount, req.Content)
	b.WriteString(`Score it from 0 to 100. Answer with one JSON object: ` +
		`{"score": 0-100, "dimensions": {"<dimension>": {"score": 0-100, "comment": "..."}}, ` +
		`"highlights": ["..."], "improvements": ["..."], "overall": "..."}`)
	return b.String()
}

func parseEvaluation(reply string) (*Evaluation, error) {
	raw, ok := extractJSON(reply, '{', '}')
	if !ok {
		return nil, fmt.Errorf("no JSON object in reply")
	}
	var payload struct {
		Score        *float64   `json:"score"`
		Dimensions   Dimensions `json:"dimensions"`
		Highlights   []string   `json:"highlights"`
		Improvements []string   `json:"improvements"`
		Overall      string     `json:"overall"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse evaluation: %w", err)
	}
	if payload.Score == nil {
		return nil, fmt.Errorf("evaluation has no score")
	}
	return &Evaluation{
		Score:        clampScore(int(*payload.Score + 0.5)),
		Dimensions:   payload.Dimensions,
		Highlights:   payload.Highlights,
		Improvements: payload.Improvements,
		Overall:      payload.Overall,
	}, nil
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
