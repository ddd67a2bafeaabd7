package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/example/inkquest/pkg/models"
)

// GenerateRequest asks for new task prompts of one tier
type GenerateRequest struct {
	Tier    models.Tier
	Count   int
	Samples []models.TaskTemplate
}

// Candidate is one generated task prompt
type Candidate struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Requirements string `json:"requirements"`
	AttrType     string `json:"attr_type"`
	Difficulty   string `json:"difficulty"`
}

// Generation is the outcome of a generation call. On failure Candidates is
// empty and Err holds the cause.
type Generation struct {
	Candidates []Candidate
	Err        error
}

// GenerateTasks asks the model for new task prompts modelled on the samples
func (c *ChatGPT) GenerateTasks(ctx context.Context, req GenerateRequest) ([]Candidate, error) {
	if req.Count <= 0 {
		return nil, nil
	}
	reply, err := c.complete(ctx, []Message{
		{Role: "system", Content: "You design short creative writing exercises for a daily practice platform. You answer with JSON only."},
		{Role: "user", Content: generationPrompt(req)},
	}, 400*req.Count, 0.9)
	if err != nil {
		return nil, err
	}
	return parseCandidates(reply)
}

// GenerateTasksWithFallback never fails: errors yield zero candidates
func (c *ChatGPT) GenerateTasksWithFallback(ctx context.Context, req GenerateRequest) Generation {
	candidates, err := c.GenerateTasks(ctx, req)
	if err != nil {
		return Generation{Err: err}
	}
	return Generation{Candidates: candidates}
}

func generationPrompt(req GenerateRequest) string {
	var b strings.Builder
	limits := "at most 100 words, about 5 minutes of writing"
	if req.Tier == models.TierShort {
		limits = "150 to 350 words, about 20 minutes of writing"
	}
	fmt.Fprintf(&b, "Create %d new %s writing exercises (%s).\n", req.Count, req.Tier, limits)
	b.WriteString("Each exercise trains one of: character, conflict, scene, dialogue, rhythm, style.\n")
	if len(req.Samples) > 0 {
		b.WriteString("Match the tone and size of these examples, but do not repeat them:\n")
		for _, s := range req.Samples {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", s.AttrType, s.Title, s.Description)
		}
	}
	b.WriteString(`Answer with a JSON array only, each element shaped as ` +
		`{"title": "...", "description": "...", "requirements": "...", "attr_type": "character|conflict|scene|dialogue|rhythm|style", "difficulty": "easy|normal|hard"}`)
	return b.String()
}

func parseCandidates(reply string) ([]Candidate, error) {
	raw, ok := extractJSON(reply, '[', ']')
	if !ok {
		return nil, fmt.Errorf("no JSON array in reply")
	}
	var candidates []Candidate
	if err := json.Unmarshal([]byte(raw), &candidates); err != nil {
		return nil, fmt.Errorf("failed to parse generated tasks: %w", err)
	}
	valid := candidates[:0]
	for _, cand := range candidates {
		cand.Title = strings.TrimSpace(cand.Title)
		cand.Description = strings.TrimSpace(cand.Description)
		if cand.Title == "" || cand.Description == "" {
			continue
		}
		valid = append(valid, cand)
	}
	return valid, nil
}
