package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/inkquest/pkg/models"
)

// replyServer answers every chat request with content
func replyServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)

		w.WriteHeader(status)
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testClient(url string) *ChatGPT {
	return New(Config{APIKey: "sk-test", APIURL: url, Model: "test-model", Timeout: 2 * time.Second})
}

func testTask() *models.DailyTask {
	req := "Use three senses."
	return &models.DailyTask{Tier: models.TierMicro, Title: "Rain", Description: "Describe rain.", Requirements: &req, AttrType: models.AttrScene}
}

func TestEvaluateParsesReply(t *testing.T) {
	srv := replyServer(t, http.StatusOK, "Here you go:\n```json\n"+
		`{"score": 86.4, "dimensions": {"scene": {"score": 90, "comment": "vivid"}, "rhythm": 80},`+
		` "highlights": ["smell of wet stone"], "improvements": ["vary openings"], "overall": "Strong."}`+"\n```")

	eval, err := testClient(srv.URL).Evaluate(context.Background(), EvaluationRequest{Task: testTask(), Content: "text", WordCount: 1})
	require.NoError(t, err)
	assert.Equal(t, 86, eval.Score)
	require.Len(t, eval.Dimensions, 2)
	assert.Equal(t, "rhythm", eval.Dimensions[0].Name)
	assert.Equal(t, 80, eval.Dimensions[0].Score)
	assert.Equal(t, "vivid", eval.Dimensions[1].Comment)
	assert.Equal(t, []string{"smell of wet stone"}, eval.Highlights)
	assert.False(t, eval.Fallback)
}

func TestEvaluateAcceptsDimensionArray(t *testing.T) {
	srv := replyServer(t, http.StatusOK, `{"score": 140, "dimensions": [{"name": "style", "score": 70}]}`)

	eval, err := testClient(srv.URL).Evaluate(context.Background(), EvaluationRequest{Task: testTask(), Content: "x"})
	require.NoError(t, err)
	assert.Equal(t, 100, eval.Score)
	assert.Equal(t, Dimensions{{Name: "style", Score: 70}}, eval.Dimensions)
}

func TestEvaluateWithFallback(t *testing.T) {
	cases := map[string]*httptest.Server{
		"malformed":    replyServer(t, http.StatusOK, "I think it is quite good!"),
		"no score":     replyServer(t, http.StatusOK, `{"overall": "nice"}`),
		"server error": replyServer(t, http.StatusInternalServerError, `{"score": 90}`),
	}
	for name, srv := range cases {
		t.Run(name, func(t *testing.T) {
			eval := testClient(srv.URL).EvaluateWithFallback(context.Background(), EvaluationRequest{Task: testTask()}, 70)
			assert.True(t, eval.Fallback)
			assert.Equal(t, 70, eval.Score)
			assert.Error(t, eval.Err)
		})
	}
}

func TestEvaluateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	client := New(Config{APIKey: "sk-test", APIURL: srv.URL, Timeout: 50 * time.Millisecond})
	eval := client.EvaluateWithFallback(context.Background(), EvaluationRequest{Task: testTask()}, 70)
	assert.True(t, eval.Fallback)
	assert.Equal(t, 70, eval.Score)
}

func TestDisabledClientFallsBack(t *testing.T) {
	client := New(Config{})
	assert.False(t, client.Enabled())

	eval := client.EvaluateWithFallback(context.Background(), EvaluationRequest{Task: testTask()}, 70)
	assert.True(t, eval.Fallback)
	assert.ErrorIs(t, eval.Err, ErrDisabled)

	gen := client.GenerateTasksWithFallback(context.Background(), GenerateRequest{Tier: models.TierMicro, Count: 2})
	assert.Empty(t, gen.Candidates)
	assert.ErrorIs(t, gen.Err, ErrDisabled)
}

func TestGenerateTasks(t *testing.T) {
	srv := replyServer(t, http.StatusOK, `Sure! [
		{"title": "Echo", "description": "Write a room through its sounds.", "attr_type": "scene", "difficulty": "easy"},
		{"title": "", "description": "missing title"},
		{"title": "Pause", "description": "A conversation that hinges on a silence.", "attr_type": "dialogue"}
	]`)

	samples := []models.TaskTemplate{{Tier: models.TierMicro, Title: "Rain", Description: "Describe rain.", AttrType: models.AttrScene}}
	candidates, err := testClient(srv.URL).GenerateTasks(context.Background(), GenerateRequest{Tier: models.TierMicro, Count: 2, Samples: samples})
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "Echo", candidates[0].Title)
	assert.Equal(t, "dialogue", candidates[1].AttrType)
}

func TestGenerateTasksUnparsable(t *testing.T) {
	srv := replyServer(t, http.StatusOK, "no tasks today")

	gen := testClient(srv.URL).GenerateTasksWithFallback(context.Background(), GenerateRequest{Tier: models.TierShort, Count: 1})
	assert.Empty(t, gen.Candidates)
	assert.Error(t, gen.Err)
}

func TestGenerationPromptIncludesSamples(t *testing.T) {
	prompt := generationPrompt(GenerateRequest{
		Tier:    models.TierShort,
		Count:   3,
		Samples: []models.TaskTemplate{{Title: "Two Doors", Description: "Loyalty or honesty.", AttrType: models.AttrConflict}},
	})
	assert.Contains(t, prompt, "Create 3 new short")
	assert.Contains(t, prompt, "[conflict] Two Doors: Loyalty or honesty.")
}
