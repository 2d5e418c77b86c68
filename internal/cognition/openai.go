package cognition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ClientConfig holds connection settings for an OpenAI-compatible backend.
type ClientConfig struct {
	ID             string        `json:"id"`
	Endpoint       string        `json:"endpoint"`
	APIKey         string        `json:"api_key"`
	Model          string        `json:"model"`
	EmbeddingModel string        `json:"embedding_model"`
	Timeout        time.Duration `json:"timeout,omitempty"`
}

// Client implements Service against an OpenAI-compatible HTTP API:
// /chat/completions for text operations, /embeddings for vectors.
type Client struct {
	config ClientConfig
	client *http.Client
	logger *zap.Logger
}

// NewClient creates a cognition client.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1"
	}
	return &Client{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// ID returns the configured client id.
func (c *Client) ID() string { return c.config.ID }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

// chat sends a completion request and returns the first choice's content.
func (c *Client) chat(ctx context.Context, system, user string, temperature float64) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("empty response from cognition backend")
	}
	return cr.Choices[0].Message.Content, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
}

type embeddingResponse struct {
	Data []embeddingData `json:"data"`
}

// Embed returns a vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{
		Model: c.config.EmbeddingModel,
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.Endpoint+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	var er embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(er.Data) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return er.Data[0].Embedding, nil
}

// ScoreImportance rates the significance of a memory 1-10.
func (c *Client) ScoreImportance(ctx context.Context, text, agentContext string) (int, error) {
	system := "You rate how important a memory is to the agent described. " +
		"Reply with a single integer from 1 (mundane) to 10 (life-changing). No other text."
	user := fmt.Sprintf("Agent context:\n%s\n\nMemory:\n%s", agentContext, text)

	out, err := c.chat(ctx, system, user, 0)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("non-numeric importance %q: %w", out, err)
	}
	return n, nil
}

// reflectionPayload is the JSON shape the model is asked to produce.
type reflectionPayload struct {
	Insight     string   `json:"insight"`
	EvidenceIDs []string `json:"evidence_ids"`
	Importance  int      `json:"importance"`
}

// SynthesizeReflection distills an insight from source memories.
func (c *Client) SynthesizeReflection(ctx context.Context, memories []MemoryExcerpt, agentContext string) (*Reflection, error) {
	var b strings.Builder
	for _, m := range memories {
		fmt.Fprintf(&b, "[%s] (importance %d) %s\n", m.ID, m.Importance, m.Content)
	}
	system := "You synthesize a single high-level insight from an agent's recent memories. " +
		`Reply with JSON only: {"insight": string, "evidence_ids": [string], "importance": 1-10}.`
	user := fmt.Sprintf("Agent context:\n%s\n\nMemories:\n%s", agentContext, b.String())

	out, err := c.chat(ctx, system, user, 0.7)
	if err != nil {
		return nil, err
	}
	var p reflectionPayload
	if err := json.Unmarshal([]byte(extractJSON(out)), &p); err != nil {
		return nil, fmt.Errorf("malformed reflection payload: %w", err)
	}
	if p.Insight == "" {
		return nil, fmt.Errorf("reflection payload missing insight")
	}
	return &Reflection{
		Insight:     p.Insight,
		EvidenceIDs: p.EvidenceIDs,
		Importance:  p.Importance,
	}, nil
}

type planPayload struct {
	Activities []string `json:"activities"`
}

// GeneratePlan produces an activity list at the requested granularity.
func (c *Client) GeneratePlan(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	var instruction string
	switch req.Granularity {
	case GranularityDaily:
		instruction = "Produce a daily plan of 5 to 8 activities aligned with the agent's goals and traits."
	case GranularityHourly:
		instruction = "Decompose the active daily activity into concrete steps for the next hour."
	default:
		instruction = "Produce the single immediate next step, one short phrase."
	}
	system := instruction + ` Reply with JSON only: {"activities": [string]}.`
	user := fmt.Sprintf(
		"Agent: %s\nGoals: %s\nTraits: %s\nTime of day: %s\nParent plan: %s\nContext:\n%s",
		req.AgentName,
		strings.Join(req.Goals, "; "),
		strings.Join(req.Traits, "; "),
		req.TimeOfDay,
		strings.Join(req.ParentPlan, "; "),
		req.Context,
	)

	out, err := c.chat(ctx, system, user, 0.8)
	if err != nil {
		return nil, err
	}
	var p planPayload
	if err := json.Unmarshal([]byte(extractJSON(out)), &p); err != nil {
		return nil, fmt.Errorf("malformed plan payload: %w", err)
	}
	if len(p.Activities) == 0 {
		return nil, fmt.Errorf("plan payload missing activities")
	}
	return &PlanResult{Activities: p.Activities}, nil
}

type utterancePayload struct {
	Content string `json:"content"`
	Emotion string `json:"emotion"`
	Intent  string `json:"intent"`
}

// GenerateUtterance produces one conversational message.
func (c *Client) GenerateUtterance(ctx context.Context, req UtteranceRequest) (*Utterance, error) {
	var hist strings.Builder
	for _, t := range req.History {
		fmt.Fprintf(&hist, "%s: %s\n", t.SpeakerID, t.Content)
	}
	system := fmt.Sprintf(
		"You speak as %s (traits: %s) talking with %s (relationship: %s). "+
			`Reply with JSON only: {"content": string, "emotion": string, "intent": string}.`,
		req.SpeakerName, strings.Join(req.SpeakerTraits, "; "),
		req.PartnerName, req.Relationship,
	)
	user := fmt.Sprintf("Context:\n%s\n\nConversation so far:\n%s", req.Context, hist.String())

	out, err := c.chat(ctx, system, user, 0.9)
	if err != nil {
		return nil, err
	}
	var p utterancePayload
	if err := json.Unmarshal([]byte(extractJSON(out)), &p); err != nil {
		return nil, fmt.Errorf("malformed utterance payload: %w", err)
	}
	if p.Content == "" {
		return nil, fmt.Errorf("utterance payload missing content")
	}
	return &Utterance{Content: p.Content, Emotion: p.Emotion, Intent: p.Intent}, nil
}

// extractJSON trims markdown fences and surrounding prose around a JSON object.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "{"); i >= 0 {
		if j := strings.LastIndex(s, "}"); j > i {
			return s[i : j+1]
		}
	}
	return s
}
