package focus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lexiqai/lounge-voice/internal/appstate"
	"github.com/lexiqai/lounge-voice/internal/observability"
	"github.com/lexiqai/lounge-voice/internal/resilience"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// UserMessage is shown when the advisor cannot pick a quest
const UserMessage = "Sonia is having trouble focusing right now. Please try again."

// ErrNoQuests is returned when the quest log is empty
var ErrNoQuests = errors.New("quest log is empty")

var errEmptyReply = errors.New("model returned no text")

// Generator is the subset of the genai models service the advisor needs
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Advisor asks a text model which quest best matches the user's core values
type Advisor struct {
	gen     Generator
	model   string
	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryConfig
	timeout time.Duration
	logger  zerolog.Logger
}

// Options configures NewClientAdvisor
type Options struct {
	APIKey  string
	BaseURL string // Optional, e.g. the local API proxy
	Model   string
	Breaker *resilience.CircuitBreaker
}

// NewClientAdvisor creates an advisor backed by the Gemini API
func NewClientAdvisor(ctx context.Context, opts Options) (*Advisor, error) {
	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return NewAdvisor(client.Models, opts.Model, opts.Breaker), nil
}

// NewAdvisor creates an advisor over gen. A nil breaker disables circuit breaking.
func NewAdvisor(gen Generator, model string, breaker *resilience.CircuitBreaker) *Advisor {
	return &Advisor{
		gen:     gen,
		model:   model,
		breaker: breaker,
		retry:   resilience.DefaultRetryConfig(),
		timeout: 30 * time.Second,
		logger:  observability.GetLogger().With().Str("component", "focus").Logger(),
	}
}

type questRef struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Prompt renders the focus prompt for the given values and quests
func Prompt(values []string, quests []appstate.CapturedItem) (string, error) {
	refs := make([]questRef, len(quests))
	for i, q := range quests {
		refs[i] = questRef{ID: q.ID, Text: q.Text}
	}
	questJSON, err := json.Marshal(refs)
	if err != nil {
		return "", err
	}

	coreValues := strings.Join(values, ", ")
	if coreValues == "" {
		coreValues = "Not defined. Focus on a task that seems foundational or unblocks others."
	}

	var b strings.Builder
	b.WriteString("You are Sonia, a hyper-competent Chief of Staff. Based on the user's core values and their current quest log, ")
	b.WriteString("identify the single most important quest to focus on to create momentum and clarity.\n\n")
	b.WriteString("Core Values:\n")
	b.WriteString(coreValues)
	b.WriteString("\n\nQuest Log (JSON format with IDs):\n")
	b.Write(questJSON)
	b.WriteString("\n\nRespond with a JSON object containing the ID of the most important quest.")
	return b.String(), nil
}

func responseSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"id": {Type: genai.TypeString, Description: "The ID of the most important quest from the provided list."},
		},
		Required: []string{"id"},
	}
}

// Suggest returns the quest to focus on. An unparseable or unknown ID falls back to
// the first quest; transport and model errors are returned.
func (a *Advisor) Suggest(ctx context.Context, values []string, quests []appstate.CapturedItem) (appstate.CapturedItem, error) {
	if len(quests) == 0 {
		return appstate.CapturedItem{}, ErrNoQuests
	}

	prompt, err := Prompt(values, quests)
	if err != nil {
		return appstate.CapturedItem{}, err
	}

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema(),
	}

	var text string
	err = resilience.Retry(ctx, func(ctx context.Context) error {
		call := func() error {
			callCtx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			resp, err := a.gen.GenerateContent(callCtx, a.model, genai.Text(prompt), cfg)
			if err != nil {
				return err
			}
			if text = resp.Text(); text == "" {
				return resilience.NewRetryableError(errEmptyReply)
			}
			return nil
		}
		if a.breaker == nil {
			return call()
		}
		return a.breaker.Call(call)
	}, a.retry, resilience.IsRetryableNetworkError)
	if err != nil {
		observability.RecordError("generate", "focus")
		return appstate.CapturedItem{}, fmt.Errorf("focus advisor: %w", err)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		a.logger.Warn().Err(err).Msg("Focus response was not valid JSON, falling back to the first quest")
	}

	chosen, _ := appstate.ChooseFocus(quests, result.ID)
	if chosen.ID != result.ID {
		a.logger.Warn().Str("suggested", result.ID).Msg("Model returned an invalid quest ID, falling back to the first quest")
	}
	return chosen, nil
}

// Focus picks a quest for the store's current values and quest log and records it
func (a *Advisor) Focus(ctx context.Context, store *appstate.Store) (appstate.CapturedItem, error) {
	snap := store.Snapshot()
	chosen, err := a.Suggest(ctx, snap.Values, snap.Quests)
	if err != nil {
		return appstate.CapturedItem{}, err
	}
	if err := store.SetFocus(chosen.ID); err != nil {
		return appstate.CapturedItem{}, err
	}
	a.logger.Info().Str("quest_id", chosen.ID).Msg("Focus quest selected")
	return chosen, nil
}
