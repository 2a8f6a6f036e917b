package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/relaydesk/relay/internal/models"
)

// Extraction errors
var (
	// ErrUnavailable means no API key was configured; callers surface it
	// as an upstream failure rather than guessing at a proposal.
	ErrUnavailable = errors.New("ai extraction is not configured")

	// ErrMalformed means the model claimed readiness but the payload
	// failed validation. The conversation stays in clarification.
	ErrMalformed = errors.New("malformed extraction result")
)

// Extractor turns free-form chat into structured task proposals using the
// OpenAI chat API in JSON mode
type Extractor struct {
	client  *openai.Client
	model   string
	prompts *PromptConfig
	logger  *zap.Logger
}

// NewExtractor creates a new task extractor. An empty API key yields an
// extractor whose Extract always fails with ErrUnavailable.
func NewExtractor(apiKey, model string, prompts *PromptConfig, logger *zap.Logger) *Extractor {
	e := &Extractor{
		model:   model,
		prompts: prompts,
		logger:  logger,
	}
	if apiKey != "" {
		e.client = openai.NewClient(apiKey)
	}
	return e
}

// ExtractRequest carries one extraction turn: the conversation so far, the
// requesting team's roster, and in edit mode the current task sheet.
type ExtractRequest struct {
	Transcript []ChatTurn
	Roster     []*models.Member
	Sheet      *Sheet
}

// modelResponse is the raw JSON shape the model is instructed to produce.
// Dates arrive as YYYY-MM-DD strings.
type modelResponse struct {
	Ready    bool   `json:"ready"`
	Reply    string `json:"reply"`
	Title    string `json:"title"`
	Deadline string `json:"deadline"`
	Steps    []struct {
		Description  string   `json:"description"`
		Assignee     string   `json:"assignee"`
		Alternatives []string `json:"alternatives"`
		Deadline     string   `json:"deadline"`
	} `json:"steps"`
	Recurrence *struct {
		Type     string `json:"type"`
		Interval int    `json:"interval"`
	} `json:"recurrence"`
}

// Extract runs one turn of the extraction conversation. The result either
// carries a validated ReadyProposal or a clarification reply, never both
// halves of one.
func (e *Extractor) Extract(ctx context.Context, req ExtractRequest) (*Extraction, error) {
	if e.client == nil {
		return nil, ErrUnavailable
	}

	messages, params, err := e.buildMessages(req)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: params.temperature,
		MaxTokens:   params.maxTokens,
		Messages:    messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		e.logger.Error("Failed to call OpenAI API", zap.Error(err))
		return nil, fmt.Errorf("failed to extract task: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	return e.parseResponse(resp.Choices[0].Message.Content, req.Roster)
}

type callParams struct {
	temperature float32
	maxTokens   int
}

// buildMessages assembles the system and conversation messages. Edit mode
// uses the task_edit prompt and includes the normalized task sheet.
func (e *Extractor) buildMessages(req ExtractRequest) ([]openai.ChatCompletionMessage, callParams, error) {
	section := e.prompts.TaskExtraction
	if req.Sheet != nil {
		section = e.prompts.TaskEdit
	}

	roster := make([]string, 0, len(req.Roster))
	for _, member := range req.Roster {
		if !member.Archived {
			roster = append(roster, member.DisplayName)
		}
	}

	data := map[string]interface{}{
		"Roster": strings.Join(roster, ", "),
		"Today":  time.Now().Format("2006-01-02"),
	}
	if req.Sheet != nil {
		sheetJSON, err := json.Marshal(req.Sheet)
		if err != nil {
			return nil, callParams{}, fmt.Errorf("failed to marshal task sheet: %w", err)
		}
		data["Sheet"] = string(sheetJSON)
	}

	system, err := renderTemplate(section.System, data)
	if err != nil {
		return nil, callParams{}, err
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
	}
	for _, turn := range req.Transcript {
		role := openai.ChatMessageRoleUser
		if turn.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: turn.Content,
		})
	}

	return messages, callParams{temperature: section.Temperature, maxTokens: section.MaxTokens}, nil
}

// parseResponse validates the raw model output. A response marked ready
// that fails validation is rejected wholesale.
func (e *Extractor) parseResponse(content string, roster []*models.Member) (*Extraction, error) {
	var raw modelResponse
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		e.logger.Error("Failed to parse extraction result",
			zap.Error(err),
			zap.String("content", content))
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if !raw.Ready {
		if raw.Reply == "" {
			return nil, fmt.Errorf("%w: clarification turn without reply", ErrMalformed)
		}
		return &Extraction{Reply: raw.Reply}, nil
	}

	proposal, err := buildProposal(&raw)
	if err != nil {
		e.logger.Warn("Rejected ready proposal", zap.Error(err), zap.String("content", content))
		return nil, err
	}

	e.logger.Info("Task proposal extracted",
		zap.String("title", proposal.Title),
		zap.Int("steps", len(proposal.Steps)))

	return &Extraction{
		Ready:       proposal,
		Reply:       raw.Reply,
		Resolutions: ResolveNames(proposal, roster),
	}, nil
}

func buildProposal(raw *modelResponse) (*ReadyProposal, error) {
	if strings.TrimSpace(raw.Title) == "" {
		return nil, fmt.Errorf("%w: ready proposal without title", ErrMalformed)
	}
	if len(raw.Steps) == 0 {
		return nil, fmt.Errorf("%w: ready proposal without steps", ErrMalformed)
	}

	proposal := &ReadyProposal{Title: strings.TrimSpace(raw.Title)}

	deadline, err := parseDate(raw.Deadline)
	if err != nil {
		return nil, fmt.Errorf("%w: bad deadline %q", ErrMalformed, raw.Deadline)
	}
	proposal.Deadline = deadline

	for i, rawStep := range raw.Steps {
		if strings.TrimSpace(rawStep.Description) == "" {
			return nil, fmt.Errorf("%w: step %d without description", ErrMalformed, i+1)
		}
		step := StepProposal{
			Description:  strings.TrimSpace(rawStep.Description),
			AssigneeName: strings.TrimSpace(rawStep.Assignee),
		}
		for _, alt := range rawStep.Alternatives {
			if trimmed := strings.TrimSpace(alt); trimmed != "" {
				step.Alternatives = append(step.Alternatives, trimmed)
			}
		}
		mini, err := parseDate(rawStep.Deadline)
		if err != nil {
			return nil, fmt.Errorf("%w: bad step deadline %q", ErrMalformed, rawStep.Deadline)
		}
		step.MiniDeadline = mini
		proposal.Steps = append(proposal.Steps, step)
	}

	if raw.Recurrence != nil && raw.Recurrence.Type != "" {
		switch raw.Recurrence.Type {
		case models.RecurrenceDaily, models.RecurrenceWeekly, models.RecurrenceMonthly:
		default:
			return nil, fmt.Errorf("%w: unknown recurrence type %q", ErrMalformed, raw.Recurrence.Type)
		}
		interval := raw.Recurrence.Interval
		if interval < 1 {
			interval = 1
		}
		proposal.Recurrence = &RecurrenceProposal{
			Type:     raw.Recurrence.Type,
			Interval: interval,
			Enabled:  true,
		}
	}

	return proposal, nil
}

func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unparseable date %q", s)
}
