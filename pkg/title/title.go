// Package title asks a language model for a short channel title based on
// its recent history.
package title

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"agentrelay/pkg/apperr"
	"agentrelay/pkg/ids"
	"agentrelay/pkg/logger"
	"agentrelay/pkg/store"
	"agentrelay/pkg/telemetry"
)

const (
	DefaultLimit = 50
	// fewer messages than this give no title
	MinMessages = 4

	ReasonNotEnough = "Not enough messages to generate a title"
)

const promptTemplate = `Based on the conversation below, generate a short, descriptive title for this chat. The title should capture the main topic or theme of the discussion.
Rules:
- Keep it concise (3-6 words)
- Make it descriptive and specific
- Avoid generic terms like "Chat" or "Conversation"
- Focus on the main topic, activity, or subject matter
- Use natural language, not hashtags or symbols
Examples:
- "React Component Help"
- "Weekend Trip Planning"
- "Database Design Discussion"
- "Recipe Exchange"
- "Career Advice Session"
Recent conversation:
%s
Respond with just the title, nothing else.`

// Request carries the sampling knobs for one completion.
type Request struct {
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Generator is a text completion backend.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// AgentLookup tells whether an agent id is live.
type AgentLookup interface {
	Active(id string) bool
}

type Result struct {
	Title     *string `json:"title"`
	ChannelID string  `json:"channelId"`
	Reason    string  `json:"reason,omitempty"`
}

type Service struct {
	store       store.ChannelStore
	agents      AgentLookup
	gen         Generator
	temperature float64
	maxTokens   int
	log         *slog.Logger
}

type Options struct {
	Temperature float64
	MaxTokens   int
	Logger      *slog.Logger
}

// NewService builds the title service. gen may be nil when no provider is
// configured; Generate then reports the service unavailable.
func NewService(s store.ChannelStore, agents AgentLookup, gen Generator, opts Options) *Service {
	if opts.Temperature == 0 {
		opts.Temperature = 0.3
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 50
	}
	return &Service{
		store:       s,
		agents:      agents,
		gen:         gen,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		log:         logger.Or(opts.Logger),
	}
}

// Generate titles channelID using up to limit messages before before
// (epoch ms, 0 for now). The transcript labels messages written by agentID
// as Agent and everything else as User.
func (s *Service) Generate(ctx context.Context, channelID, agentID string, limit int, before int64) (*Result, error) {
	if !ids.Valid(channelID) {
		return nil, apperr.Validation("Invalid channel ID format")
	}
	if !ids.Valid(agentID) {
		return nil, apperr.Validation("Valid agent ID is required")
	}
	if s.agents == nil || !s.agents.Active(agentID) {
		return nil, apperr.NotFound("Agent not found or not active")
	}
	if s.gen == nil {
		return nil, apperr.Unavailable("Title generation is not configured")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	tr := telemetry.Track("title.generate")
	defer tr.Finish()

	msgs, err := s.store.ListMessages(ctx, channelID, limit, before)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("Channel not found")
		}
		return nil, apperr.Store("list messages", err)
	}
	if len(msgs) < MinMessages {
		return &Result{ChannelID: channelID, Reason: ReasonNotEnough}, nil
	}

	// store order is newest first
	lines := make([]string, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		role := "User"
		if msgs[i].AuthorID == agentID {
			role = "Agent"
		}
		lines = append(lines, role+": "+msgs[i].Content)
	}

	s.log.Info("title_generation_started", "channel_id", channelID, "messages", len(msgs))
	raw, err := s.gen.Generate(ctx, Request{
		Prompt:      BuildPrompt(strings.Join(lines, "\n")),
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		s.log.Error("title_generation_failed", "channel_id", channelID, "error", err)
		return nil, apperr.Wrap(apperr.KindDelivery, err, "Failed to summarize channel")
	}
	title := Clean(raw)
	if title == "" {
		return nil, apperr.Unavailable("Model returned an empty title")
	}
	s.log.Info("title_generated", "channel_id", channelID, "title", title)
	return &Result{Title: &title, ChannelID: channelID}, nil
}

// BuildPrompt renders the title prompt around transcript.
func BuildPrompt(transcript string) string {
	return fmt.Sprintf(promptTemplate, transcript)
}

// Clean trims whitespace and one pair of surrounding quotes.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, `"`)
	s = strings.TrimPrefix(s, `'`)
	s = strings.TrimSuffix(s, `"`)
	s = strings.TrimSuffix(s, `'`)
	return strings.TrimSpace(s)
}
