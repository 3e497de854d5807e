package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"medos.dev/biovault/internal/store"
)

const (
	welcomeMessageID = "welcome"
	welcomeMessage   = "I'm MedOS. Ask about your bio-metrics, or upload a lab report for an instant clinical breakdown."

	roleUser  = "user"
	roleModel = "model"
)

var emergencyKeywords = []string{"chest pain", "cannot breathe", "heart attack", "stroke", "suicide"}

// IsRedFlag reports whether a prompt mentions a life-threatening emergency.
func IsRedFlag(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, kw := range emergencyKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ChatModel produces a reply for a conversation. LLMService implements it.
type ChatModel interface {
	Chat(ctx context.Context, req ChatRequest) (ChatReply, error)
}

// ChatService keeps the single persisted conversation log.
type ChatService struct {
	store *store.RecordStore
	model ChatModel
	log   *zap.Logger
	mu    sync.Mutex
	now   func() time.Time
}

func NewChatService(rs *store.RecordStore, model ChatModel, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{store: rs, model: model, log: logger, now: time.Now}
}

// History returns the conversation oldest first, seeding the welcome
// message into an empty log.
func (s *ChatService) History(ctx context.Context) ([]store.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := s.messages(ctx)
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 {
		return msgs, nil
	}
	welcome := store.ChatMessage{
		ID:        welcomeMessageID,
		Role:      roleModel,
		Content:   welcomeMessage,
		Timestamp: s.now().UTC(),
	}
	if err := store.Put(ctx, s.store, store.CollectionChatHistory, welcome); err != nil {
		return nil, fmt.Errorf("failed to seed chat history: %w", err)
	}
	return []store.ChatMessage{welcome}, nil
}

func (s *ChatService) messages(ctx context.Context) ([]store.ChatMessage, error) {
	msgs, err := store.List[store.ChatMessage](ctx, s.store, store.CollectionChatHistory)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	return msgs, nil
}

// Send records the prompt, asks the model and records its reply. When the
// model fails the prompt stays in the log and the error is returned.
func (s *ChatService) Send(ctx context.Context, profile store.Profile, prompt string, metrics *WatchMetrics) (store.ChatMessage, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return store.ChatMessage{}, fmt.Errorf("%w: message content cannot be empty", ErrInvalidInput)
	}
	if s.model == nil {
		return store.ChatMessage{}, ErrAIUnavailable
	}

	s.mu.Lock()
	prior, err := s.messages(ctx)
	if err != nil {
		s.mu.Unlock()
		return store.ChatMessage{}, err
	}
	userMsg := store.ChatMessage{
		ID:        uuid.NewString(),
		Role:      roleUser,
		Content:   prompt,
		Timestamp: s.now().UTC(),
	}
	err = store.Put(ctx, s.store, store.CollectionChatHistory, userMsg)
	s.mu.Unlock()
	if err != nil {
		return store.ChatMessage{}, fmt.Errorf("failed to store user message: %w", err)
	}

	reply, err := s.model.Chat(ctx, ChatRequest{
		SystemInstruction: SystemInstruction(profile, metrics),
		History:           historyTurns(prior),
		Prompt:            prompt,
	})
	if err != nil {
		s.log.Error("chat completion failed", zap.Error(err))
		return store.ChatMessage{}, fmt.Errorf("chat completion failed: %w", err)
	}

	modelMsg := store.ChatMessage{
		ID:        uuid.NewString(),
		Role:      roleModel,
		Content:   reply.Text,
		Timestamp: s.now().UTC(),
		IsRedFlag: IsRedFlag(prompt),
		Sources:   reply.Sources,
	}
	if !modelMsg.Timestamp.After(userMsg.Timestamp) {
		modelMsg.Timestamp = userMsg.Timestamp.Add(time.Millisecond)
	}
	if err := store.Put(ctx, s.store, store.CollectionChatHistory, modelMsg); err != nil {
		return store.ChatMessage{}, fmt.Errorf("failed to store model message: %w", err)
	}
	return modelMsg, nil
}

// RecordAnalysis appends a document analysis to the conversation as a
// user/model exchange.
func (s *ChatService) RecordAnalysis(ctx context.Context, fileName string, result AnalysisResult) ([]store.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	userMsg := store.ChatMessage{
		ID:        uuid.NewString(),
		Role:      roleUser,
		Content:   "Analyzed document: " + fileName,
		Timestamp: now,
	}
	modelMsg := store.ChatMessage{
		ID:        uuid.NewString(),
		Role:      roleModel,
		Content:   formatAnalysis(result),
		Timestamp: now.Add(time.Millisecond),
	}
	for _, m := range []store.ChatMessage{userMsg, modelMsg} {
		if err := store.Put(ctx, s.store, store.CollectionChatHistory, m); err != nil {
			return nil, fmt.Errorf("failed to store analysis message: %w", err)
		}
	}
	return []store.ChatMessage{userMsg, modelMsg}, nil
}

func formatAnalysis(result AnalysisResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Lab Report Analysis: %s**", result.Summary())
	if cond := result.DeducedCondition(); cond != "" {
		fmt.Fprintf(&b, "\n\n**Clinical Significance:**\n%s", cond)
	}
	if qs, ok := result["recommendedQuestions"].([]any); ok && len(qs) > 0 {
		b.WriteString("\n\n**Recommended Questions for your Doctor:**")
		for _, q := range qs {
			if text, ok := q.(string); ok {
				b.WriteString("\n• " + text)
			}
		}
	}
	return b.String()
}

// Reset drops the whole conversation.
func (s *ChatService) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ClearCollection(ctx, store.CollectionChatHistory)
}

// historyTurns converts the stored log into model turns, leaving out a
// leading model greeting.
func historyTurns(msgs []store.ChatMessage) []ChatTurn {
	turns := make([]ChatTurn, 0, len(msgs))
	for i, m := range msgs {
		if i == 0 && m.Role == roleModel {
			continue
		}
		turns = append(turns, ChatTurn{Role: m.Role, Text: m.Content})
	}
	return turns
}

const systemInstructions = `You are MedOS Pro, a high-performance bio-intelligence AI.
TARGET AUDIENCE: 20-year-olds interested in longevity and mental clarity.
TONE: Relatable, snappy, zero "doctor-speak."
USER REGION: {{COUNTRY}}

RULES:
1. BIO-OPTIMIZATION: Focus on how clinical data affects physiology (sleep, metabolic focus).
2. CLINICAL ADVOCACY: You are an expert at auditing medical records for errors. Be firm when identifying anomalies.
3. BREVITY: 3 lines max for general chat.
4. SAFETY: Stop and direct to ER for life-threatening keywords.

DISCLAIMER: I'm an AI bio-hacker, not a doctor. Consult a pro for diagnosis.`

// SystemInstruction tailors the assistant persona to a profile and, when a
// wearable is connected, its latest metrics.
func SystemInstruction(profile store.Profile, metrics *WatchMetrics) string {
	country := profile.Country
	if country == "" {
		country = "Global"
	}
	instruction := strings.ReplaceAll(systemInstructions, "{{COUNTRY}}", country)
	if metrics != nil {
		instruction += fmt.Sprintf("\n\nBIO-SYNC: HR: %d, Stress: %d, HRV: %d.",
			metrics.HeartRate, metrics.StressLevel, metrics.HRV)
	}
	return instruction
}
