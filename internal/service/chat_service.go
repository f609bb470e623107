package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbchat/internal/ai"
	"github.com/xxxsen/kbchat/internal/chunker"
	"github.com/xxxsen/kbchat/internal/config"
	"github.com/xxxsen/kbchat/internal/model"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
	"github.com/xxxsen/kbchat/internal/repo"
)

var tagRe = regexp.MustCompile(`<[^>]+>`)

// EventSink receives the stream events of one chat turn in order: Start,
// zero or more Tokens, then exactly one of Done or Error.
type EventSink interface {
	Start(sessionID string) error
	Token(token string) error
	Done(messageID string) error
	Error(message string) error
}

type ChatService struct {
	sessions  *repo.SessionRepo
	messages  *repo.MessageRepo
	botcfg    *repo.BotConfigRepo
	retrieval *RetrievalService
	provider  ai.IChatProvider
	cfg       config.ChatConfig
	topK      int
	ctxBudget int
}

func NewChatService(
	sessions *repo.SessionRepo,
	messages *repo.MessageRepo,
	botcfg *repo.BotConfigRepo,
	retrieval *RetrievalService,
	provider ai.IChatProvider,
	cfg config.ChatConfig,
	retrievalCfg config.RetrievalConfig,
) *ChatService {
	return &ChatService{
		sessions:  sessions,
		messages:  messages,
		botcfg:    botcfg,
		retrieval: retrieval,
		provider:  provider,
		cfg:       cfg,
		topK:      retrievalCfg.TopK,
		ctxBudget: retrievalCfg.ContextTokenBudget,
	}
}

// SanitizeMessage strips markup tags and truncates to the configured
// length. Validation of the emptied result is the caller's job.
func (s *ChatService) SanitizeMessage(message string) string {
	cleaned := strings.TrimSpace(tagRe.ReplaceAllString(message, ""))
	runes := []rune(cleaned)
	if len(runes) > s.cfg.MaxMessageChars {
		cleaned = string(runes[:s.cfg.MaxMessageChars])
	}
	return cleaned
}

// GetOrCreateSession resolves sessionID for this api key, minting a fresh
// session when the id is absent, unknown, or owned by a different key.
func (s *ChatService) GetOrCreateSession(ctx context.Context, apiKeyID, sessionID, origin string) (*model.Session, error) {
	if sessionID != "" {
		sess, err := s.sessions.Get(ctx, sessionID, apiKeyID)
		if err == nil {
			return sess, nil
		}
		if !appErr.IsNotFound(err) {
			return nil, err
		}
	}
	now := time.Now().Unix()
	sess := &model.Session{
		ID:         newID("sess"),
		APIKeyID:   apiKeyID,
		Origin:     origin,
		Ctime:      now,
		LastActive: now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// StreamTurn runs one full chat turn: persist the user message, retrieve
// context, stream the completion into sink, persist the reply. A canceled
// context aborts silently with nothing persisted for the assistant side.
func (s *ChatService) StreamTurn(ctx context.Context, sess *model.Session, message string, sink EventSink) error {
	logger := logutil.GetLogger(ctx).With(zap.String("session_id", sess.ID))

	botcfg, err := s.botcfg.Get(ctx)
	if err != nil {
		return err
	}

	// Window prior history before persisting the new turn so the incoming
	// message never spends window slots or history budget on itself.
	history, err := s.messages.ListBySession(ctx, sess.ID)
	if err != nil {
		return err
	}
	window := s.windowHistory(history)

	userMsg := &model.Message{
		ID:         newID("msg"),
		SessionID:  sess.ID,
		Role:       model.RoleUser,
		Content:    message,
		TokenCount: chunker.EstimateTokens(message),
		Ctime:      time.Now().Unix(),
	}
	if err := s.messages.Insert(ctx, userMsg); err != nil {
		return err
	}
	if err := s.sessions.TouchLastActive(ctx, sess.ID); err != nil {
		logger.Warn("touch session failed", zap.Error(err))
	}

	// Retrieval is best effort: a failed or empty search degrades to a
	// contextless answer rather than failing the turn.
	contextBlock := ""
	results, err := s.retrieval.Search(ctx, message, botcfg.SimilarityThreshold, s.topK, s.ctxBudget)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("retrieval failed, answering without context", zap.Error(err))
	} else {
		contextBlock = buildContext(results)
	}

	system := botcfg.SystemPrompt
	if contextBlock != "" {
		system = system + "\n\n" + contextBlock
	}

	if err := sink.Start(sess.ID); err != nil {
		return err
	}

	turn := append(window, ai.Message{Role: model.RoleUser, Content: message})

	var reply strings.Builder
	streamErr := s.provider.StreamChat(ctx, ai.ChatOptions{
		Model:       botcfg.Model,
		Temperature: botcfg.Temperature,
		MaxTokens:   botcfg.MaxTokens,
	}, system, turn, func(token string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		reply.WriteString(token)
		return sink.Token(token)
	})
	if ctx.Err() != nil {
		logger.Info("chat turn aborted by client")
		return ctx.Err()
	}
	if streamErr != nil {
		logger.Error("chat completion failed", zap.Error(streamErr))
		_ = sink.Error("completion failed")
		return streamErr
	}

	content := reply.String()
	assistantMsg := &model.Message{
		ID:         newID("msg"),
		SessionID:  sess.ID,
		Role:       model.RoleAssistant,
		Content:    content,
		TokenCount: chunker.EstimateTokens(content),
		Ctime:      time.Now().Unix(),
	}
	if err := s.messages.Insert(ctx, assistantMsg); err != nil {
		return err
	}
	return sink.Done(assistantMsg.ID)
}

// windowHistory keeps the most recent messages, walking backward until
// either the message cap or the token budget is hit.
func (s *ChatService) windowHistory(history []model.Message) []ai.Message {
	usedTokens := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		if len(history)-i > s.cfg.MaxHistoryMessages {
			break
		}
		tokens := history[i].TokenCount
		if tokens <= 0 {
			tokens = chunker.EstimateTokens(history[i].Content)
		}
		if usedTokens+tokens > s.cfg.HistoryTokenBudget {
			break
		}
		usedTokens += tokens
		start = i
	}
	window := make([]ai.Message, 0, len(history)-start)
	for _, msg := range history[start:] {
		window = append(window, ai.Message{Role: msg.Role, Content: msg.Content})
	}
	return window
}

// buildContext renders retrieved chunks into a source-labeled context
// block for the system prompt.
func buildContext(results []ScoredChunk) string {
	if len(results) == 0 {
		return ""
	}
	parts := make([]string, 0, len(results))
	for _, res := range results {
		label := "[Source: " + res.Metadata.SourceFile
		if res.Metadata.PageNumber > 0 {
			label += fmt.Sprintf(", Page %d", res.Metadata.PageNumber)
		}
		if res.Metadata.SectionTitle != "" {
			label += fmt.Sprintf(", Section: %q", res.Metadata.SectionTitle)
		}
		label += "]"
		parts = append(parts, label+"\n"+res.Content)
	}
	return "Use the following context to answer the user's question. " +
		"If the context does not contain the answer, say so instead of guessing.\n\n" +
		strings.Join(parts, "\n---\n")
}

func (s *ChatService) GetHistory(ctx context.Context, apiKeyID, sessionID string) ([]model.Message, error) {
	if _, err := s.sessions.Get(ctx, sessionID, apiKeyID); err != nil {
		return nil, err
	}
	return s.messages.ListBySession(ctx, sessionID)
}

func (s *ChatService) DeleteSession(ctx context.Context, apiKeyID, sessionID string) error {
	deleted, err := s.sessions.Delete(ctx, sessionID, apiKeyID)
	if err != nil {
		return err
	}
	if !deleted {
		return appErr.ErrNotFound
	}
	return nil
}
