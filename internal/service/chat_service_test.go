package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbchat/internal/ai"
	"github.com/xxxsen/kbchat/internal/config"
	"github.com/xxxsen/kbchat/internal/embedcache"
	"github.com/xxxsen/kbchat/internal/model"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
	"github.com/xxxsen/kbchat/internal/repo"
)

type recordingSink struct {
	events    []string
	messageID string
}

func (s *recordingSink) Start(sessionID string) error {
	s.events = append(s.events, "start")
	return nil
}

func (s *recordingSink) Token(token string) error {
	s.events = append(s.events, "token:"+token)
	return nil
}

func (s *recordingSink) Done(messageID string) error {
	s.events = append(s.events, "done")
	s.messageID = messageID
	return nil
}

func (s *recordingSink) Error(message string) error {
	s.events = append(s.events, "error:"+message)
	return nil
}

// scriptedChatProvider streams a fixed token sequence, optionally canceling
// the turn partway through.
type scriptedChatProvider struct {
	tokens      []string
	failErr     error
	cancelAfter int
	cancel      context.CancelFunc
}

func (p *scriptedChatProvider) Name() string { return "scripted" }

func (p *scriptedChatProvider) StreamChat(ctx context.Context, opts ai.ChatOptions, system string, history []ai.Message, onToken func(token string) error) error {
	if p.failErr != nil {
		return p.failErr
	}
	for i, token := range p.tokens {
		if p.cancel != nil && i == p.cancelAfter {
			p.cancel()
		}
		if err := onToken(token); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func seedAPIKey(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO api_keys (id, api_key, name, ctime) VALUES (?, ?, ?, ?)`,
		id, "key-"+id, "test key", time.Now().Unix(),
	)
	require.NoError(t, err)
}

func testChatConfig() config.ChatConfig {
	return config.ChatConfig{
		MaxMessageChars:    2000,
		HistoryTokenBudget: 4000,
		MaxHistoryMessages: 20,
	}
}

func newChatService(t *testing.T, db *sql.DB, provider ai.IChatProvider, cfg config.ChatConfig) *ChatService {
	t.Helper()
	chunks := repo.NewChunkRepo(db)
	cache, err := embedcache.New(chunks, 100)
	require.NoError(t, err)
	embedder := ai.NewEmbedder(&fixedEmbedProvider{vector: []float32{1, 0, 0}}, "m")
	retrieval := NewRetrievalService(embedder, chunks, cache, 3)
	return NewChatService(
		repo.NewSessionRepo(db),
		repo.NewMessageRepo(db),
		repo.NewBotConfigRepo(db),
		retrieval,
		provider,
		cfg,
		config.RetrievalConfig{TopK: 5, ContextTokenBudget: 3000},
	)
}

func TestSanitizeMessage(t *testing.T) {
	svc := newChatService(t, newTestDB(t), &scriptedChatProvider{}, config.ChatConfig{MaxMessageChars: 10})
	tests := []struct {
		in   string
		want string
	}{
		{"hello", "hello"},
		{"  padded  ", "padded"},
		{"<b>bold</b> txt", "bold txt"},
		{"<script>x</script>", "x"},
		{"0123456789overflow", "0123456789"},
		{"<div></div>", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, svc.SanitizeMessage(tt.in), "input %q", tt.in)
	}
}

func TestGetOrCreateSession(t *testing.T) {
	db := newTestDB(t)
	seedAPIKey(t, db, "key1")
	seedAPIKey(t, db, "key2")
	svc := newChatService(t, db, &scriptedChatProvider{}, testChatConfig())
	ctx := context.Background()

	created, err := svc.GetOrCreateSession(ctx, "key1", "", "https://example.com")
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	same, err := svc.GetOrCreateSession(ctx, "key1", created.ID, "")
	require.NoError(t, err)
	require.Equal(t, created.ID, same.ID)

	// Another caller presenting this session id gets a fresh session, not
	// an error and not the original.
	other, err := svc.GetOrCreateSession(ctx, "key2", created.ID, "")
	require.NoError(t, err)
	require.NotEqual(t, created.ID, other.ID)
	require.Equal(t, "key2", other.APIKeyID)

	unknown, err := svc.GetOrCreateSession(ctx, "key1", "sess_missing", "")
	require.NoError(t, err)
	require.NotEqual(t, "sess_missing", unknown.ID)
}

func TestWindowHistoryMessageCap(t *testing.T) {
	svc := newChatService(t, newTestDB(t), &scriptedChatProvider{}, config.ChatConfig{
		MaxHistoryMessages: 3,
		HistoryTokenBudget: 1000,
	})
	var history []model.Message
	for i := 0; i < 5; i++ {
		history = append(history, model.Message{
			Role:       model.RoleUser,
			Content:    fmt.Sprintf("message %d", i),
			TokenCount: 10,
		})
	}
	window := svc.windowHistory(history)
	require.Len(t, window, 3)
	require.Equal(t, "message 2", window[0].Content)
	require.Equal(t, "message 4", window[2].Content)
}

func TestWindowHistoryTokenBudget(t *testing.T) {
	svc := newChatService(t, newTestDB(t), &scriptedChatProvider{}, config.ChatConfig{
		MaxHistoryMessages: 20,
		HistoryTokenBudget: 100,
	})
	var history []model.Message
	for i := 0; i < 4; i++ {
		history = append(history, model.Message{
			Role:       model.RoleUser,
			Content:    fmt.Sprintf("message %d", i),
			TokenCount: 60,
		})
	}
	window := svc.windowHistory(history)
	require.Len(t, window, 1)
	require.Equal(t, "message 3", window[0].Content)
}

func TestStreamTurnHappyPath(t *testing.T) {
	db := newTestDB(t)
	seedAPIKey(t, db, "key1")
	provider := &scriptedChatProvider{tokens: []string{"Hello", " world"}}
	svc := newChatService(t, db, provider, testChatConfig())
	ctx := context.Background()

	sess, err := svc.GetOrCreateSession(ctx, "key1", "", "")
	require.NoError(t, err)

	sink := &recordingSink{}
	require.NoError(t, svc.StreamTurn(ctx, sess, "hi there", sink))
	require.Equal(t, []string{"start", "token:Hello", "token: world", "done"}, sink.events)

	history, err := svc.GetHistory(ctx, "key1", sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, model.RoleUser, history[0].Role)
	require.Equal(t, "hi there", history[0].Content)
	require.Equal(t, model.RoleAssistant, history[1].Role)
	require.Equal(t, "Hello world", history[1].Content)
	// The done event identifies the persisted assistant message.
	require.Equal(t, history[1].ID, sink.messageID)
}

// capturingChatProvider records the history it was handed and replies with
// a single token.
type capturingChatProvider struct {
	history []ai.Message
}

func (p *capturingChatProvider) Name() string { return "capturing" }

func (p *capturingChatProvider) StreamChat(ctx context.Context, opts ai.ChatOptions, system string, history []ai.Message, onToken func(token string) error) error {
	p.history = append([]ai.Message(nil), history...)
	return onToken("ok")
}

func TestStreamTurnWindowsPriorHistoryOnly(t *testing.T) {
	db := newTestDB(t)
	seedAPIKey(t, db, "key1")
	provider := &capturingChatProvider{}
	svc := newChatService(t, db, provider, config.ChatConfig{
		MaxMessageChars:    2000,
		HistoryTokenBudget: 4000,
		MaxHistoryMessages: 1,
	})
	ctx := context.Background()

	sess, err := svc.GetOrCreateSession(ctx, "key1", "", "")
	require.NoError(t, err)

	// First turn: no prior history, the new message rides along untouched.
	require.NoError(t, svc.StreamTurn(ctx, sess, "first question", &recordingSink{}))
	require.Len(t, provider.history, 1)
	require.Equal(t, model.RoleUser, provider.history[0].Role)
	require.Equal(t, "first question", provider.history[0].Content)

	// Second turn: the one-message cap applies to prior history only, so
	// the provider sees the last prior message plus the new one.
	require.NoError(t, svc.StreamTurn(ctx, sess, "second question", &recordingSink{}))
	require.Len(t, provider.history, 2)
	require.Equal(t, model.RoleAssistant, provider.history[0].Role)
	require.Equal(t, "ok", provider.history[0].Content)
	require.Equal(t, model.RoleUser, provider.history[1].Role)
	require.Equal(t, "second question", provider.history[1].Content)
}

func TestStreamTurnProviderFailure(t *testing.T) {
	db := newTestDB(t)
	seedAPIKey(t, db, "key1")
	provider := &scriptedChatProvider{failErr: fmt.Errorf("upstream broke")}
	svc := newChatService(t, db, provider, testChatConfig())
	ctx := context.Background()

	sess, err := svc.GetOrCreateSession(ctx, "key1", "", "")
	require.NoError(t, err)

	sink := &recordingSink{}
	err = svc.StreamTurn(ctx, sess, "hi", sink)
	require.Error(t, err)
	require.Equal(t, []string{"start", "error:completion failed"}, sink.events)

	// The user message is kept; no assistant message is recorded.
	history, err := svc.GetHistory(ctx, "key1", sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, model.RoleUser, history[0].Role)
}

func TestStreamTurnClientDisconnect(t *testing.T) {
	db := newTestDB(t)
	seedAPIKey(t, db, "key1")
	ctx, cancel := context.WithCancel(context.Background())
	provider := &scriptedChatProvider{tokens: []string{"Hello", " world"}, cancelAfter: 1, cancel: cancel}
	svc := newChatService(t, db, provider, testChatConfig())

	sess, err := svc.GetOrCreateSession(context.Background(), "key1", "", "")
	require.NoError(t, err)

	sink := &recordingSink{}
	err = svc.StreamTurn(ctx, sess, "hi", sink)
	require.ErrorIs(t, err, context.Canceled)
	// No done and no error event after an abort.
	require.Equal(t, []string{"start", "token:Hello"}, sink.events)

	history, err := svc.GetHistory(context.Background(), "key1", sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestDeleteSession(t *testing.T) {
	db := newTestDB(t)
	seedAPIKey(t, db, "key1")
	seedAPIKey(t, db, "key2")
	svc := newChatService(t, db, &scriptedChatProvider{}, testChatConfig())
	ctx := context.Background()

	sess, err := svc.GetOrCreateSession(ctx, "key1", "", "")
	require.NoError(t, err)

	// Another key cannot delete it.
	err = svc.DeleteSession(ctx, "key2", sess.ID)
	require.True(t, appErr.IsNotFound(err))

	require.NoError(t, svc.DeleteSession(ctx, "key1", sess.ID))
	err = svc.DeleteSession(ctx, "key1", sess.ID)
	require.True(t, appErr.IsNotFound(err))

	_, err = svc.GetHistory(ctx, "key1", sess.ID)
	require.True(t, appErr.IsNotFound(err))
}

func TestBuildContext(t *testing.T) {
	results := []ScoredChunk{
		{
			Chunk: model.Chunk{
				Content: "chunk one body",
				Metadata: model.ChunkMetadata{
					SourceFile: "manual.pdf",
					PageNumber: 4,
				},
			},
			Similarity: 0.9,
		},
		{
			Chunk: model.Chunk{
				Content: "chunk two body",
				Metadata: model.ChunkMetadata{
					SourceFile:   "guide.md",
					SectionTitle: "Setup",
				},
			},
			Similarity: 0.8,
		},
	}
	got := buildContext(results)
	require.Contains(t, got, "[Source: manual.pdf, Page 4]\nchunk one body")
	require.Contains(t, got, `[Source: guide.md, Section: "Setup"]`+"\nchunk two body")
	require.Contains(t, got, "\n---\n")

	require.Empty(t, buildContext(nil))
}
