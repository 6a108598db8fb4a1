package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"tinyagent/internal/ai"
	"tinyagent/internal/bootstrap"
	"tinyagent/internal/config"
	"tinyagent/internal/model"
	"tinyagent/internal/platform/database"
	"tinyagent/internal/platform/sqlite"
	"tinyagent/internal/transport/http/response"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	app    *bootstrap.App
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.App.GinMode = gin.TestMode
	cfg.App.StaticDir = ""
	cfg.Database.Driver = "sqlite"
	cfg.Stream.PaceMS = 0
	cfg.Auth.BcryptCost = 4

	db, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	app := &bootstrap.App{Config: cfg, Logger: zaptest.NewLogger(t), DB: db, StartedAt: time.Now()}
	require.NoError(t, app.BuildServices())
	t.Cleanup(func() { _ = app.Close() })

	router, err := NewRouter(app)
	require.NoError(t, err)
	return &testServer{t: t, router: router, app: app}
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) decode(rec *httptest.ResponseRecorder, data interface{}) envelope {
	s.t.Helper()
	var env envelope
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if data != nil && len(env.Data) > 0 {
		require.NoError(s.t, json.Unmarshal(env.Data, data))
	}
	return env
}

func (s *testServer) register(username string) (string, model.User) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/v1/chat/users/register", "", gin.H{
		"user_name": username,
		"password":  "secret123",
		"nick_name": "Nick " + username,
	})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	var data struct {
		Token string     `json:"token"`
		User  model.User `json:"user"`
	}
	s.decode(rec, &data)
	require.NotEmpty(s.t, data.Token)
	return data.Token, data.User
}

func collectFrames(t *testing.T, body []byte) []ai.Frame {
	t.Helper()
	var frames []ai.Frame
	require.NoError(t, ai.DecodeStream(bytes.NewReader(body), func(f ai.Frame) error {
		frames = append(frames, f)
		return nil
	}))
	return frames
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)
	token, user := s.register("alice")
	assert.Equal(t, "alice", user.Username)

	rec := s.do(http.MethodPost, "/api/v1/chat/users/register", "", gin.H{"user_name": "alice", "password": "secret123"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, response.CodeUsernameExists, s.decode(rec, nil).Code)

	rec = s.do(http.MethodPost, "/api/v1/chat/users/login", "", gin.H{"user_name": "alice", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, response.CodeInvalidCredentials, s.decode(rec, nil).Code)

	rec = s.do(http.MethodPost, "/api/v1/chat/users/login", "", gin.H{"user_name": "alice", "password": "secret123"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password_hash")
	assert.NotContains(t, rec.Body.String(), "PasswordHash")

	rec = s.do(http.MethodGet, "/api/v1/chat/users/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me model.User
	s.decode(rec, &me)
	assert.Equal(t, user.ID, me.ID)
	assert.NotNil(t, me.LastLoginAt)

	rec = s.do(http.MethodGet, "/api/v1/chat/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	require.NoError(t, s.app.Auth.SetUserStatus(context.Background(), user.ID, model.UserStatusDisabled))
	rec = s.do(http.MethodPost, "/api/v1/chat/users/login", "", gin.H{"user_name": "alice", "password": "secret123"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, response.CodeAccountDisabled, s.decode(rec, nil).Code)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.register("bob")

	rec := s.do(http.MethodPost, "/api/v1/chat/chats", token, gin.H{"initial_text": "hi"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var created model.Session
	s.decode(rec, &created)
	assert.Equal(t, model.DefaultSessionTitle, created.Title)
	assert.Equal(t, 1, created.MessageCount)

	rec = s.do(http.MethodGet, fmt.Sprintf("/api/v1/chat/history/%d", created.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []model.Message
	s.decode(rec, &history)
	require.Len(t, history, 1)
	assert.Equal(t, model.RoleUser, history[0].Role)
	assert.Equal(t, "hi", history[0].Content)

	rec = s.do(http.MethodPost, "/api/v1/chat/messages", token, gin.H{
		"session_id": created.ID, "role": "assistant", "content": "hello",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var appended model.Session
	s.decode(rec, &appended)
	assert.Equal(t, 2, appended.MessageCount)
	require.Len(t, appended.Messages, 2)
	assert.Equal(t, "hello", appended.Messages[1].Content)

	rec = s.do(http.MethodPost, "/api/v1/chat/messages", token, gin.H{
		"session_id": created.ID, "role": "robot", "content": "beep",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/chat/messages", token, gin.H{
		"session_id": created.ID, "role": "user", "content": "",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	s.decode(rec, &appended)
	assert.Equal(t, 3, appended.MessageCount)
	assert.Equal(t, "", appended.Messages[2].Content)

	second := s.do(http.MethodPost, "/api/v1/chat/chats", token, gin.H{"title": "second"})
	require.Equal(t, http.StatusOK, second.Code)

	rec = s.do(http.MethodPut, fmt.Sprintf("/api/v1/chat/chats/%d", created.ID), token, gin.H{"is_pinned": true})
	require.Equal(t, http.StatusOK, rec.Code)
	var pinned model.Session
	s.decode(rec, &pinned)
	assert.True(t, pinned.IsPinned)
	assert.Equal(t, model.DefaultSessionTitle, pinned.Title)
	assert.False(t, pinned.IsArchived)

	rec = s.do(http.MethodGet, "/api/v1/chat/chats?limit=10", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []model.Session
	s.decode(rec, &list)
	require.Len(t, list, 2)
	assert.Equal(t, created.ID, list[0].ID)

	rec = s.do(http.MethodPut, fmt.Sprintf("/api/v1/chat/chats/%d", created.ID), token, gin.H{"is_deleted": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/chat/chats", token, nil)
	s.decode(rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "second", list[0].Title)

	rec = s.do(http.MethodGet, fmt.Sprintf("/api/v1/chat/history/%d", created.ID), token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, response.CodeSessionNotFound, s.decode(rec, nil).Code)

	other, _ := s.register("mallory")
	rec = s.do(http.MethodPut, fmt.Sprintf("/api/v1/chat/chats/%d", created.ID), other, gin.H{"is_deleted": false})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/chat/chats?limit=abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamCompletion(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/fakeLLM/v1/chat/completions", "", gin.H{
		"model":    "mywen:8b",
		"messages": []gin.H{{"role": "user", "content": "ab"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasSuffix(rec.Body.Bytes(), []byte("data: [DONE]\n\n")))

	frames := collectFrames(t, rec.Body.Bytes())
	require.Len(t, frames, 4)
	assert.Equal(t, "a", frames[0].Delta)
	assert.Equal(t, "b", frames[1].Delta)
	assert.Equal(t, ai.ChunkObject, frames[0].Kind)
	assert.Equal(t, "mywen:8b", frames[0].Model)
	assert.Equal(t, frames[0].ID, frames[1].ID)
	assert.True(t, frames[2].IsStop())
	assert.Empty(t, frames[2].Delta)
	assert.True(t, frames[3].Sentinel)

	rec = s.do(http.MethodPost, "/fakeLLM/v1/chat/completions", "", gin.H{
		"messages":    []gin.H{{"role": "user", "content": "x"}},
		"granularity": "word",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamCompletionPersistsIntoSession(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.register("carol")

	rec := s.do(http.MethodPost, "/api/v1/chat/chats", token, gin.H{"initial_text": "question"})
	require.Equal(t, http.StatusOK, rec.Code)
	var session model.Session
	s.decode(rec, &session)

	body := gin.H{
		"messages":    []gin.H{{"role": "user", "content": "line one\nline two"}},
		"granularity": "line",
		"session_id":  session.ID,
	}

	rec = s.do(http.MethodPost, "/fakeLLM/v1/chat/completions", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/fakeLLM/v1/chat/completions", token, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	frames := collectFrames(t, rec.Body.Bytes())
	require.Len(t, frames, 4)
	assert.Equal(t, "line one\n", frames[0].Delta)

	rec = s.do(http.MethodGet, fmt.Sprintf("/api/v1/chat/history/%d", session.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []model.Message
	s.decode(rec, &history)
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleAssistant, history[1].Role)
	assert.Equal(t, "line one\nline two", history[1].Content)
}

func TestNonStreamingCompletionAndModels(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/fakeLLM/v1/chat/completions", "", gin.H{
		"messages": []gin.H{{"role": "user", "content": "whole"}},
		"stream":   false,
		"id":       "cmpl-fixed",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var completion ai.Completion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &completion))
	assert.Equal(t, "cmpl-fixed", completion.ID)
	assert.Equal(t, "mywen:4b", completion.Model)
	assert.Equal(t, "whole", completion.Choices[0].Message.Content)

	rec = s.do(http.MethodGet, "/fakeLLM/v1/models", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var models struct {
		Object string               `json:"object"`
		Data   []ai.ModelDescriptor `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &models))
	assert.Equal(t, "list", models.Object)
	require.Len(t, models.Data, 2)
	assert.Equal(t, "mywen:4b", models.Data[0].ID)
	assert.Equal(t, "model", models.Data[0].Object)
}

func TestProviderRoutes(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.register("dave")

	rec := s.do(http.MethodPost, "/api/v1/chat/providers", token, gin.H{
		"provider_name": "local",
		"base_url":      "http://localhost:5800/fakeLLM/v1",
		"api_key":       "sk-secret",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "sk-secret")
	var provider model.AIProvider
	s.decode(rec, &provider)

	rec = s.do(http.MethodPost, fmt.Sprintf("/api/v1/chat/providers/%d/models", provider.ID), token, gin.H{"model_id": "mywen:4b"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, fmt.Sprintf("/api/v1/chat/providers/%d/models", provider.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var models []model.AIModel
	s.decode(rec, &models)
	require.Len(t, models, 1)
	assert.Equal(t, 4096, models[0].MaxTokens)

	rec = s.do(http.MethodGet, "/api/v1/chat/providers/999/models", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, response.CodeProviderNotFound, s.decode(rec, nil).Code)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Dependencies map[string]struct {
			OK      bool   `json:"ok"`
			Message string `json:"message"`
		} `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Dependencies["database"].OK)
	assert.Equal(t, "disabled", body.Dependencies["redis"].Message)
	assert.Equal(t, "disabled", body.Dependencies["rabbitmq"].Message)
}
