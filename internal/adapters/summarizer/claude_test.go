package summarizer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"arcyn-link/internal/domain"
	"arcyn-link/internal/infra/anthropic"
)

type stubMessages struct {
	lastReq anthropic.MessagesRequest
	resp    anthropic.MessagesResponse
	err     error
}

func (s *stubMessages) CreateMessage(_ context.Context, req anthropic.MessagesRequest) (anthropic.MessagesResponse, error) {
	s.lastReq = req
	return s.resp, s.err
}

func threadFixture() []domain.ThreadMessage {
	return []domain.ThreadMessage{
		{Author: "alice", Text: "как деплоим?", CreatedAt: time.Now()},
		{Author: "bob", Text: "через пайплайн", CreatedAt: time.Now()},
	}
}

func TestClaudeBuildsPromptFromThread(t *testing.T) {
	client := &stubMessages{resp: anthropic.MessagesResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: "  итог обсуждения  "}},
	}}
	c := NewClaude(client, "claude-3-sonnet-20240229", time.Minute)

	got, err := c.SummarizeThread(context.Background(), threadFixture(), "general", "team1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got != "итог обсуждения" {
		t.Fatalf("ответ должен быть обрезан по краям, получили %q", got)
	}

	req := client.lastReq
	if req.Model != "claude-3-sonnet-20240229" || req.MaxTokens != 1000 {
		t.Fatalf("неожиданные параметры запроса: %+v", req)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != anthropic.RoleUser {
		t.Fatalf("ожидали единственное сообщение от пользователя: %+v", req.Messages)
	}
	prompt := req.Messages[0].Content
	for _, want := range []string{`"general" channel`, `"team1" team`, "alice: как деплоим?", "bob: через пайплайн"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("в промпте нет %q:\n%s", want, prompt)
		}
	}
}

func TestClaudePropagatesAPIError(t *testing.T) {
	apiErr := errors.New("rate limited")
	c := NewClaude(&stubMessages{err: apiErr}, "", time.Minute)

	if _, err := c.SummarizeThread(context.Background(), threadFixture(), "general", "team1"); !errors.Is(err, apiErr) {
		t.Fatalf("ошибка API должна подниматься наверх, получили %v", err)
	}
}

func TestClaudeRejectsEmptyThread(t *testing.T) {
	client := &stubMessages{}
	c := NewClaude(client, "", time.Minute)

	if _, err := c.SummarizeThread(context.Background(), nil, "general", "team1"); err == nil {
		t.Fatalf("пустая ветка должна давать ошибку без похода в API")
	}
	if client.lastReq.Model != "" {
		t.Fatalf("при пустой ветке запрос в API не выполняется")
	}
}

func TestClaudeErrorsWithoutTextBlock(t *testing.T) {
	client := &stubMessages{resp: anthropic.MessagesResponse{
		Content: []anthropic.ContentBlock{{Type: "tool_use"}},
	}}
	c := NewClaude(client, "", time.Minute)

	if _, err := c.SummarizeThread(context.Background(), threadFixture(), "general", "team1"); err == nil {
		t.Fatalf("ответ без текстового блока должен давать ошибку")
	}
}
