package summarizer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"arcyn-link/internal/domain"
	"arcyn-link/internal/infra/anthropic"
)

type messagesClient interface {
	CreateMessage(ctx context.Context, req anthropic.MessagesRequest) (anthropic.MessagesResponse, error)
}

// Claude реализует суммаризатор через Anthropic Messages API.
type Claude struct {
	client  messagesClient
	model   string
	timeout time.Duration
}

var _ domain.Summarizer = (*Claude)(nil)

// NewClaude создаёт провайдер суммаризации.
func NewClaude(client messagesClient, model string, timeout time.Duration) *Claude {
	if model == "" {
		model = "claude-3-sonnet-20240229"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Claude{client: client, model: model, timeout: timeout}
}

// SummarizeThread строит резюме обсуждения. Ошибка API возвращается как есть:
// решение о судьбе задачи принимает воркер.
func (c *Claude) SummarizeThread(ctx context.Context, messages []domain.ThreadMessage, channelName, teamName string) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("claude: нет сообщений для суммаризации")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var conversation strings.Builder
	for _, msg := range messages {
		conversation.WriteString(msg.Author)
		conversation.WriteString(": ")
		conversation.WriteString(msg.Text)
		conversation.WriteString("\n")
	}

	prompt := fmt.Sprintf(`You are an AI assistant helping to summarize team conversations for Arcyn Link, a communication platform.

Please analyze the following conversation from the %q channel in the %q team and provide a comprehensive summary.

Conversation:
%s

Please provide a summary that includes:

1. **Key Discussion Points**: Main topics and themes discussed
2. **Important Decisions**: Any decisions made or agreed upon
3. **Action Items**: Tasks, assignments, or next steps mentioned
4. **Key Insights**: Important insights, ideas, or solutions shared
5. **Participants**: Who were the main contributors to the discussion

Format your response in clear, organized sections using markdown. Keep it concise but comprehensive, focusing on actionable information and important outcomes.

If the conversation is too brief or lacks substantial content, provide a brief summary of what was discussed.`, channelName, teamName, conversation.String())

	resp, err := c.client.CreateMessage(ctx, anthropic.MessagesRequest{
		Model:       c.model,
		MaxTokens:   1000,
		Temperature: 0.3,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude: %w", err)
	}
	text, ok := resp.Text()
	if !ok {
		return "", fmt.Errorf("claude: в ответе нет текстового блока")
	}
	return strings.TrimSpace(text), nil
}
