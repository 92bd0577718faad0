package summarizer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"arcyn-link/internal/domain"
)

// Simple строит обзор ветки без внешнего API: участники, объём, интервал.
// Используется как офлайн-провайдер, когда ключ LLM не задан.
type Simple struct{}

var _ domain.Summarizer = (*Simple)(nil)

// NewSimple создаёт офлайн-суммаризатор.
func NewSimple() *Simple {
	return &Simple{}
}

// SummarizeThread реализует domain.Summarizer.
func (s *Simple) SummarizeThread(_ context.Context, messages []domain.ThreadMessage, channelName, _ string) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("simple: нет сообщений для суммаризации")
	}

	seen := make(map[string]struct{})
	var participants []string
	for _, msg := range messages {
		if _, ok := seen[msg.Author]; ok {
			continue
		}
		seen[msg.Author] = struct{}{}
		participants = append(participants, msg.Author)
	}
	sort.Strings(participants)

	first := messages[0].CreatedAt
	last := messages[len(messages)-1].CreatedAt

	var b strings.Builder
	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "**Discussion Overview**: This thread in the %s channel involved %d participant(s) with %d message(s).\n\n",
		channelName, len(participants), len(messages))
	b.WriteString("**Key Points**:\n")
	fmt.Fprintf(&b, "- Conversation took place between %s and %s\n",
		first.Format(time.RFC3339), last.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Main participants: %s\n", strings.Join(participants, ", "))
	return b.String(), nil
}
