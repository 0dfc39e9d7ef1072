package llm

import (
	"context"
	"fmt"
)

// ChatJudge runs judge prompts as single-turn conversations on the chat service
type ChatJudge struct {
	chat   ChatClient
	tokens TokenSource
}

// NewChatJudge creates a new ChatJudge
func NewChatJudge(chat ChatClient, tokens TokenSource) *ChatJudge {
	return &ChatJudge{chat: chat, tokens: tokens}
}

// Judge sends prompt in a fresh conversation and returns the reply text
func (j *ChatJudge) Judge(ctx context.Context, prompt string) (string, error) {
	token, err := j.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get auth token: %w", err)
	}

	conversationID, err := j.chat.CreateConversation(ctx, token)
	if err != nil {
		return "", err
	}

	resp, err := j.chat.Chat(ctx, token, conversationID, ChatRequest{Text: prompt})
	if err != nil {
		return "", err
	}

	reply := resp.Text()
	if reply == "" {
		return "", fmt.Errorf("judge returned an empty reply")
	}
	return reply, nil
}
