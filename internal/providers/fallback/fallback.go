// Package fallback is the local keyword responder used when the remote
// service is unavailable or not requested.
package fallback

import (
	"context"
	"fmt"
	"strings"

	"simplechat/internal/providers"
)

type rule struct {
	keywords []string
	reply    string
}

// Order matters: the first matching rule wins. Matching is by substring,
// so "hi" also matches words such as "this".
var rules = []rule{
	{[]string{"hello", "hi"}, "Hello! I'm your AI assistant. How can I help you today?"},
	{[]string{"how are you"}, "I'm doing well, thank you! I'm here to help with any questions you have."},
	{[]string{"name"}, "I'm your AI chatbot assistant. What would you like to know?"},
	{[]string{"help"}, "I'm here to help! You can ask me questions or have a conversation."},
	{[]string{"bye"}, "Goodbye! It was nice chatting with you."},
}

type Responder struct{}

func New() *Responder {
	return &Responder{}
}

var _ providers.Provider = (*Responder)(nil)

// Reply never fails.
func (r *Responder) Reply(message string) string {
	lower := strings.ToLower(message)
	for _, rl := range rules {
		for _, kw := range rl.keywords {
			if strings.Contains(lower, kw) {
				return rl.reply
			}
		}
	}
	return fmt.Sprintf("I understand you said: '%s'. I'm a simple backup AI. For better responses, try the Gemini AI option!", message)
}

func (r *Responder) Chat(_ context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	return providers.ChatResponse{Text: r.Reply(req.Prompt)}, nil
}
