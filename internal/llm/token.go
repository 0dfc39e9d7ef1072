package llm

import "context"

// TokenSource supplies the bearer token passed to collaborators
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token
type StaticToken string

// Token returns the token
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}
