package llm

import (
	"context"
	"errors"
)

type LocalProvider struct{}

func (LocalProvider) Complete(ctx context.Context, req Request) (Response, error) {
	return Response{}, errors.New("local LLM mode is not implemented")
}
