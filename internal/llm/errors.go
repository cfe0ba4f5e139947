package llm

import (
	"errors"
	"fmt"
)

var (
	errMissingAPIKey = errors.New("missing API key for remote provider")
	errMissingModel  = errors.New("missing model for remote provider")
	errEmptyResponse = errors.New("LLM response was empty")
)

type ErrUnsupportedProvider struct {
	Provider string
}

func (e ErrUnsupportedProvider) Error() string {
	return fmt.Sprintf("unsupported LLM provider: %s", e.Provider)
}
