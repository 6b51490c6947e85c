package ai

import (
	"errors"
)

var (
	// ErrUnknownTool marks a tool call whose name is not registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidToolArgs marks a tool call whose arguments are not a JSON object.
	ErrInvalidToolArgs = errors.New("tool call arguments are not a JSON object")
	// ErrUnknownProvider marks a request for a provider id nothing registered.
	ErrUnknownProvider = errors.New("unknown provider")
)
