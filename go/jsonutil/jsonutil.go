// Package jsonutil renders JSON values for logs and terminal output.
package jsonutil

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/pretty"
)

var prettyOptions = &pretty.Options{
	Width:    120,
	Prefix:   "",
	Indent:   "  ",
	SortKeys: true,
}

// MarshalPretty marshals v and formats it with sorted keys and indentation.
func MarshalPretty(v any) ([]byte, error) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling to JSON: %w", err)
	}
	return pretty.PrettyOptions(bytes, prettyOptions), nil
}

// MarshalPrettyColor is MarshalPretty with terminal colors.
func MarshalPrettyColor(v any) ([]byte, error) {
	bytes, err := MarshalPretty(v)
	if err != nil {
		return nil, err
	}
	return pretty.Color(bytes, pretty.TerminalStyle), nil
}

// MustMarshalPretty is MarshalPretty for values known to marshal.
func MustMarshalPretty(v any) []byte {
	bytes, err := MarshalPretty(v)
	if err != nil {
		panic(err)
	}
	return bytes
}
