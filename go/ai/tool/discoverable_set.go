package tool

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ferrow/llmstream/go/ai"
)

const discoverySuffix = "_Discover"

// DiscoverableSet exposes a large tool set to the model incrementally: only
// a discovery tool plus already-discovered tools are offered, keeping the
// request's tool surface small until the model asks for more.
type DiscoverableSet struct {
	name                   string
	discoveryTool          *ai.Tool
	tools                  []*ai.Tool
	toolNameToDiscoverTime map[string]time.Time
}

func NewDiscoverableSet(name string, tools []*ai.Tool) *DiscoverableSet {
	ds := &DiscoverableSet{
		name:                   name,
		tools:                  tools,
		toolNameToDiscoverTime: make(map[string]time.Time, len(tools)),
	}

	var toolNames []string
	for _, tool := range tools {
		ds.toolNameToDiscoverTime[tool.Name] = time.Time{}
		toolNames = append(toolNames, tool.Name)
	}

	var desc strings.Builder
	desc.WriteString(fmt.Sprintf("Discover tools from %s.", name))
	desc.WriteString("\nAvailable tools:")
	for _, tool := range tools {
		desc.WriteString("\n- " + tool.Name)
		if tool.Description != "" {
			firstLine := strings.SplitN(tool.Description, "\n", 2)[0]
			desc.WriteString(": " + firstLine)
		}
	}

	toolNameValues := make([]any, 0, len(toolNames))
	for _, name := range toolNames {
		toolNameValues = append(toolNameValues, name)
	}
	ds.discoveryTool = &ai.Tool{
		Name:        name + discoverySuffix,
		Description: desc.String(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tools": map[string]any{
					"type":        "array",
					"description": "Tool names to discover",
					"items":       map[string]any{"type": "string", "enum": toolNameValues},
				},
			},
			"required": []any{"tools"},
		},
	}

	ds.sortTools()
	return ds
}

func (ds *DiscoverableSet) sortTools() {
	sort.Slice(ds.tools, func(i, j int) bool {
		ti := ds.toolNameToDiscoverTime[ds.tools[i].Name]
		tj := ds.toolNameToDiscoverTime[ds.tools[j].Name]
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return ds.tools[i].Name < ds.tools[j].Name
	})
}

func (ds *DiscoverableSet) IsDiscovered(toolName string) bool {
	return !ds.toolNameToDiscoverTime[toolName].IsZero()
}

func (ds *DiscoverableSet) HasTool(toolName string) bool {
	_, ok := ds.toolNameToDiscoverTime[toolName]
	return ok || ds.IsDiscoveryTool(toolName)
}

func (ds *DiscoverableSet) IsDiscoveryTool(toolName string) bool {
	return toolName == ds.discoveryTool.Name
}

// DiscoveryCall is a parsed invocation of the discovery tool.
type DiscoveryCall struct {
	ToolSetName string
	ToolNames   []string
}

// ProcessDiscoveryCall marks the requested tools as discovered.
func (ds *DiscoverableSet) ProcessDiscoveryCall(call *ai.ToolCall) (*DiscoveryCall, error) {
	if !ds.IsDiscoveryTool(call.Name) {
		return nil, fmt.Errorf("cannot process non-discovery tool call %s", call.Name)
	}

	toolsRaw, ok := call.Args["tools"]
	if !ok {
		return nil, fmt.Errorf("missing tools argument")
	}
	toolsArr, ok := toolsRaw.([]any)
	if !ok {
		return nil, fmt.Errorf("tools must be an array")
	}

	discoveryCall := &DiscoveryCall{
		ToolSetName: ds.name,
	}
	for _, v := range toolsArr {
		toolName, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("tool name must be a string")
		}
		discoverTime, ok := ds.toolNameToDiscoverTime[toolName]
		if !ok {
			return nil, fmt.Errorf("unknown tool %s", toolName)
		}
		if discoverTime.IsZero() {
			// We allow re-discovery of tools as it's less expensive than to
			// return an error informing the model that they've already
			// discovered this tool.
			ds.toolNameToDiscoverTime[toolName] = time.Now()
		}
		discoveryCall.ToolNames = append(discoveryCall.ToolNames, toolName)
	}

	ds.sortTools()
	return discoveryCall, nil
}

// GetTools returns the discovery tool (nil once everything is discovered)
// and the tools discovered so far.
func (ds *DiscoverableSet) GetTools() (*ai.Tool, []*ai.Tool) {
	var tools []*ai.Tool
	for _, tool := range ds.tools {
		if !ds.toolNameToDiscoverTime[tool.Name].IsZero() {
			tools = append(tools, tool)
		}
	}
	var discoveryTool *ai.Tool
	if len(tools) < len(ds.tools) {
		discoveryTool = ds.discoveryTool
	}
	return discoveryTool, tools
}
