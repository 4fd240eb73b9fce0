package openai

import (
	oa "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"

	base "github.com/KamdynS/agentconsole/llm"
)

// toOATools converts tool definitions to OpenAI function tools.
func toOATools(tools []base.Tool) []oa.ChatCompletionToolUnionParam {
	out := make([]oa.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		if t.Type != "function" {
			continue
		}
		fn := shared.FunctionDefinitionParam{Name: t.Function.Name}
		if t.Function.Description != "" {
			fn.Description = oa.String(t.Function.Description)
		}
		if t.Function.Parameters != nil {
			fn.Parameters = t.Function.Parameters
		}
		out = append(out, oa.ChatCompletionFunctionTool(fn))
	}
	return out
}

// toOAToolCalls converts assistant tool calls for replay in history.
func toOAToolCalls(calls []base.ToolCall) []oa.ChatCompletionMessageToolCallUnionParam {
	out := make([]oa.ChatCompletionMessageToolCallUnionParam, 0, len(calls))
	for _, tc := range calls {
		args := tc.Arguments
		if args == "" {
			args = "{}"
		}
		out = append(out, oa.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &oa.ChatCompletionMessageFunctionToolCallParam{
				ID: tc.ID,
				Function: oa.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: args,
				},
			},
		})
	}
	return out
}
