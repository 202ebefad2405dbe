// Package textcall emulates function calling for models without native tool
// support. Function definitions are rendered into a system instruction and
// the model answers with fenced CALL blocks:
//
//	```CALL
//	create_todo
//	{"title": "buy milk"}
//	```
//
// Adapters compose this package: Apply rewrites a request before it is
// encoded and Parse turns the model's text back into function call parts.
package textcall

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"goa.design/symposium/runtime/agent/model"
)

const (
	// CallMarker opens a call block.
	CallMarker = "```CALL"
	// ResponsePrefix introduces a function response rendered as text.
	ResponsePrefix = "FUNCTION RESPONSE:\n"
	// TranscribedPrefix introduces the transcription of an audio block.
	TranscribedPrefix = "[transcribed] "
)

var callBlock = regexp.MustCompile("(?s)```CALL[ \\t]*\\r?\\n([^\\r\\n]+)\\r?\\n(.*?)\\r?\\n?```")

// callNamespace seeds the deterministic identifiers of parsed calls.
var callNamespace = uuid.MustParse("6f1b7c1e-2a44-4d0b-9a57-7f3f1d1c3e21")

// Prompt renders the instruction listing functions. When force is set the
// instruction requires that single call and nothing else.
func Prompt(functions []*model.FunctionDefinition, force string) string {
	var b strings.Builder
	b.WriteString("You can call the following functions. To call a function, answer with a block in this exact format, one block per call:\n\n")
	b.WriteString(CallMarker + " \n<function name>\n<JSON object with the arguments>\n```\n\n")
	b.WriteString("You will receive the result in a message starting with \"FUNCTION RESPONSE:\".\n\nAvailable functions:\n")
	for _, f := range functions {
		params, err := json.Marshal(f.Parameters)
		if err != nil || f.Parameters == nil {
			params = []byte("{}")
		}
		fmt.Fprintf(&b, "\n- name: %s\n", f.Name)
		if f.Description != "" {
			fmt.Fprintf(&b, "  description: %s\n", f.Description)
		}
		fmt.Fprintf(&b, "  parameters: %s\n", params)
	}
	if force != "" {
		fmt.Fprintf(&b, "\nYou MUST call the function %s and nothing else. Do not return any other text.", force)
	}
	return b.String()
}

// RenderCalls renders calls the way the model is asked to write them.
func RenderCalls(calls []model.ToolCall) string {
	blocks := make([]string, 0, len(calls))
	for _, c := range calls {
		args := c.Arguments
		if args == nil {
			args = map[string]any{}
		}
		raw, err := json.Marshal(args)
		if err != nil {
			raw = []byte("{}")
		}
		blocks = append(blocks, CallMarker+" \n"+c.Name+"\n"+string(raw)+"\n```")
	}
	return strings.Join(blocks, "\n\n")
}

// RenderResponse renders a function response as text.
func RenderResponse(response any) string {
	raw, err := json.Marshal(response)
	if err != nil {
		raw = []byte(strconv.Quote(fmt.Sprint(response)))
	}
	return ResponsePrefix + string(raw)
}

// Parse splits text into ordered parts: surrounding text becomes TextPart
// values and consecutive CALL blocks become a single ToolCallsPart. Blocks
// whose arguments are not a JSON object are left as text. Call identifiers
// are derived from the text so parsing is deterministic.
func Parse(text string) []model.Part {
	matches := callBlock.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		if text == "" {
			return nil
		}
		return []model.Part{model.TextPart{Text: text}}
	}
	var (
		parts   []model.Part
		pending []model.ToolCall
		last    int
	)
	flushText := func(s string) {
		if strings.TrimSpace(s) == "" {
			return
		}
		if len(pending) > 0 {
			parts = append(parts, model.ToolCallsPart{Calls: pending})
			pending = nil
		}
		parts = append(parts, model.TextPart{Text: strings.TrimSpace(s)})
	}
	for i, m := range matches {
		name := strings.TrimSpace(text[m[2]:m[3]])
		rawArgs := strings.TrimSpace(text[m[4]:m[5]])
		args := map[string]any{}
		if rawArgs != "" {
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
				continue
			}
		}
		flushText(text[last:m[0]])
		pending = append(pending, model.ToolCall{
			ID:        callID(text, i),
			Name:      name,
			Arguments: args,
		})
		last = m[1]
	}
	flushText(text[last:])
	if len(pending) > 0 {
		parts = append(parts, model.ToolCallsPart{Calls: pending})
	}
	return parts
}

func callID(text string, index int) string {
	return "call_" + uuid.NewSHA1(callNamespace, []byte(strconv.Itoa(index)+"\x00"+text)).String()
}
