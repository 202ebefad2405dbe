package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"goa.design/symposium/runtime/agent/model"
)

type (
	// ContextSource produces the text of a context snippet.
	ContextSource interface {
		Text(ctx context.Context) (string, error)
	}

	// Context is a titled snippet an agent can consult.
	Context struct {
		Title  string
		Source ContextSource
		// OnRequest makes the snippet available through get_context instead
		// of being included up front.
		OnRequest bool
	}

	// TextContext is a literal snippet.
	TextContext string

	// FileContext reads a local file or an http(s) URL.
	FileContext struct {
		Location string
		// Client fetches URLs. Defaults to http.DefaultClient.
		Client *http.Client
	}

	// ContextTool serves the on-request contexts through the get_context
	// function.
	ContextTool struct {
		contexts []Context
	}
)

// GetContextFunction is the function exposed by ContextTool.
const GetContextFunction = "get_context"

// NewContextTool returns a tool serving contexts.
func NewContextTool(contexts ...Context) *ContextTool {
	return &ContextTool{contexts: contexts}
}

// Text implements ContextSource.
func (t TextContext) Text(context.Context) (string, error) { return string(t), nil }

// Text implements ContextSource.
func (f FileContext) Text(ctx context.Context) (string, error) {
	if strings.HasPrefix(f.Location, "http://") || strings.HasPrefix(f.Location, "https://") {
		return f.fetch(ctx)
	}
	data, err := os.ReadFile(f.Location) // #nosec G304 -- contexts are configured by the application
	if err != nil {
		return "", fmt.Errorf("read context %s: %w", f.Location, err)
	}
	return string(data), nil
}

func (f FileContext) fetch(ctx context.Context) (string, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.Location, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch context %s: %w", f.Location, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch context %s: status %d", f.Location, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("fetch context %s: %w", f.Location, err)
	}
	return string(body), nil
}

// Name implements Tool.
func (t *ContextTool) Name() string { return GetContextFunction }

// Functions implements Tool.
func (t *ContextTool) Functions(context.Context) ([]*model.FunctionDefinition, error) {
	return []*model.FunctionDefinition{{
		Name:        GetContextFunction,
		Description: "Get the text from a specific context snippet",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{"type": "string"},
			},
			"required": []string{"title"},
		},
	}}, nil
}

// Call implements Tool.
func (t *ContextTool) Call(ctx context.Context, _ *model.Thread, name string, args map[string]any) (any, error) {
	if name != GetContextFunction {
		return ErrorResponse(fmt.Sprintf("Function %s not found", name)), nil
	}
	title, _ := args["title"].(string)
	for _, c := range t.contexts {
		if c.Title != title || !c.OnRequest {
			continue
		}
		text, err := c.Source.Text(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"context": text}, nil
	}
	return ErrorResponse(fmt.Sprintf("Context with title %s not found", title)), nil
}

// Preamble renders the contexts that are not served on request, in order,
// for inclusion in the system prompt.
func (t *ContextTool) Preamble(ctx context.Context) (string, error) {
	var b strings.Builder
	for _, c := range t.contexts {
		if c.OnRequest {
			continue
		}
		text, err := c.Source.Text(ctx)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "## %s\n%s\n\n", c.Title, text)
	}
	return strings.TrimSpace(b.String()), nil
}

// Index lists the titles get_context can serve so the model knows what to
// ask for. It is empty when no context is served on request.
func (t *ContextTool) Index() string {
	var titles []string
	for _, c := range t.contexts {
		if c.OnRequest {
			titles = append(titles, "- "+c.Title)
		}
	}
	if len(titles) == 0 {
		return ""
	}
	return "Use get_context to read any of these context snippets when relevant:\n" + strings.Join(titles, "\n")
}
