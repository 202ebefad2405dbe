package openai

import (
	"context"

	"github.com/openai/openai-go"

	"goa.design/symposium/runtime/agent/model"
)

var imageFunction = &model.FunctionDefinition{
	Name:        GenerateImageFunction,
	Description: "Generate an image from a detailed description. The image is shown to the user.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{"type": "string", "description": "Description of the image to generate."},
			"size": map[string]any{
				"type": "string",
				"enum": []any{"1024x1024", "1536x1024", "1024x1536"},
			},
		},
		"required": []any{"prompt"},
	},
}

// withImageFunction returns a copy of req exposing the image generation
// function.
func withImageFunction(req *model.Request) *model.Request {
	if req.FunctionNamed(GenerateImageFunction) != nil {
		return req
	}
	out := *req
	out.Functions = append(append([]*model.FunctionDefinition(nil), req.Functions...), imageFunction)
	return &out
}

// generateImages replaces the image generation calls found in msg with the
// generated images.
func (c *Client) generateImages(ctx context.Context, msg *model.Message) error {
	if c.images == nil {
		return nil
	}
	parts := make([]model.Part, 0, len(msg.Parts))
	for _, p := range msg.Parts {
		tc, ok := p.(model.ToolCallsPart)
		if !ok {
			parts = append(parts, p)
			continue
		}
		var remaining []model.ToolCall
		for _, call := range tc.Calls {
			if call.Name != GenerateImageFunction {
				remaining = append(remaining, call)
				continue
			}
			img, err := c.generateImage(ctx, call)
			if err != nil {
				return err
			}
			parts = append(parts, img)
		}
		if len(remaining) > 0 {
			parts = append(parts, model.ToolCallsPart{Calls: remaining})
		}
	}
	msg.Parts = parts
	return nil
}

func (c *Client) generateImage(ctx context.Context, call model.ToolCall) (model.ImagePart, error) {
	prompt, _ := call.Arguments["prompt"].(string)
	if prompt == "" {
		return model.ImagePart{}, model.NewValidationError("%s requires a prompt", GenerateImageFunction)
	}
	params := openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  openai.ImageModel(c.imageModel),
	}
	size, _ := call.Arguments["size"].(string)
	if size != "" {
		params.Size = openai.ImageGenerateParamsSize(size)
	}
	resp, err := c.images.Generate(ctx, params)
	if err != nil {
		return model.ImagePart{}, c.transportError("image_generation", err)
	}
	if len(resp.Data) == 0 {
		return model.ImagePart{}, model.NewTransportError(c.provider, "image_generation", 0, "response has no image", nil)
	}
	img := resp.Data[0]
	part := model.ImagePart{
		Meta: &model.ImageMeta{ID: call.ID, Status: "completed", Prompt: prompt, Size: size},
	}
	if img.RevisedPrompt != "" {
		part.Meta.Prompt = img.RevisedPrompt
	}
	if img.B64JSON != "" {
		part.Source = model.ImageBase64
		part.MIME = "image/png"
		part.Data = img.B64JSON
	} else {
		part.Source = model.ImageURL
		part.Data = img.URL
	}
	return part, nil
}
