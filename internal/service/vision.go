package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/oazlabs/photoflow/internal/prompts"
)

// VisionService generates fashion attributes for product photos through an
// OpenAI-compatible chat completion endpoint. Analysis runs only on explicit
// request, never as part of the ingestion pipeline.
type VisionService struct {
	client   *resty.Client
	model    string
	endpoint string
}

// VisionConfig holds configuration for the vision service.
type VisionConfig struct {
	Model   string
	APIKey  string
	BaseURL string
}

// GarmentAnalysis is the structured result of one analysis call.
type GarmentAnalysis struct {
	ItemType    string   `json:"item_type"`
	Color       string   `json:"color"`
	Material    string   `json:"material"`
	Pattern     string   `json:"pattern"`
	Style       string   `json:"style"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// NewVisionService creates a new vision service.
// Parameters:
//   - cfg: vision configuration including model and API key.
// Returns:
//   - *VisionService: initialized client wrapper.
func NewVisionService(cfg *VisionConfig) *VisionService {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	// Set timeout to prevent hanging requests
	client.SetTimeout(60 * time.Second)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &VisionService{
		client:   client,
		model:    cfg.Model,
		endpoint: baseURL + "/chat/completions",
	}
}

// GetModel returns the model name being used.
func (s *VisionService) GetModel() string {
	return s.model
}

// OpenAI-compatible Chat Completion API request/response structures
type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
}

type openAIMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string for system, []interface{} for user with images
}

type openAITextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type openAIImageContent struct {
	Type     string         `json:"type"`
	ImageURL openAIImageURL `json:"image_url"`
}

type openAIImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// AnalyzeGarment sends a product photo for attribute extraction.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - imageData: raw image bytes (jpg, png, webp).
//   - format: image format extension, used for the data URL MIME type.
//
// Returns:
//   - *GarmentAnalysis: parsed attributes.
//   - error: non-nil if the API request fails or the response is not the
//     expected JSON shape.
func (s *VisionService) AnalyzeGarment(ctx context.Context, imageData []byte, format string) (*GarmentAnalysis, error) {
	base64Image := base64.StdEncoding.EncodeToString(imageData)
	dataURL := fmt.Sprintf("data:%s;base64,%s", getMIMEType(format), base64Image)

	req := openAIRequest{
		Model: s.model,
		Messages: []openAIMessage{
			{
				Role:    "system",
				Content: prompts.VisionSystemPrompt,
			},
			{
				Role: "user",
				Content: []interface{}{
					openAITextContent{
						Type: "text",
						Text: prompts.VisionUserPrompt,
					},
					openAIImageContent{
						Type: "image_url",
						ImageURL: openAIImageURL{
							URL:    dataURL,
							Detail: "auto",
						},
					},
				},
			},
		},
		MaxTokens: 400,
	}

	var resp openAIResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(s.endpoint)

	if err != nil {
		return nil, fmt.Errorf("failed to call vision API: %w", err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		errorMsg := fmt.Sprintf("HTTP %d", httpResp.StatusCode())
		if resp.Error != nil {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		} else if len(httpResp.Body()) > 0 {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
		}
		return nil, fmt.Errorf("vision API returned error: %s", errorMsg)
	}

	if resp.Error != nil {
		return nil, fmt.Errorf("vision API error: %s", resp.Error.Message)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from vision API (status: %d)", httpResp.StatusCode())
	}

	return parseAnalysis(resp.Choices[0].Message.Content)
}

// parseAnalysis tolerates models that wrap JSON in markdown fences despite
// instructions.
func parseAnalysis(content string) (*GarmentAnalysis, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var analysis GarmentAnalysis
	if err := json.Unmarshal([]byte(content), &analysis); err != nil {
		return nil, fmt.Errorf("failed to parse vision response as JSON: %w", err)
	}
	return &analysis, nil
}

func getMIMEType(format string) string {
	switch format {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
