package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"referral-service/internal/config"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

type GeminiClient struct {
	Client     *genai.Client
	FlashModel *genai.GenerativeModel
	ProModel   *genai.GenerativeModel
}

func NewGenAIClient(ctx context.Context, apiKey, flashModelName, proModelName string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("genai client init failed: %w", err)
	}

	flash := client.GenerativeModel(flashModelName)
	flash.ResponseMIMEType = "application/json"
	pro := client.GenerativeModel(proModelName)
	pro.ResponseMIMEType = "application/json"

	return &GeminiClient{
		Client:     client,
		FlashModel: flash,
		ProModel:   pro,
	}, nil
}

// NewClientsFromConfig builds one client per configured API key. Keys that fail to initialize are skipped.
func NewClientsFromConfig(ctx context.Context, cfg config.GeminiAPIConfig) ([]GeminiClient, error) {
	var clients []GeminiClient
	for i, key := range strings.Split(cfg.APIKeys, ",") {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		client, err := NewGenAIClient(ctx, key, cfg.FlashName, cfg.ProName)
		if err != nil {
			slog.Error("Failed to initialize Gemini client", "key_index", i, "error", err)
			continue
		}
		clients = append(clients, *client)
	}
	if len(clients) == 0 {
		return nil, errors.New("no Gemini client could be initialized")
	}
	return clients, nil
}

// Close releases every client of the slice.
func Close(clients []GeminiClient) {
	for _, c := range clients {
		if c.Client != nil {
			if err := c.Client.Close(); err != nil {
				slog.Warn("Failed to close Gemini client", "error", err)
			}
		}
	}
}

// generateText sends the parts to the model and returns the first text part with any
// markdown JSON fence removed.
func generateText(ctx context.Context, model *genai.GenerativeModel, parts ...genai.Part) (string, error) {
	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("no content returned from AI")
	}
	textPart, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return "", fmt.Errorf("response part is not text, received %T", resp.Candidates[0].Content.Parts[0])
	}
	return stripJSONFence(string(textPart)), nil
}

func stripJSONFence(aiResponse string) string {
	aiResponse = strings.TrimSpace(aiResponse)
	if strings.HasPrefix(aiResponse, "```") {
		aiResponse = strings.TrimPrefix(aiResponse, "```json")
		aiResponse = strings.TrimPrefix(aiResponse, "```")
		aiResponse = strings.TrimSuffix(aiResponse, "```")
	}
	return strings.TrimSpace(aiResponse)
}

// detectImageMIMEType detects the MIME type of an image based on magic bytes
func detectImageMIMEType(data []byte) string {
	switch {
	case len(data) >= 4 && data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47:
		return "image/png"
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg"
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "image/webp"
	}
	return ""
}
