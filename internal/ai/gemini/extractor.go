package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"referral-service/internal/models"

	"github.com/google/generative-ai-go/genai"
)

// maxBodyRunes keeps huge HTML bodies from eating the model's context.
const maxBodyRunes = 30000

// ReportExtractor asks Gemini for the patients mentioned in a clinic message.
// Text-only messages go to the flash model, messages with files to the pro model.
type ReportExtractor struct {
	pool *ClientPool
}

func NewReportExtractor(pool *ClientPool) *ReportExtractor {
	return &ReportExtractor{pool: pool}
}

func (e *ReportExtractor) Extract(ctx context.Context, message models.SourceMessage) ([]models.RawCandidate, error) {
	parts := []genai.Part{genai.Text(buildPrompt(message))}
	for _, attachment := range message.Attachments {
		mimeType := attachmentMIMEType(attachment)
		if mimeType == "" {
			slog.Info("Skipping attachment of unsupported type",
				"message_id", message.MessageID,
				"file_name", attachment.FileName,
				"content_type", attachment.ContentType)
			continue
		}
		parts = append(parts, genai.Blob{MIMEType: mimeType, Data: attachment.Data})
	}
	withFiles := len(parts) > 1

	var raw string
	err := e.pool.Do(ctx, func(client *GeminiClient) error {
		model := client.FlashModel
		if withFiles {
			model = client.ProModel
		}
		text, err := generateText(ctx, model, parts...)
		if err != nil {
			return err
		}
		raw = text
		return nil
	})
	if err != nil {
		return nil, err
	}

	candidates, err := ParseCandidates(raw)
	if err != nil {
		return nil, err
	}
	slog.Info("Clinic message extracted",
		"message_id", message.MessageID,
		"patients", len(candidates),
		"files", len(parts)-1)
	return candidates, nil
}

func buildPrompt(message models.SourceMessage) string {
	body := message.Body
	if runes := []rune(body); len(runes) > maxBodyRunes {
		body = string(runes[:maxBodyRunes])
	}
	return fmt.Sprintf(ReportExtractionPromptTemplate, message.SenderEmail, message.Subject, body)
}

func attachmentMIMEType(attachment models.Attachment) string {
	contentType := strings.ToLower(attachment.ContentType)
	switch {
	case contentType == "application/pdf" || bytes.HasPrefix(attachment.Data, []byte("%PDF-")):
		return "application/pdf"
	case strings.HasPrefix(contentType, "image/"):
		if detected := detectImageMIMEType(attachment.Data); detected != "" {
			return detected
		}
		return contentType
	case strings.HasPrefix(contentType, "text/"):
		return "text/plain"
	}
	return detectImageMIMEType(attachment.Data)
}

// ParseCandidates reads the model answer. It accepts the documented {"patients": [...]} object,
// a bare array, or a single patient object. Numbers are kept as json.Number.
func ParseCandidates(raw string) ([]models.RawCandidate, error) {
	raw = stripJSONFence(raw)
	if raw == "" {
		return nil, nil
	}

	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.UseNumber()
	var payload any
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal AI response to JSON: %w. \nRaw response was: %s", err, raw)
	}

	var items []any
	switch v := payload.(type) {
	case []any:
		items = v
	case map[string]any:
		if patients, ok := v["patients"]; ok {
			list, ok := patients.([]any)
			if !ok {
				return nil, fmt.Errorf("AI response field patients is %T, expected an array", patients)
			}
			items = list
		} else {
			items = []any{v}
		}
	default:
		return nil, fmt.Errorf("AI response is %T, expected an object or array", payload)
	}

	candidates := make([]models.RawCandidate, 0, len(items))
	for _, item := range items {
		if entry, ok := item.(map[string]any); ok {
			candidates = append(candidates, models.RawCandidate(entry))
		}
	}
	return candidates, nil
}
