package services

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"

	"referral-service/internal/models"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// AttachmentInspector drops attachments the extractor should not spend a request on.
type AttachmentInspector struct {
	maxPages int
}

func NewAttachmentInspector(maxPages int) *AttachmentInspector {
	return &AttachmentInspector{maxPages: maxPages}
}

// Filter keeps non-PDF attachments as they are. PDFs are kept only when they parse
// and do not exceed the page limit.
func (i *AttachmentInspector) Filter(messageID string, attachments []models.Attachment) []models.Attachment {
	kept := make([]models.Attachment, 0, len(attachments))
	for _, attachment := range attachments {
		if !isPDF(attachment) {
			kept = append(kept, attachment)
			continue
		}

		pages, err := api.PageCount(bytes.NewReader(attachment.Data), nil)
		if err != nil {
			slog.Warn("Dropping unreadable PDF attachment",
				"message_id", messageID,
				"file_name", attachment.FileName,
				"error", err)
			continue
		}
		if i.maxPages > 0 && pages > i.maxPages {
			slog.Warn("Dropping oversized PDF attachment",
				"message_id", messageID,
				"file_name", attachment.FileName,
				"pages", pages,
				"max_pages", i.maxPages)
			continue
		}
		kept = append(kept, attachment)
	}
	return kept
}

func isPDF(attachment models.Attachment) bool {
	if strings.EqualFold(attachment.ContentType, "application/pdf") {
		return true
	}
	if strings.EqualFold(filepath.Ext(attachment.FileName), ".pdf") {
		return true
	}
	return bytes.HasPrefix(attachment.Data, []byte("%PDF-"))
}
