package connectors

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jhillyerd/enmime"

	"catmatch/internal/sheet"
)

// Attachment is a spreadsheet found in a mail message.
type Attachment struct {
	FileName    string
	ContentType string
	Content     []byte
}

var sheetExtensions = map[string]bool{".csv": true, ".xlsx": true, ".html": true, ".htm": true}

// IsSpreadsheetName reports whether an attachment file name has an extension
// intake can read.
func IsSpreadsheetName(filename string) bool {
	return sheetExtensions[strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))]
}

// SpreadsheetAttachments parses a raw RFC 822 message and returns the parts
// that decode as a supported sheet format. Other parts are ignored.
func SpreadsheetAttachments(raw []byte) ([]Attachment, string, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("read envelope: %w", err)
	}

	parts := make([]*enmime.Part, 0, len(env.Attachments)+len(env.Inlines))
	parts = append(parts, env.Attachments...)
	parts = append(parts, env.Inlines...)

	out := make([]Attachment, 0, len(parts))
	for _, p := range parts {
		filename := strings.TrimSpace(p.FileName)
		if !IsSpreadsheetName(filename) || len(p.Content) == 0 {
			continue
		}
		if _, err := sheet.DetectFormat(p.ContentType, filename, p.Content); err != nil {
			continue
		}
		out = append(out, Attachment{FileName: filename, ContentType: p.ContentType, Content: p.Content})
	}
	return out, env.GetHeader("Subject"), nil
}
