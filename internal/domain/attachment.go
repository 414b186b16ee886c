package domain

import (
	"path/filepath"
	"strings"
)

// ClassifyAttachment derives the attachment kind from its file name.
// Image extensions win over name keywords.
func ClassifyAttachment(fileName string) AttachmentKind {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".jpg", ".jpeg", ".png", ".heic":
		return AttachmentPhoto
	}
	name := strings.ToLower(fileName)
	switch {
	case strings.Contains(name, "valuation"):
		return AttachmentValuationReport
	case strings.Contains(name, "interim"):
		return AttachmentInterimCertificate
	case strings.Contains(name, "drawdown"):
		return AttachmentDrawdownInstruction
	}
	return AttachmentOther
}
