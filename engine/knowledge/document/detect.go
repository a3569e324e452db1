package document

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Format is a document family the ingestor can parse.
type Format string

const (
	FormatPDF Format = "pdf"
	FormatCSV Format = "csv"
)

const (
	MimePDF = "application/pdf"
	MimeCSV = "text/csv"
)

var csvAliases = map[string]struct{}{
	"text/csv":                    {},
	"application/csv":             {},
	"text/comma-separated-values": {},
	"application/x-csv":           {},
	"text/x-csv":                  {},
}

// DetectFormat resolves the parser for a file. The declared MIME type wins
// when it is specific; generic types fall back to content sniffing and then
// to the file extension. It returns the canonical MIME type for the format.
func DetectFormat(path, declared, fileName string) (Format, string, bool) {
	mime := baseMime(declared)
	if format, ok := formatForMime(mime, fileName); ok {
		return format, canonicalMime(format), true
	}
	if isGeneric(mime) && path != "" {
		if detected, err := mimetype.DetectFile(path); err == nil && detected != nil {
			if format, ok := formatForMime(baseMime(detected.String()), fileName); ok {
				return format, canonicalMime(format), true
			}
		}
	}
	if isGeneric(mime) {
		if format, ok := formatForExtension(fileName); ok {
			return format, canonicalMime(format), true
		}
	}
	return "", mime, false
}

func formatForMime(mime, fileName string) (Format, bool) {
	if mime == MimePDF || mime == "application/x-pdf" {
		return FormatPDF, true
	}
	if _, ok := csvAliases[mime]; ok {
		return FormatCSV, true
	}
	// Browsers on Windows report CSV uploads as Excel.
	if mime == "application/vnd.ms-excel" && strings.EqualFold(filepath.Ext(fileName), ".csv") {
		return FormatCSV, true
	}
	return "", false
}

func formatForExtension(fileName string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return FormatPDF, true
	case ".csv":
		return FormatCSV, true
	default:
		return "", false
	}
}

// isGeneric covers types that say nothing about the content. text/plain is
// included because mimetype reports CSV content that way.
func isGeneric(mime string) bool {
	switch mime {
	case "", "application/octet-stream", "text/plain", "binary/octet-stream":
		return true
	default:
		return false
	}
}

func baseMime(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	if idx := strings.IndexByte(value, ';'); idx >= 0 {
		value = strings.TrimSpace(value[:idx])
	}
	return value
}

func canonicalMime(format Format) string {
	switch format {
	case FormatPDF:
		return MimePDF
	case FormatCSV:
		return MimeCSV
	default:
		return ""
	}
}
