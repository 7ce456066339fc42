package tab

import "strings"

// knownDownloadMimeTypes are content types treated as a download even
// without a Content-Disposition header.
var knownDownloadMimeTypes = map[string]bool{
	"application/pdf":          true,
	"application/octet-stream": true,
	"application/zip":          true,
}

// detectDownload reports whether a response is a download: its
// Content-Disposition names an attachment or a filename, or its
// Content-Type matches a known binary/document type. Returns the
// extracted filename (if any) and mime type (the portion of
// Content-Type preceding the first ';').
func detectDownload(headers map[string]string) (isDownload bool, filename, mimeType string) {
	disposition := headerValue(headers, "Content-Disposition")
	contentType := headerValue(headers, "Content-Type")
	mimeType = mimeTypeOf(contentType)

	if disposition != "" {
		if strings.Contains(disposition, "attachment") || strings.Contains(disposition, "filename=") {
			return true, filenameOf(disposition), mimeType
		}
	}

	if knownDownloadMimeTypes[mimeType] {
		return true, filenameOf(disposition), mimeType
	}

	return false, "", mimeType
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func mimeTypeOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		return strings.TrimSpace(contentType[:i])
	}
	return strings.TrimSpace(contentType)
}

func filenameOf(disposition string) string {
	const marker = "filename="
	i := strings.Index(disposition, marker)
	if i < 0 {
		return ""
	}
	rest := disposition[i+len(marker):]
	if j := strings.IndexByte(rest, ';'); j >= 0 {
		rest = rest[:j]
	}
	rest = strings.TrimSpace(rest)
	return strings.Trim(rest, `"`)
}
