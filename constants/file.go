package constants

import "strings"

const (
	MimePDF       = "application/pdf"
	MimePlainText = "text/plain"
	MimeOctet     = "application/octet-stream"
)

// SupportedMimeTypes holds the binary document formats the text extractor accepts.
var SupportedMimeTypes = map[string]struct{}{
	MimePDF:       {},
	MimePlainText: {},
}

// AllowedExtensions maps the file extensions accepted by `register` to a mime type.
var AllowedExtensions = map[string]string{
	"pdf": MimePDF,
	"txt": MimePlainText,
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// NormalizeMime strips parameters ("text/plain; charset=utf-8" -> "text/plain") and lowercases.
func NormalizeMime(mt string) string {
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// IsSupportedMime reports whether the declared mime type is an accepted document format.
func IsSupportedMime(mt string) bool {
	_, ok := SupportedMimeTypes[NormalizeMime(mt)]
	return ok
}
