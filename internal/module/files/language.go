package files

import "strings"

// languageTags maps file extensions to the language tag handed to the
// editing widget.
var languageTags = map[string]string{
	"js":   "javascript",
	"jsx":  "javascript",
	"ts":   "typescript",
	"tsx":  "typescript",
	"py":   "python",
	"java": "java",
	"html": "html",
	"css":  "css",
	"scss": "scss",
	"json": "json",
	"md":   "markdown",
	"xml":  "xml",
	"sql":  "sql",
	"php":  "php",
	"rb":   "ruby",
	"go":   "go",
	"cpp":  "cpp",
	"c":    "c",
	"cs":   "csharp",
}

// LanguageTag returns the language tag for a filename, defaulting to
// plaintext.
func LanguageTag(filename string) string {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 || idx == len(filename)-1 {
		return "plaintext"
	}
	if tag, ok := languageTags[strings.ToLower(filename[idx+1:])]; ok {
		return tag
	}
	return "plaintext"
}
