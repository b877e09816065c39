package files

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLanguageTag(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"index.js", "javascript"},
		{"App.tsx", "typescript"},
		{"style.css", "css"},
		{"main.go", "go"},
		{"script.py", "python"},
		{"Program.cs", "csharp"},
		{"notes.txt", "plaintext"},
		{"Makefile", "plaintext"},
		{"archive.tar.gz", "plaintext"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LanguageTag(tt.filename), tt.filename)
	}
}
