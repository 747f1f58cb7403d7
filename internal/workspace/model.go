package workspace

import (
	"errors"
	"fmt"
	"strings"
)

const maxFileNameLength = 190

var (
	// ErrInvalidFileID indicates that a file identifier is empty.
	ErrInvalidFileID = errors.New("workspace: invalid file id")
	// ErrInvalidFileName indicates that a file name is empty or exceeds bounds.
	ErrInvalidFileName = errors.New("workspace: invalid file name")
	// ErrFileNotFound indicates that no live record exists for a file id.
	ErrFileNotFound = errors.New("workspace: file not found")
)

// FileID is the opaque identifier of a file record, stable for its lifetime.
type FileID string

// NewFileID validates raw input and returns a FileID.
func NewFileID(rawInput string) (FileID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidFileID)
	}
	return FileID(trimmed), nil
}

// String returns the underlying string identifier.
func (id FileID) String() string {
	return string(id)
}

// FileName is a validated project file name.
type FileName string

// NewFileName validates raw input and returns a FileName.
func NewFileName(rawInput string) (FileName, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidFileName)
	}
	if len(trimmed) > maxFileNameLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidFileName, maxFileNameLength)
	}
	return FileName(trimmed), nil
}

// String returns the underlying file name.
func (name FileName) String() string {
	return string(name)
}

// Language identifies the editing language of a file.
type Language string

const (
	LanguageHTML       Language = "html"
	LanguageCSS        Language = "css"
	LanguageJavaScript Language = "javascript"
	LanguagePython     Language = "python"
	LanguagePHP        Language = "php"
	LanguageJSON       Language = "json"
	LanguagePlainText  Language = "plaintext"
)

// String returns the language identifier.
func (l Language) String() string {
	return string(l)
}

// LanguageForExtension derives the editing language from a file name's
// extension. Unknown extensions map to plaintext.
func LanguageForExtension(name FileName) Language {
	raw := name.String()
	dot := strings.LastIndex(raw, ".")
	if dot < 0 || dot == len(raw)-1 {
		return LanguagePlainText
	}
	switch strings.ToLower(raw[dot+1:]) {
	case "html":
		return LanguageHTML
	case "css":
		return LanguageCSS
	case "js":
		return LanguageJavaScript
	case "py":
		return LanguagePython
	case "php":
		return LanguagePHP
	case "json":
		return LanguageJSON
	default:
		return LanguagePlainText
	}
}

// FileInfo is the listing projection of one live file record.
type FileInfo struct {
	ID       FileID
	Name     FileName
	Language Language
}

// FileSnapshot is a fully materialized point-in-time copy of one file.
type FileSnapshot struct {
	ID       FileID
	Name     FileName
	Language Language
	Content  string
}
