package mermaid

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/klauspost/compress/zlib"
)

const (
	pakoPrefix = "pako:"

	// defaultEditorMermaidConfig is the live editor's own config document, stored as a string.
	defaultEditorMermaidConfig = "{\n  \"theme\": \"default\"\n}"
)

// EditorState is the document the Mermaid live editor expects in its #pako: fragment.
type EditorState struct {
	Code          string `json:"code"`
	Mermaid       string `json:"mermaid"`
	AutoSync      bool   `json:"autoSync"`
	UpdateDiagram bool   `json:"updateDiagram"`
}

// NewEditorState returns the state the live editor opens with for source.
func NewEditorState(source string) EditorState {
	return EditorState{
		Code:          source,
		Mermaid:       defaultEditorMermaidConfig,
		AutoSync:      true,
		UpdateDiagram: true,
	}
}

// marshal writes the state with ", " and ": " separators and ASCII-only
// strings, which is the layout the live editor itself produces.
func (s EditorState) marshal() []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"code": `)
	writeJSONString(&buf, s.Code)
	buf.WriteString(`, "mermaid": `)
	writeJSONString(&buf, s.Mermaid)
	fmt.Fprintf(&buf, `, "autoSync": %t, "updateDiagram": %t}`, s.AutoSync, s.UpdateDiagram)
	return buf.Bytes()
}

func writeJSONString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			switch {
			case r < 0x20 || (r >= 0x7f && r <= 0xffff):
				fmt.Fprintf(buf, `\u%04x`, r)
			case r > 0xffff:
				hi, lo := utf16.EncodeRune(r)
				fmt.Fprintf(buf, `\u%04x\u%04x`, hi, lo)
			default:
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

// EncodeEditorState compresses and encodes the editor state for source.
func EncodeEditorState(source string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", &ConfigError{Field: "link_to_editor", Reason: "no diagram source to encode", Err: ErrEmptyDiagram}
	}
	// JSON strings cannot carry invalid UTF-8 without replacing bytes.
	if !utf8.ValidString(source) {
		return "", &ConfigError{Field: "link_to_editor", Reason: "diagram source is not valid UTF-8"}
	}

	var compressed bytes.Buffer
	zw, err := zlib.NewWriterLevel(&compressed, zlib.DefaultCompression)
	if err != nil {
		return "", fmt.Errorf("init zlib writer: %w", err)
	}
	if _, err := zw.Write(NewEditorState(source).marshal()); err != nil {
		return "", fmt.Errorf("compress editor state: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("flush editor state: %w", err)
	}
	return base64.URLEncoding.EncodeToString(compressed.Bytes()), nil
}

// DecodeEditorState reverses EncodeEditorState. It accepts a bare payload, a
// "pako:" payload, or a full editor URL.
func DecodeEditorState(encoded string) (EditorState, error) {
	payload := strings.TrimSpace(encoded)
	if i := strings.Index(payload, pakoPrefix); i >= 0 {
		payload = payload[i+len(pakoPrefix):]
	}
	payload = strings.TrimRight(payload, "=")

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return EditorState{}, fmt.Errorf("decode editor payload: %w", err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return EditorState{}, fmt.Errorf("open editor payload: %w", err)
	}
	defer zr.Close()

	plain, err := io.ReadAll(zr)
	if err != nil {
		return EditorState{}, fmt.Errorf("inflate editor payload: %w", err)
	}

	var state EditorState
	if err := json.Unmarshal(plain, &state); err != nil {
		return EditorState{}, fmt.Errorf("parse editor state: %w", err)
	}
	return state, nil
}

// EditorLink returns the live editor URL pre-loaded with source.
func EditorLink(base, source string) (string, error) {
	encoded, err := EncodeEditorState(source)
	if err != nil {
		return "", err
	}
	base = strings.TrimRight(firstNonEmpty(base, DefaultEditorURL), "/#")
	return base + "#" + pakoPrefix + encoded, nil
}
