package mermaid_test

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/zlib"

	"github.com/euforicio/mermaidmd/internal/mermaid"
)

// livePayload was produced by the Mermaid live editor tooling for liveSource.
const (
	livePayload = "eJxtjrEOwjAMRH_F8lx-oAMIxIBYWbOYxNBISVyCI1RV_XeSim7cZL2703lGK46xB4SqN78KJ8tnT89M0SRYNVJWb_1ISeEYvOV_xknuG14zu_1VhtTDhUMQaHcHg3yAMsMk5YAdYOQcybs2P7eyQR04sqnAoOMHlaAGTVpamIrKbUq2mpoLV1JGR7o9-8PLF2HHQ5k="
	liveSource  = "    sequenceDiagram\n      participant Alice\n      participant Bob\n      Alice->John: Hello John, how are you?"
)

func inflate(t *testing.T, payload string) []byte {
	t.Helper()
	raw, err := base64.URLEncoding.DecodeString(payload)
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("open zlib: %v", err)
	}
	defer zr.Close()
	plain, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("inflate: %v", err)
	}
	return plain
}

func TestDecodeLiveEditorPayload(t *testing.T) {
	t.Parallel()
	state, err := mermaid.DecodeEditorState(livePayload)
	if err != nil {
		t.Fatalf("DecodeEditorState returned error: %v", err)
	}
	if state != mermaid.NewEditorState(liveSource) {
		t.Fatalf("unexpected state: %#v", state)
	}
}

func TestEncodeMatchesLiveEditorLayout(t *testing.T) {
	t.Parallel()
	encoded, err := mermaid.EncodeEditorState(liveSource)
	if err != nil {
		t.Fatalf("EncodeEditorState returned error: %v", err)
	}
	if got, want := inflate(t, encoded), inflate(t, livePayload); !bytes.Equal(got, want) {
		t.Fatalf("state document differs:\ngot:  %s\nwant: %s", got, want)
	}
}

func TestEditorRoundTrip(t *testing.T) {
	t.Parallel()
	sources := []string{
		"graph TD;\nA-->B;",
		sequenceSource,
		"flowchart LR\n  a[\"quoted \\\"label\\\"\"] --> b{{<b>html</b> & more}}\n",
		"graph TD\n  x[Überprüfung] --> y[確認] --> z[🚀 launch]\n",
		"pie title Tabs\t\"a\" : 1\r\n\"b\" : 2",
		strings.Repeat("graph TD; A-->B;\n", 200),
	}
	for _, src := range sources {
		encoded, err := mermaid.EncodeEditorState(src)
		if err != nil {
			t.Fatalf("encode %q: %v", src, err)
		}
		state, err := mermaid.DecodeEditorState(encoded)
		if err != nil {
			t.Fatalf("decode %q: %v", src, err)
		}
		if state.Code != src {
			t.Fatalf("round trip mismatch:\ngot:  %q\nwant: %q", state.Code, src)
		}
		if strings.ContainsAny(string(inflate(t, encoded)), "Ü確🚀") {
			t.Fatalf("state document must be ASCII-only")
		}
	}
}

func TestEditorLinkForms(t *testing.T) {
	t.Parallel()
	link, err := mermaid.EditorLink("https://mermaid.live/edit/", "graph TD;A-->B;")
	if err != nil {
		t.Fatalf("EditorLink returned error: %v", err)
	}
	if !strings.HasPrefix(link, "https://mermaid.live/edit#pako:") {
		t.Fatalf("unexpected link %s", link)
	}
	state, err := mermaid.DecodeEditorState(link)
	if err != nil {
		t.Fatalf("decode full url: %v", err)
	}
	if state.Code != "graph TD;A-->B;" {
		t.Fatalf("unexpected code %q", state.Code)
	}

	if _, err := mermaid.EditorLink("", " "); !errors.Is(err, mermaid.ErrEmptyDiagram) {
		t.Fatalf("expected ErrEmptyDiagram, got %v", err)
	}
	if _, err := mermaid.DecodeEditorState("pako:!!!"); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
}

func TestEncodeRejectsInvalidUTF8(t *testing.T) {
	t.Parallel()
	var cfgErr *mermaid.ConfigError
	_, err := mermaid.EncodeEditorState("graph TD;\nA[\xff\xfe]-->B;")
	if !errors.As(err, &cfgErr) || cfgErr.Field != "link_to_editor" {
		t.Fatalf("expected link_to_editor ConfigError, got %v", err)
	}
	if _, err := mermaid.EditorLink("", "graph TD;\xc3"); err == nil {
		t.Fatalf("expected error for truncated UTF-8 sequence")
	}
}
