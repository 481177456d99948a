package mermaid

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// idNamespace scopes generated ids so they never coincide with UUIDs minted elsewhere.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("mermaidmd:diagram"))

// Registry tracks per-page rendering state: which ids are taken, which diagrams
// asked for zoom, and how many raw diagrams were emitted. A Registry belongs to
// exactly one page render and is not safe for concurrent use.
type Registry struct {
	used     map[string]struct{}
	seed     string
	zoomIDs  []string
	counter  int
	diagrams int
}

// NewRegistry returns an empty registry. The seed (usually the page path) makes
// generated ids stable across builds of the same page.
func NewRegistry(seed string) *Registry {
	return &Registry{
		seed: seed,
		used: make(map[string]struct{}),
	}
}

// Claim reserves an explicit id. It fails if the id is already in use on the page.
func (r *Registry) Claim(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return &ConfigError{Field: "id", Reason: "must not be blank"}
	}
	if !validID(id) {
		return &ConfigError{Field: "id", Reason: fmt.Sprintf("%q must start with a letter and contain only letters, digits, '-' or '_'", id)}
	}
	if _, ok := r.used[id]; ok {
		return &ConfigError{Field: "id", Reason: fmt.Sprintf("duplicate diagram id %q on page", id)}
	}
	r.used[id] = struct{}{}
	return nil
}

// Generate mints and reserves a fresh id of the form id-<uuid>.
func (r *Registry) Generate() string {
	for {
		r.counter++
		u := uuid.NewSHA1(idNamespace, []byte(r.seed+"#"+strconv.Itoa(r.counter)))
		id := "id-" + u.String()
		if _, ok := r.used[id]; ok {
			continue
		}
		r.used[id] = struct{}{}
		return id
	}
}

// Has reports whether id is reserved on this page.
func (r *Registry) Has(id string) bool {
	_, ok := r.used[id]
	return ok
}

// validID accepts ids usable both as an HTML id and inside a CSS #id selector.
func validID(id string) bool {
	for i, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '-' || c == '_'):
		default:
			return false
		}
	}
	return id != ""
}

func (r *Registry) addZoom(id string) {
	r.zoomIDs = append(r.zoomIDs, id)
}

func (r *Registry) addDiagram() {
	r.diagrams++
}

// ZoomIDs returns the ids of diagrams that requested zoom, in page order.
func (r *Registry) ZoomIDs() []string {
	return append([]string(nil), r.zoomIDs...)
}

// Diagrams returns the number of raw diagrams rendered so far.
func (r *Registry) Diagrams() int {
	return r.diagrams
}
