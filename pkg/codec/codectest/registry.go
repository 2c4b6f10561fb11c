// Package codectest provides an in-process Confluent Schema Registry fake
// covering the endpoints the codec touches. Used by stream and engine tests
// as well.
package codectest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

type schema struct {
	id   int
	text string
	typ  string // "AVRO", "JSON" or "PROTOBUF"
}

type Registry struct {
	mu       sync.Mutex
	subjects map[string]*schema
	nextID   int

	fetches int // GET /subjects/{s}/versions/{v}
	lookups int // GET /schemas/ids/{id}
	creates int // POST /subjects/{s}/versions
}

func New() *Registry {
	return &Registry{subjects: map[string]*schema{}, nextID: 1}
}

// Register seeds a subject with the given schema text and type ("AVRO",
// "JSON", "PROTOBUF") and returns the minted id.
func (f *Registry) Register(subject, text, typ string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &schema{id: f.nextID, text: text, typ: typ}
	f.nextID++
	f.subjects[subject] = s
	return s.id
}

func (f *Registry) Fetches() int { f.mu.Lock(); defer f.mu.Unlock(); return f.fetches }
func (f *Registry) Lookups() int { f.mu.Lock(); defer f.mu.Unlock(); return f.lookups }
func (f *Registry) Creates() int { f.mu.Lock(); defer f.mu.Unlock(); return f.creates }

func (f *Registry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.Method == http.MethodGet && len(parts) == 4 && parts[0] == "subjects" && parts[2] == "versions":
		f.fetches++
		s, ok := f.subjects[parts[1]]
		if !ok {
			writeError(w, 40401, "subject not found")
			return
		}
		writeJSON(w, map[string]any{
			"subject": parts[1], "version": 1, "id": s.id,
			"schema": s.text, "schemaType": s.typ,
		})
	case r.Method == http.MethodPost && len(parts) == 3 && parts[0] == "subjects" && parts[2] == "versions":
		f.creates++
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Schema     string `json:"schema"`
			SchemaType string `json:"schemaType"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, 42201, "invalid schema")
			return
		}
		typ := req.SchemaType
		if typ == "" {
			typ = "AVRO"
		}
		s := &schema{id: f.nextID, text: req.Schema, typ: typ}
		f.nextID++
		f.subjects[parts[1]] = s
		writeJSON(w, map[string]any{"id": s.id})
	case r.Method == http.MethodGet && len(parts) == 3 && parts[0] == "schemas" && parts[1] == "ids":
		f.lookups++
		id, _ := strconv.Atoi(parts[2])
		for _, s := range f.subjects {
			if s.id == id {
				writeJSON(w, map[string]any{"schema": s.text, "schemaType": s.typ})
				return
			}
		}
		writeError(w, 40403, "schema not found")
	default:
		writeError(w, 40401, fmt.Sprintf("unhandled %s %s", r.Method, r.URL.Path))
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/vnd.schemaregistry.v1+json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/vnd.schemaregistry.v1+json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]any{"error_code": code, "message": msg})
}
