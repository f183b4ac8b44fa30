package schema

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/rs/zerolog/log"
)

// Schema declares which events clients may subscribe to, and which of them
// clients may publish themselves.
type Schema struct {
	AllowAllEvents bool
	Emits          map[string]struct{}

	// Inbound holds the events a client may publish with /publish.
	Inbound map[string]struct{}

	// Development turns on diagnostics for rejected subscriptions.
	Development bool
}

func New(allowAll bool, emits ...string) *Schema {
	s := &Schema{
		AllowAllEvents: allowAll,
		Emits:          make(map[string]struct{}, len(emits)),
		Inbound:        make(map[string]struct{}),
	}
	for _, name := range emits {
		s.Emits[name] = struct{}{}
	}
	return s
}

// Allows reports whether a client may subscribe to name.
func (s *Schema) Allows(name string) bool {
	if s.AllowAllEvents {
		return true
	}
	_, ok := s.Emits[name]
	return ok
}

// Accepts reports whether a client may publish name.
func (s *Schema) Accepts(name string) bool {
	_, ok := s.Inbound[name]
	return ok
}

// Names of the declared events, sorted.
func (s *Schema) Names() []string {
	names := make([]string, 0, len(s.Emits))
	for name := range s.Emits {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type Config struct {
	AllowAllEvents bool    `hcl:"allow_all_events,optional"`
	Event          []Event `hcl:"event,block"`
}

type Event struct {
	Name    string `hcl:"name,label"`
	Inbound bool   `hcl:"inbound,optional"`
}

// LoadDir merges every .hcl file under dir into one schema. Each file is decoded
// on its own, so allow_all_events may be set in several files; any true wins.
// Files that fail to parse are logged and skipped.
func LoadDir(dir string) (*Schema, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	result := New(false)
	for _, entry := range entries {
		filename := entry.Name()
		if entry.IsDir() || strings.ToLower(filepath.Ext(filename)) != ".hcl" {
			continue
		}

		log.Debug().Msgf("Reading event schema %v", filename)

		b, err := os.ReadFile(filepath.Join(dir, filename))
		if err != nil {
			log.Err(err).Msgf("Error reading from file %v", filename)
			continue
		}

		s, err := Parse(filename, b)
		if err != nil {
			log.Err(err).Msgf("Error parsing file %v", filename)
			continue
		}

		result.merge(s)
	}

	return result, nil
}

func (s *Schema) merge(other *Schema) {
	s.AllowAllEvents = s.AllowAllEvents || other.AllowAllEvents
	for name := range other.Emits {
		s.Emits[name] = struct{}{}
	}
	for name := range other.Inbound {
		s.Inbound[name] = struct{}{}
	}
}

// Parse reads a schema from one HCL document.
func Parse(filename string, src []byte) (*Schema, error) {
	file, diags := hclsyntax.ParseConfig(src, filename, hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, diags
	}
	return decode(file.Body)
}

func decode(body hcl.Body) (*Schema, error) {
	var cfg Config
	if diags := gohcl.DecodeBody(body, nil, &cfg); diags.HasErrors() {
		return nil, diags
	}

	s := New(cfg.AllowAllEvents)
	for _, ev := range cfg.Event {
		s.Emits[ev.Name] = struct{}{}
		if ev.Inbound {
			s.Inbound[ev.Name] = struct{}{}
		}
	}

	return s, nil
}
