package schema

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/pion/logging"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// filenamePattern matches "<tag>-<direction>-<major>-<minor>-<micro>.json",
// e.g. "iqmeshNetwork_SmartConnect-request-1-0-0.json".
var filenamePattern = regexp.MustCompile(`^([A-Za-z0-9_]+)-(request|response)-(\d+)-(\d+)-(\d+)\.json$`)

// schemaPair holds the compiled request and/or response schema for one
// MessageType. A nil Request means the message type is unknown to the
// registry.
type schemaPair struct {
	Request  *jsonschema.Schema
	Response *jsonschema.Schema
}

// RegistryConfig configures a new Registry.
type RegistryConfig struct {
	// LoggerFactory is the factory for creating loggers. If nil, logging
	// is disabled.
	LoggerFactory logging.LoggerFactory
}

// Registry loads and indexes the JSON schema documents that validate
// every message type the daemon understands. It is built once at
// activation by Load and is read-only afterward.
type Registry struct {
	log logging.LeveledLogger

	mu     sync.RWMutex
	pairs  map[string]*schemaPair // keyed by MessageType.Key()
	loaded bool
}

// NewRegistry constructs an empty Registry. Call Load before use.
func NewRegistry(config RegistryConfig) *Registry {
	r := &Registry{pairs: make(map[string]*schemaPair)}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("schema-registry")
	}
	return r
}

// Load scans dir for schema files matching the naming convention and
// compiles each one. $ref targets are resolved only within dir; network
// fetches are never attempted. Load may be called once; a second call
// returns an error.
func (r *Registry) Load(dir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return fmt.Errorf("schema: registry already loaded")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("schema: reading %s: %w", dir, err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	// $ref may only point at sibling files in the schema directory;
	// network fetches are never attempted.
	compiler.LoadURL = func(url string) (io.ReadCloser, error) {
		path, ok := strings.CutPrefix(url, "file://")
		if !ok {
			return nil, fmt.Errorf("schema: refusing non-local $ref %q", url)
		}
		if filepath.Dir(filepath.Clean(path)) != filepath.Clean(dir) {
			return nil, fmt.Errorf("schema: refusing $ref outside schema directory: %q", url)
		}
		return os.Open(path)
	}

	type pending struct {
		key       string
		direction Direction
		url       string
	}
	var toCompile []pending

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		m := filenamePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			if r.log != nil {
				r.log.Warnf("schema: skipping %s: %v", entry.Name(), ErrBadFilename)
			}
			continue
		}

		major, _ := strconv.Atoi(m[3])
		minor, _ := strconv.Atoi(m[4])
		micro, _ := strconv.Atoi(m[5])
		mt := MessageType{Tag: m[1], Major: major, Minor: minor, Micro: micro}
		direction, _ := parseDirection(m[2])

		path := filepath.Join(dir, entry.Name())
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("schema: opening %s: %w", path, err)
		}
		url := "file://" + path
		err = compiler.AddResource(url, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("schema: loading %s: %w", path, err)
		}

		toCompile = append(toCompile, pending{key: mt.Key(), direction: direction, url: url})
	}

	for _, p := range toCompile {
		compiled, err := compiler.Compile(p.url)
		if err != nil {
			return fmt.Errorf("schema: compiling %s: %w", p.url, err)
		}
		pair, ok := r.pairs[p.key]
		if !ok {
			pair = &schemaPair{}
			r.pairs[p.key] = pair
		}
		switch p.direction {
		case DirectionRequest:
			pair.Request = compiled
		case DirectionResponse:
			pair.Response = compiled
		}
	}

	r.loaded = true
	if r.log != nil {
		r.log.Infof("schema: loaded %d message type(s) from %s", len(r.pairs), dir)
	}
	return nil
}

// Resolve reads "mType" (required) and "ver" (defaults to "1.0.0") from
// doc and returns the canonical MessageType key, failing with
// ErrUnsupportedMessageType if no request schema is indexed for it and
// ErrMissingMessageType if mType is absent.
func (r *Registry) Resolve(doc map[string]interface{}) (MessageType, error) {
	tagAny, ok := doc["mType"]
	if !ok {
		return MessageType{}, ErrMissingMessageType
	}
	tag, ok := tagAny.(string)
	if !ok || tag == "" {
		return MessageType{}, ErrMissingMessageType
	}

	ver := "1.0.0"
	if verAny, ok := doc["ver"]; ok {
		if s, ok := verAny.(string); ok && s != "" {
			ver = s
		}
	}

	parts := strings.SplitN(ver, ".", 3)
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	major, _ := strconv.Atoi(parts[0])
	minor, _ := strconv.Atoi(parts[1])
	micro, _ := strconv.Atoi(parts[2])
	mt := MessageType{Tag: tag, Major: major, Minor: minor, Micro: micro}

	r.mu.RLock()
	pair, ok := r.pairs[mt.Key()]
	r.mu.RUnlock()
	if !ok || pair.Request == nil {
		return MessageType{}, ErrUnsupportedMessageType
	}
	return mt, nil
}

// ValidateRequest validates doc against mt's request schema.
func (r *Registry) ValidateRequest(mt MessageType, doc interface{}) error {
	return r.validate(mt, DirectionRequest, doc)
}

// ValidateResponse validates doc against mt's response schema, if one is
// indexed; message types without a response schema are not validated.
func (r *Registry) ValidateResponse(mt MessageType, doc interface{}) error {
	return r.validate(mt, DirectionResponse, doc)
}

func (r *Registry) validate(mt MessageType, direction Direction, doc interface{}) error {
	r.mu.RLock()
	pair, ok := r.pairs[mt.Key()]
	r.mu.RUnlock()
	if !ok {
		return ErrUnsupportedMessageType
	}

	var s *jsonschema.Schema
	switch direction {
	case DirectionRequest:
		s = pair.Request
	case DirectionResponse:
		s = pair.Response
	}
	if s == nil {
		return nil
	}

	if err := s.Validate(doc); err != nil {
		ve, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return &ViolationError{MessageType: mt, Direction: direction, Err: err}
		}
		return &ViolationError{
			MessageType: mt,
			Direction:   direction,
			Path:        ve.InstanceLocation,
			Keyword:     lastSegment(ve.KeywordLocation),
			Err:         err,
		}
	}
	return nil
}

// lastSegment returns the final "/"-separated component of a JSON-Schema
// keyword location, e.g. "/properties/data/required" -> "required".
func lastSegment(location string) string {
	i := strings.LastIndexByte(location, '/')
	if i < 0 {
		return location
	}
	return location[i+1:]
}
