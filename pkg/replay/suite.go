// Replay suite loading and validation
// A suite is a YAML list of recorded trigger events with the outcome to simulate
package replay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Suite is a set of invocations to replay against one function.
type Suite struct {
	FunctionName string  `yaml:"function_name"`
	Invocations  []*Case `yaml:"invocations"`
}

// Case is one recorded trigger event and the handler outcome to simulate.
type Case struct {
	Name    string          `yaml:"name"`
	Event   string          `yaml:"event"`
	Inline  map[string]any  `yaml:"payload"`
	Status  int             `yaml:"status"`
	Error   string          `yaml:"error"`
	Payload json.RawMessage `yaml:"-"`
}

// IsSuiteFile reports whether path names a YAML suite rather than a single event.
func IsSuiteFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads a suite from a YAML file, or wraps a single JSON event file in a
// one-case suite.
func Load(path string) (*Suite, error) {
	if IsSuiteFile(path) {
		return LoadSuite(path)
	}
	payload, err := readEvent(path)
	if err != nil {
		return nil, err
	}
	s := &Suite{Invocations: []*Case{{
		Name:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Event:   path,
		Payload: payload,
	}}}
	return s, nil
}

// LoadSuite reads and validates a YAML suite. Event paths are resolved
// relative to the suite file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-supplied suite path is expected
	if err != nil {
		return nil, fmt.Errorf("reading suite: %w", err)
	}
	s, err := ParseSuite(data)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	for i, c := range s.Invocations {
		if c.Event == "" {
			continue
		}
		eventPath := c.Event
		if !filepath.IsAbs(eventPath) {
			eventPath = filepath.Join(dir, eventPath)
		}
		c.Payload, err = readEvent(eventPath)
		if err != nil {
			return nil, fmt.Errorf("invocation %d (%s): %w", i, c.Name, err)
		}
	}
	return s, nil
}

// ParseSuite decodes suite YAML and validates it. Cases that reference event
// files are left without a payload.
func ParseSuite(data []byte) (*Suite, error) {
	var s Suite
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("parsing suite: document is empty")
		}
		return nil, fmt.Errorf("parsing suite: %w", err)
	}
	if err := ValidateSuite(&s); err != nil {
		return nil, err
	}
	for _, c := range s.Invocations {
		if c.Inline == nil {
			continue
		}
		payload, err := json.Marshal(c.Inline)
		if err != nil {
			return nil, fmt.Errorf("invocation %s: encoding payload: %w", c.Name, err)
		}
		c.Payload = payload
	}
	return &s, nil
}

// ValidateSuite checks a suite for structural correctness.
func ValidateSuite(s *Suite) error {
	if len(s.Invocations) == 0 {
		return errors.New("suite has no invocations")
	}
	seen := make(map[string]bool, len(s.Invocations))
	for i, c := range s.Invocations {
		if c == nil {
			return fmt.Errorf("invocation %d is empty", i)
		}
		if c.Name == "" {
			c.Name = fmt.Sprintf("invocation-%d", i+1)
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate invocation name %q", c.Name)
		}
		seen[c.Name] = true

		switch {
		case c.Event == "" && c.Inline == nil:
			return fmt.Errorf("invocation %s: one of event or payload is required", c.Name)
		case c.Event != "" && c.Inline != nil:
			return fmt.Errorf("invocation %s: event and payload are mutually exclusive", c.Name)
		}
		if c.Status != 0 && (c.Status < 100 || c.Status > 599) {
			return fmt.Errorf("invocation %s: status %d is not a valid HTTP status", c.Name, c.Status)
		}
	}
	return nil
}

func readEvent(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-supplied event path is expected
	if err != nil {
		return nil, fmt.Errorf("reading event: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("event %s is not valid JSON", path)
	}
	return json.RawMessage(data), nil
}
