// Package agents holds the registry of AI agents (personas with a system
// prompt and tool permissions) and the language model provider settings.
package agents

import (
	_ "embed"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// ID identifies an agent. The set is closed.
type ID string

const (
	Ida   ID = "ida"
	Astra ID = "astra"
	Ember ID = "ember"

	DefaultID = Ida
)

// IDs lists every known agent id in display order.
var IDs = []ID{Ida, Astra, Ember}

// Valid reports whether id names a known agent.
func Valid(id string) bool {
	for _, known := range IDs {
		if string(known) == id {
			return true
		}
	}
	return false
}

// Tool is a capability an agent may invoke.
type Tool string

const (
	ToolCreateDocument          Tool = "createDocument"
	ToolUpdateDocument          Tool = "updateDocument"
	ToolRequestSuggestions      Tool = "requestSuggestions"
	ToolReadGoogleMeetRecording Tool = "readGoogleMeetRecording"
)

var knownTools = []any{
	ToolCreateDocument,
	ToolUpdateDocument,
	ToolRequestSuggestions,
	ToolReadGoogleMeetRecording,
}

// Agent is one persona.
type Agent struct {
	ID          ID     `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Role        string `yaml:"role" json:"role"`
	Description string `yaml:"description" json:"description"`
	Color       string `yaml:"color" json:"color"`
	Icon        string `yaml:"icon" json:"icon"`
	Model       string `yaml:"model" json:"model"`
	Tools       []Tool `yaml:"tools" json:"tools"`
	Prompt      string `yaml:"prompt" json:"-"`
}

// CanUse reports whether the agent is allowed to call tool.
func (a Agent) CanUse(tool Tool) bool {
	for _, t := range a.Tools {
		if t == tool {
			return true
		}
	}
	return false
}

func (a Agent) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.ID, validation.Required, validation.By(func(value any) error {
			if !Valid(string(value.(ID))) {
				return fmt.Errorf("unknown agent id %q", value)
			}
			return nil
		})),
		validation.Field(&a.Name, validation.Required),
		validation.Field(&a.Model, validation.Required),
		validation.Field(&a.Prompt, validation.Required),
		validation.Field(&a.Tools, validation.Each(validation.In(knownTools...))),
	)
}

type registryFile struct {
	Default ID                           `yaml:"default"`
	Models  map[string]map[string]string `yaml:"models"`
	Agents  []Agent                      `yaml:"agents"`
}

// Registry is the loaded set of agents plus the model table per provider
// mode.
type Registry struct {
	defaultID ID
	order     []ID
	agents    map[ID]Agent
	models    map[string]map[string]string
}

//go:embed agents.yaml
var registryYAML []byte

// Load parses the registry shipped with the binary.
func Load() (*Registry, error) {
	return Parse(registryYAML)
}

// Parse decodes and validates a registry document.
func Parse(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal agent registry: %w", err)
	}

	r := &Registry{
		defaultID: file.Default,
		agents:    make(map[ID]Agent, len(file.Agents)),
		models:    file.Models,
	}
	for i, a := range file.Agents {
		a.Prompt = strings.TrimSpace(a.Prompt)
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("agent %d (%s): %w", i, a.ID, err)
		}
		if _, dup := r.agents[a.ID]; dup {
			return nil, fmt.Errorf("agent %s defined twice", a.ID)
		}
		r.agents[a.ID] = a
		r.order = append(r.order, a.ID)
	}
	if r.defaultID == "" {
		r.defaultID = DefaultID
	}
	if _, ok := r.agents[r.defaultID]; !ok {
		return nil, fmt.Errorf("default agent %s is not defined", r.defaultID)
	}
	return r, nil
}

// Lookup returns the agent for id.
func (r *Registry) Lookup(id ID) (Agent, bool) {
	a, ok := r.agents[id]
	return a, ok
}

// Default returns the agent used when a conversation names none.
func (r *Registry) Default() Agent {
	return r.agents[r.defaultID]
}

// List returns agents in registry order.
func (r *Registry) List() []Agent {
	out := make([]Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}
