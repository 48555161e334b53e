package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/podcaster/internal/rpc"
)

// Names of the agents the pipeline drives.
const (
	FeedMonitor   = "feed-monitor"
	Transcription = "transcription"
	Translation   = "translation"
	TTS           = "tts"
)

// ErrUnknownAgent is returned for a name with no registered factory.
var ErrUnknownAgent = errors.New("agent: unknown agent")

// ConnectError reports that an agent could not be brought to Ready.
type ConnectError struct {
	Agent string
	Err   error
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("agent %s: connect failed", e.Agent)
	}
	return fmt.Sprintf("agent %s: connect failed: %v", e.Agent, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Spec describes how to start one agent.
type Spec struct {
	Name    string        `yaml:"name"`
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	Env     []string      `yaml:"env"`
	Dir     string        `yaml:"dir"`
	Timeout time.Duration `yaml:"timeout"`
}

type specFile struct {
	Agents []Spec `yaml:"agents"`
}

// LoadSpecs reads agent specs from a YAML file of the form
//
//	agents:
//	  - name: transcription
//	    command: /usr/local/bin/transcriber
//	    args: ["--stdio"]
//	    timeout: 2m
func LoadSpecs(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading agents file: %w", err)
	}
	var f specFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing agents file %s: %w", path, err)
	}
	for i, s := range f.Agents {
		if s.Name == "" || s.Command == "" {
			return nil, fmt.Errorf("agents file %s: entry %d needs name and command", path, i)
		}
	}
	return f.Agents, nil
}

// MergeSpecs returns base with entries replaced by overrides of the same name
// and any new overrides appended.
func MergeSpecs(base, overrides []Spec) []Spec {
	out := make([]Spec, len(base))
	copy(out, base)
	for _, o := range overrides {
		replaced := false
		for i := range out {
			if out[i].Name == o.Name {
				out[i] = o
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, o)
		}
	}
	return out
}

// Factory builds a fresh, unconnected client.
type Factory func() *Client

// Registry maps agent names to client factories. Every stage obtains its
// connection the same way through With.
type Registry struct {
	factories map[string]Factory
	order     []string
	logger    *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    slog.Default(),
	}
}

// FromSpecs builds a registry from specs. defaultTimeout applies to specs
// without their own timeout.
func FromSpecs(specs []Spec, defaultTimeout time.Duration) *Registry {
	r := NewRegistry()
	for _, s := range specs {
		timeout := s.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		cmd := rpc.Command{Path: s.Command, Args: s.Args, Env: s.Env, Dir: s.Dir}
		name := s.Name
		r.Register(name, func() *Client { return NewClient(name, cmd, timeout) })
	}
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	if _, ok := r.factories[name]; !ok {
		r.order = append(r.order, name)
	}
	r.factories[name] = f
}

// Names returns registered agent names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// New returns a fresh client for name.
func (r *Registry) New(name string) (*Client, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, name)
	}
	return f(), nil
}

// With connects a fresh client, runs fn, and disconnects on every path.
func (r *Registry) With(ctx context.Context, name string, fn func(Caller) error) error {
	c, err := r.New(name)
	if err != nil {
		return err
	}
	defer c.Disconnect()

	ok, err := c.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connecting %s: %w", name, err)
	}
	if !ok {
		return &ConnectError{Agent: name, Err: c.Err()}
	}
	return fn(c)
}

// Agent health statuses.
const (
	StatusAvailable = "available"
	StatusMissing   = "missing"
	StatusError     = "error"
)

// Overall health statuses.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthError    = "error"
)

// AgentHealth is the probe result for one agent.
type AgentHealth struct {
	Name           string   `json:"name"`
	Status         string   `json:"status"`
	Tools          []string `json:"tools,omitempty"`
	ResponseTimeMs int64    `json:"responseTimeMs"`
	Error          string   `json:"error,omitempty"`
}

// HealthReport aggregates the probes of all registered agents.
type HealthReport struct {
	Status string        `json:"status"`
	Agents []AgentHealth `json:"agents"`
}

// Health probes each agent in turn: connect, list tools, disconnect.
func (r *Registry) Health(ctx context.Context) HealthReport {
	report := HealthReport{Agents: make([]AgentHealth, 0, len(r.order))}
	available := 0

	for _, name := range r.order {
		h := r.probe(ctx, name)
		if h.Status == StatusAvailable {
			available++
		}
		report.Agents = append(report.Agents, h)
	}

	switch {
	case len(report.Agents) > 0 && available == len(report.Agents):
		report.Status = HealthHealthy
	case available > 0:
		report.Status = HealthDegraded
	default:
		report.Status = HealthError
	}
	return report
}

func (r *Registry) probe(ctx context.Context, name string) AgentHealth {
	h := AgentHealth{Name: name}
	c, err := r.New(name)
	if err != nil {
		h.Status = StatusError
		h.Error = err.Error()
		return h
	}
	if _, err := exec.LookPath(c.Command().Path); err != nil {
		h.Status = StatusMissing
		h.Error = err.Error()
		return h
	}

	start := time.Now()
	err = r.With(ctx, name, func(cl Caller) error {
		tools, err := cl.ListTools(ctx)
		if err != nil {
			return err
		}
		for _, t := range tools {
			h.Tools = append(h.Tools, t.Name)
		}
		sort.Strings(h.Tools)
		return nil
	})
	h.ResponseTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		h.Status = StatusError
		h.Error = err.Error()
		r.logger.Warn("agent health probe failed", "agent", name, "error", err)
		return h
	}
	h.Status = StatusAvailable
	return h
}
