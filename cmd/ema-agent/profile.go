package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/koscakluka/ema-graph/core/bridges"
	"github.com/koscakluka/ema-graph/core/nodes"
	"gopkg.in/yaml.v3"
)

const (
	agentChat    = "chat"
	agentEcho    = "echo"
	agentCounter = "counter"

	defaultSystemPrompt = "You are a friendly voice assistant. Keep answers short and conversational. Use the end_call tool when the caller says goodbye."
)

// Profile describes the agent served for every call.
type Profile struct {
	Agent           string        `yaml:"agent"`
	SystemPrompt    string        `yaml:"system_prompt"`
	InitialMessage  string        `yaml:"initial_message"`
	BusyPolicy      string        `yaml:"busy_policy"`
	InterruptPolicy string        `yaml:"interrupt_policy"`
	MaxContext      int           `yaml:"max_context"`
	Delay           time.Duration `yaml:"delay"`
	MaxCount        int           `yaml:"max_count"`
	// TransferTargets lets the chat agent hand calls over to these targets.
	TransferTargets []string `yaml:"transfer_targets"`

	// RejectNumbers lists destinations the agent refuses to call.
	RejectNumbers []string `yaml:"reject_numbers"`
	// Callers customizes calls per destination number.
	Callers map[string]CallerProfile `yaml:"callers"`
	// DefaultCaller applies to destinations not listed in Callers.
	DefaultCaller *CallerProfile `yaml:"default_caller"`
}

type CallerProfile struct {
	ExtraPrompt string         `yaml:"extra_prompt"`
	Config      map[string]any `yaml:"config"`
}

func defaultProfile() *Profile {
	return &Profile{
		Agent:          agentChat,
		SystemPrompt:   defaultSystemPrompt,
		InitialMessage: "Hi there! How can I help you today?",
	}
}

// LoadProfile reads a profile from path. An empty path yields the default
// chat profile.
func LoadProfile(path string) (*Profile, error) {
	profile := defaultProfile()
	if path == "" {
		return profile, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if err := profile.validate(); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}
	return profile, nil
}

func (p *Profile) validate() error {
	var errs []error
	switch p.Agent {
	case agentChat, agentEcho, agentCounter:
	default:
		errs = append(errs, fmt.Errorf("unknown agent %q", p.Agent))
	}
	if _, err := p.busyPolicy(); err != nil {
		errs = append(errs, err)
	}
	if _, err := p.interruptPolicy(); err != nil {
		errs = append(errs, err)
	}
	if p.MaxContext < 0 {
		errs = append(errs, fmt.Errorf("negative max_context %d", p.MaxContext))
	}
	return errors.Join(errs...)
}

func (p *Profile) busyPolicy() (bridges.BusyPolicy, error) {
	if p.BusyPolicy == "" {
		return bridges.Drop, nil
	}
	policy, ok := bridges.ParseBusyPolicy(p.BusyPolicy)
	if !ok {
		return bridges.Drop, fmt.Errorf("unknown busy_policy %q", p.BusyPolicy)
	}
	return policy, nil
}

func (p *Profile) interruptPolicy() (nodes.InterruptPolicy, error) {
	switch p.InterruptPolicy {
	case "", "keep_partial":
		return nodes.KeepPartial, nil
	case "drop_partial":
		return nodes.DropPartial, nil
	default:
		return nodes.KeepPartial, fmt.Errorf("unknown interrupt_policy %q", p.InterruptPolicy)
	}
}
