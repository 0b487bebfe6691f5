package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/stemsi/exstem-proctor/internal/proctor"
	"gopkg.in/yaml.v3"
)

// PolicyFile is the optional YAML override of the proctoring policy.
//
//	short_grace: 1s
//	long_grace: 3s
//	auto_submit_delay: 3s
//	escalation_mode: global
//	messages:
//	  warning: "%s detected. One more violation will submit your quiz."
type PolicyFile struct {
	ShortGrace      *time.Duration `yaml:"short_grace"`
	LongGrace       *time.Duration `yaml:"long_grace"`
	AutoSubmitDelay *time.Duration `yaml:"auto_submit_delay"`
	EscalationMode  string         `yaml:"escalation_mode"`
	Messages        struct {
		Warning    string `yaml:"warning"`
		Notice     string `yaml:"notice"`
		Terminated string `yaml:"terminated"`
	} `yaml:"messages"`
}

// LoadPolicyFile reads and decodes a policy file.
func LoadPolicyFile(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var pf PolicyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("decode policy file: %w", err)
	}
	return &pf, nil
}

// Proctor builds the proctor configuration from the environment, applying
// the policy file on top when one is configured.
func (c *Config) Proctor() (proctor.Config, error) {
	pc := proctor.DefaultConfig()
	pc.ShortGrace = c.ShortGrace
	pc.LongGrace = c.LongGrace
	pc.AutoSubmitDelay = c.AutoSubmitDelay

	mode := c.EscalationMode
	if c.PolicyFile != "" {
		pf, err := LoadPolicyFile(c.PolicyFile)
		if err != nil {
			return proctor.Config{}, err
		}
		pf.apply(&pc)
		if pf.EscalationMode != "" {
			mode = pf.EscalationMode
		}
	}

	m, err := proctor.ParseEscalationMode(mode)
	if err != nil {
		return proctor.Config{}, err
	}
	pc.Mode = m

	for name, msg := range map[string]string{
		"warning":    pc.Messages.Warning,
		"notice":     pc.Messages.Notice,
		"terminated": pc.Messages.Terminated,
	} {
		if strings.Count(msg, "%s") != 1 {
			return proctor.Config{}, fmt.Errorf("message %q must contain exactly one %%s", name)
		}
	}
	return pc, nil
}

func (pf *PolicyFile) apply(pc *proctor.Config) {
	if pf.ShortGrace != nil {
		pc.ShortGrace = *pf.ShortGrace
	}
	if pf.LongGrace != nil {
		pc.LongGrace = *pf.LongGrace
	}
	if pf.AutoSubmitDelay != nil {
		pc.AutoSubmitDelay = *pf.AutoSubmitDelay
	}
	if pf.Messages.Warning != "" {
		pc.Messages.Warning = pf.Messages.Warning
	}
	if pf.Messages.Notice != "" {
		pc.Messages.Notice = pf.Messages.Notice
	}
	if pf.Messages.Terminated != "" {
		pc.Messages.Terminated = pf.Messages.Terminated
	}
}
