// Package config holds the compiler flags that steer lowering decisions.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable consulted for a config file path.
const EnvVar = "OPTO_CONFIG"

// ExpandLimitCap bounds MultiArrayExpandLimit regardless of configuration.
const ExpandLimitCap = 100

type Options struct {
	// MultiArrayExpandLimit is the largest number of sub-array allocations a
	// multianewarray may be expanded into instead of calling the runtime.
	MultiArrayExpandLimit int `yaml:"multiArrayExpandLimit"`
	// AlwaysAtomicAccesses makes every field load and store atomic.
	AlwaysAtomicAccesses bool `yaml:"alwaysAtomicAccesses"`
	// SupportIRIW moves the fat barrier of volatile accesses in front of
	// volatile loads, as needed on CPUs that are not multiple-copy atomic.
	SupportIRIW bool `yaml:"supportIRIWForNotMultipleCopyAtomicCPU"`
	// DebugAssertions turns contract violations into panics.
	DebugAssertions bool `yaml:"debugAssertions"`
	PrintOpto       bool `yaml:"printOpto"`
	Verbose         bool `yaml:"verbose"`
	// LogDB is a sqlite file that receives the compile log when set.
	LogDB string `yaml:"logDB"`
}

func Default() Options {
	return Options{MultiArrayExpandLimit: ExpandLimitCap}
}

// ExpandLimit is the effective multianewarray expansion limit.
func (o Options) ExpandLimit() int {
	if o.MultiArrayExpandLimit < ExpandLimitCap {
		return o.MultiArrayExpandLimit
	}
	return ExpandLimitCap
}

func (o Options) Validate() error {
	if o.MultiArrayExpandLimit < 0 {
		return fmt.Errorf("multiArrayExpandLimit must not be negative: %d", o.MultiArrayExpandLimit)
	}
	return nil
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (Options, error) {
	opts := Default()
	if len(data) == 0 {
		return opts, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return opts, fmt.Errorf("config: %w", err)
	}
	if len(doc.Content) == 0 {
		return opts, nil
	}
	if err := checkKeys(doc.Content[0]); err != nil {
		return opts, err
	}
	if err := doc.Content[0].Decode(&opts); err != nil {
		return opts, fmt.Errorf("config: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return opts, fmt.Errorf("config: %w", err)
	}
	return opts, nil
}

var knownKeys = map[string]bool{
	"multiArrayExpandLimit":                  true,
	"alwaysAtomicAccesses":                   true,
	"supportIRIWForNotMultipleCopyAtomicCPU": true,
	"debugAssertions":                        true,
	"printOpto":                              true,
	"verbose":                                true,
	"logDB":                                  true,
}

func checkKeys(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("config: %d:%d: expected a mapping", n.Line, n.Column)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k := n.Content[i]
		if !knownKeys[k.Value] {
			return fmt.Errorf("config: %d:%d: unknown key %q", k.Line, k.Column, k.Value)
		}
	}
	return nil
}

func Load(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), err
	}
	return Parse(data)
}

// FromEnv loads the file named by OPTO_CONFIG, or returns the defaults when the
// variable is unset.
func FromEnv() (Options, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}
