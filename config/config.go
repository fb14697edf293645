// Package config loads Loop configuration from YAML, grounded on the
// root/vmi_config two-section document shape used by
// bgp59-victoriametrics-importer's internal config package: a named
// top-level section maps onto a typed struct while the rest of the
// document is left for caller-specific extensions.
package config

import (
	"fmt"
	"io"
	"os"

	"github.com/loopkit/evloop"
	"gopkg.in/yaml.v3"
)

const sectionName = "loop_config"

// LoopConfig is the subset of Loop construction options that make sense to
// externalize into a config file: whether debug tracing is enabled, and the
// selector sizing knobs named in SPEC_FULL.md §3.
type LoopConfig struct {
	// Debug enables verbose scheduling traces (spec.md §6).
	Debug bool `yaml:"debug"`

	// FDTableCapacity hints the selector's fd table's initial capacity.
	// Zero leaves it to the map's default growth.
	FDTableCapacity int `yaml:"fd_table_capacity"`

	// EventBatchSize bounds how many ready events a single epoll_wait call
	// can return per Select. Zero uses the selector's default batch size.
	EventBatchSize int `yaml:"event_batch_size"`
}

// DefaultLoopConfig returns the configuration a Loop uses absent any
// overrides.
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{
		Debug:           false,
		FDTableCapacity: 0,
		EventBatchSize:  0,
	}
}

// Options translates the loaded config into evloop.Loop construction
// options, so callers can do `evloop.New(cfg.Options()...)` directly.
func (c *LoopConfig) Options() []evloop.Option {
	return []evloop.Option{
		evloop.WithDebug(c.Debug),
		evloop.WithSelectorSizing(c.FDTableCapacity, c.EventBatchSize),
	}
}

// Load reads a loop_config section from the YAML file at path. Non-present
// keys in the section keep their default values.
func Load(path string) (*LoopConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, evloop.WrapError(fmt.Sprintf("file: %q", path), err)
	}
	defer f.Close()
	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, evloop.WrapError(fmt.Sprintf("file: %q", path), err)
	}
	return LoadBytes(path, buf)
}

// LoadBytes is Load's testable core: it parses buf directly rather than
// reading from disk.
func LoadBytes(name string, buf []byte) (*LoopConfig, error) {
	docNode := yaml.Node{}
	if err := yaml.Unmarshal(buf, &docNode); err != nil {
		return nil, evloop.WrapError(fmt.Sprintf("file: %q", name), err)
	}

	cfg := DefaultLoopConfig()
	if docNode.Kind != yaml.DocumentNode || len(docNode.Content) == 0 {
		return cfg, nil
	}
	rootNode := docNode.Content[0]
	if rootNode.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("file: %q: invalid YAML root node %q", name, rootNode.Tag)
	}

	var pending bool
	for _, n := range rootNode.Content {
		if n.Kind == yaml.ScalarNode {
			pending = n.Value == sectionName
			continue
		}
		if n.Kind == yaml.MappingNode && pending {
			if err := n.Decode(cfg); err != nil {
				return nil, evloop.WrapError(fmt.Sprintf("file: %q", name), err)
			}
		}
		pending = false
	}
	return cfg, nil
}
