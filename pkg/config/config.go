// Package config provides YAML-based configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Validator is an interface for configuration validation.
type Validator interface {
	Validate() error
}

type loader struct {
	optional  bool
	envPrefix string
	environ   []string
}

// Option tunes Load.
type Option func(*loader)

// Optional makes a missing file leave target at its defaults.
func Optional() Option {
	return func(l *loader) { l.optional = true }
}

// WithEnvPrefix overlays PREFIX_<SECTION>__<KEY>=value variables onto the
// loaded document. Double underscores separate nesting levels and keys are
// matched lowercased, so DVPIPE_APP__HTTP__PORT sets app.http.port.
func WithEnvPrefix(prefix string) Option {
	return func(l *loader) { l.envPrefix = prefix }
}

// WithEnviron replaces os.Environ() as the source of overrides.
func WithEnviron(env []string) Option {
	return func(l *loader) { l.environ = env }
}

// Load loads configuration from a YAML file with environment variable expansion.
func Load[T any](filename string, target *T, opts ...Option) error {
	l := &loader{}
	for _, opt := range opts {
		opt(l)
	}

	data, err := os.ReadFile(filename)
	switch {
	case err == nil:
		expandedData := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expandedData), target); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", filename, err)
		}
	case l.optional && errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	if l.envPrefix != "" {
		env := l.environ
		if env == nil {
			env = os.Environ()
		}
		if err := Overlay(l.envPrefix, env, target); err != nil {
			return err
		}
	}

	if validator, ok := any(target).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}

	return nil
}

// Overlay decodes the prefixed variables of env onto target. Values are
// resolved as plain YAML scalars, so "8081" sets an int and "true" a bool.
func Overlay(prefix string, env []string, target any) error {
	prefix = strings.TrimSuffix(prefix, "_") + "_"
	root := &yaml.Node{Kind: yaml.MappingNode}
	var keys []string
	values := make(map[string]string)
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, prefix) {
			continue
		}
		path := strings.ToLower(strings.TrimPrefix(k, prefix))
		if path == "" {
			continue
		}
		keys = append(keys, path)
		values[path] = v
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	for _, path := range keys {
		if err := setPath(root, strings.Split(path, "__"), values[path]); err != nil {
			return fmt.Errorf("config: env %s%s: %w", prefix, strings.ToUpper(path), err)
		}
	}
	if err := root.Decode(target); err != nil {
		return fmt.Errorf("config: apply %s* overrides: %w", prefix, err)
	}
	return nil
}

func setPath(n *yaml.Node, path []string, value string) error {
	key := path[0]
	if key == "" {
		return errors.New("empty key segment")
	}
	var child *yaml.Node
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			child = n.Content[i+1]
			break
		}
	}
	if len(path) == 1 {
		if child != nil {
			return errors.New("set twice")
		}
		n.Content = append(n.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: key},
			&yaml.Node{Kind: yaml.ScalarNode, Value: value})
		return nil
	}
	if child == nil {
		child = &yaml.Node{Kind: yaml.MappingNode}
		n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, child)
	}
	if child.Kind != yaml.MappingNode {
		return fmt.Errorf("%s is a value, not a section", key)
	}
	return setPath(child, path[1:], value)
}
