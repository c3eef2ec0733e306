// Package config loads the luamon configuration file.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds luamon settings.
type Config struct {
	Script   string        `yaml:"script" description:"Lua script defining update() (relative to the config file)" default:"monitor.lua"`
	Interval time.Duration `yaml:"interval" description:"Time between update() calls" default:"1s"`
	Watch    bool          `yaml:"watch" description:"Reload the script when it changes" default:"true"`
	LogLevel string        `yaml:"log_level" description:"Minimum log level (debug, info, warn, error)" default:"info"`
	Stdlib   bool          `yaml:"stdlib" description:"Open the Lua standard libraries" default:"true"`

	Exec ExecConfig `yaml:"exec" description:"Settings for exec() and execi()"`
}

// ExecConfig holds settings for commands run by scripts.
type ExecConfig struct {
	Shell   string        `yaml:"shell" description:"Shell used to run commands" default:"/bin/sh"`
	Timeout time.Duration `yaml:"timeout" description:"Maximum run time of one command" default:"5s"`
}

// DefaultConfig returns the configuration used when no file exists. The
// values come from the default tags of Config.
func DefaultConfig() Config {
	var c Config
	if err := applyDefaults(reflect.ValueOf(&c).Elem()); err != nil {
		panic(err)
	}
	return c
}

// applyDefaults decodes each default tag in v as YAML into its field,
// descending into nested structs.
func applyDefaults(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Type.Kind() == reflect.Struct {
			if err := applyDefaults(v.Field(i)); err != nil {
				return err
			}
			continue
		}
		def, ok := field.Tag.Lookup("default")
		if !ok {
			continue
		}
		if err := yaml.Unmarshal([]byte(def), v.Field(i).Addr().Interface()); err != nil {
			return fmt.Errorf("bad default for %s: %w", field.Name, err)
		}
	}
	return nil
}

// Reference writes a markdown table of the configuration keys with their
// types, defaults and descriptions.
func Reference(w io.Writer) {
	fmt.Fprintln(w, "| Key | Type | Default | Description |")
	fmt.Fprintln(w, "|-----|------|---------|-------------|")
	writeFields(w, reflect.TypeFor[Config](), "")
}

func writeFields(w io.Writer, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := strings.Split(field.Tag.Get("yaml"), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		if prefix != "" {
			name = prefix + "." + name
		}

		desc := field.Tag.Get("description")
		if desc == "" {
			desc = "(no description)"
		}
		if field.Type.Kind() == reflect.Struct {
			fmt.Fprintf(w, "| `%s` | object | (none) | %s |\n", name, desc)
			writeFields(w, field.Type, name)
			continue
		}

		def := field.Tag.Get("default")
		if def == "" {
			def = "(none)"
		}
		typeName := field.Type.String()
		if field.Type == reflect.TypeFor[time.Duration]() {
			typeName = "duration"
		}
		fmt.Fprintf(w, "| `%s` | %s | `%s` | %s |\n", name, typeName, def, desc)
	}
}

// Load reads the configuration at path on top of the defaults. A missing
// file yields the defaults. A relative script path is resolved against the
// directory of the configuration file.
func Load(path string) (Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	if !filepath.IsAbs(config.Script) {
		config.Script = filepath.Join(filepath.Dir(path), config.Script)
	}
	return config, nil
}

// Validate checks values that have no usable default.
func (c Config) Validate() error {
	if c.Script == "" {
		return fmt.Errorf("script must not be empty")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("invalid interval %s (must be positive)", c.Interval)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level '%s' (must be debug, info, warn, or error)", c.LogLevel)
	}
	if c.Exec.Shell == "" {
		return fmt.Errorf("exec.shell must not be empty")
	}
	if c.Exec.Timeout < 0 {
		return fmt.Errorf("invalid exec.timeout %s", c.Exec.Timeout)
	}
	return nil
}
