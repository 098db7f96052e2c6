package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvBaseURL overrides settings.baseUrl when set.
const EnvBaseURL = "BASE_URL"

// LoadConfig loads a test configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var config TestConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	return &config, nil
}

// LoadEnv reads KEY=value pairs from the given .env files into the process
// environment without overriding variables that are already set. With no
// arguments it reads ./.env. Missing files are not an error.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv applies environment overrides to the config.
func (c *TestConfig) ApplyEnv() {
	if v, ok := os.LookupEnv(EnvBaseURL); ok && strings.TrimSpace(v) != "" {
		c.Settings.BaseURL = strings.TrimSpace(v)
	}
}

// ApplyDefaults fills in unset fields.
func (c *TestConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "load-test"
	}
	if c.Settings.BaseURL == "" {
		c.Settings.BaseURL = DefaultBaseURL
	}
	c.Settings.BaseURL = strings.TrimRight(c.Settings.BaseURL, "/")
	if c.Settings.Timeout == 0 {
		c.Settings.Timeout = Duration(DefaultTimeout)
	}
	if c.Settings.GracefulStop == 0 {
		c.Settings.GracefulStop = Duration(DefaultGracefulStop)
	}
	if c.Settings.Output == "" {
		c.Settings.Output = DefaultOutput
	}

	for _, sc := range c.Scenarios {
		if sc == nil {
			continue
		}
		if sc.Executor == "" {
			sc.Executor = ExecutorConstantArrivalRate
		}
		if sc.TimeUnit == 0 {
			sc.TimeUnit = Duration(DefaultTimeUnit)
		}
		if sc.PreAllocatedVUs <= 0 {
			sc.PreAllocatedVUs = 1
		}
		if sc.MaxVUs < sc.PreAllocatedVUs {
			sc.MaxVUs = sc.PreAllocatedVUs
		}
		if sc.Timeout == 0 {
			sc.Timeout = c.Settings.Timeout
		}
		if sc.GracefulStop == 0 {
			sc.GracefulStop = c.Settings.GracefulStop
		}
		if sc.Exec == "" && sc.Request != nil {
			sc.Exec = "request"
		}
		if sc.Request != nil && sc.Request.Method == "" {
			sc.Request.Method = "GET"
		}
	}
}

// ScenarioNames returns the scenario names in sorted order.
func (c *TestConfig) ScenarioNames() []string {
	names := make([]string, 0, len(c.Scenarios))
	for name := range c.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of the config.
func (c *TestConfig) Clone() *TestConfig {
	out := *c
	out.Settings.Headers = cloneMap(c.Settings.Headers)

	out.Scenarios = make(map[string]*ScenarioConfig, len(c.Scenarios))
	for name, sc := range c.Scenarios {
		if sc == nil {
			out.Scenarios[name] = nil
			continue
		}
		cp := *sc
		cp.Tags = cloneMap(sc.Tags)
		if sc.Request != nil {
			req := *sc.Request
			req.Headers = cloneMap(sc.Request.Headers)
			req.Checks = append([]CheckConfig(nil), sc.Request.Checks...)
			cp.Request = &req
		}
		out.Scenarios[name] = &cp
	}

	if c.Thresholds != nil {
		out.Thresholds = make(map[string][]string, len(c.Thresholds))
		for k, v := range c.Thresholds {
			out.Thresholds[k] = append([]string(nil), v...)
		}
	}
	return &out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
