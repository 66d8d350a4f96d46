/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"
)

type ApiConfig struct {
	Address   string  `yaml:"address,omitempty" json:"address,omitempty" toml:"address"`
	Port      int     `yaml:"port,omitempty" json:"port,omitempty" toml:"port"`
	RateLimit float64 `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty" toml:"rate_limit"`
	Burst     int     `yaml:"burst,omitempty" json:"burst,omitempty" toml:"burst"`
}

type CaptureConfig struct {
	// Ports are the TCP ports carrying TPKT framed traffic
	Ports    []int `yaml:"ports,omitempty" json:"ports,omitempty" toml:"ports"`
	MaxDepth int   `yaml:"maxDepth,omitempty" json:"maxDepth,omitempty" toml:"max_depth"`
	// Dir is the only directory the API replays capture files from
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty" toml:"dir"`
}

// Syntax binds an abstract syntax OID to one of the built-in decoders
type Syntax struct {
	OID      string `yaml:"oid" json:"oid" toml:"oid"`
	Protocol string `yaml:"protocol" json:"protocol" toml:"protocol"`
	Name     string `yaml:"name,omitempty" json:"name,omitempty" toml:"name"`
	// Operations names a built-in ROSE operation set, only used for rose
	Operations string `yaml:"operations,omitempty" json:"operations,omitempty" toml:"operations"`
}

// StaticContext is a presentation context binding seeded into every conversation.
// It is used for captures that do not contain the connect exchange.
type StaticContext struct {
	ID  int64  `yaml:"id" json:"id" toml:"id"`
	OID string `yaml:"oid" json:"oid" toml:"oid"`
}

type Config struct {
	LogLevel  string           `yaml:"logLevel,omitempty" json:"logLevel,omitempty" toml:"log_level"`
	DBPath    string           `yaml:"dbPath,omitempty" json:"dbPath,omitempty" toml:"db_path"`
	Api       *ApiConfig       `yaml:"api,omitempty" json:"api,omitempty" toml:"api"`
	Capture   *CaptureConfig   `yaml:"capture,omitempty" json:"capture,omitempty" toml:"capture"`
	Syntaxes  []*Syntax        `yaml:"syntaxes,omitempty" json:"syntaxes,omitempty" toml:"syntaxes"`
	Contexts  []*StaticContext `yaml:"contexts,omitempty" json:"contexts,omitempty" toml:"contexts"`
	Fallbacks []string         `yaml:"fallbacks,omitempty" json:"fallbacks,omitempty" toml:"fallbacks"`
	filepath  string
}

func (c *Config) Path() string {
	return c.filepath
}

func (c *Config) SetPath(path string) {
	c.filepath = path
}

func (c *Config) Persist(overwrite bool) error {
	if _, err := os.Stat(c.filepath); err == nil && !overwrite {
		return ErrConfigFileExists{Path: c.filepath}
	}

	data, err := c.Marshal()
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.filepath)
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}

	return os.WriteFile(c.filepath, data, 0644)
}

func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// LoadConfig reads the config file. Files with the .toml extension are parsed as TOML,
// everything else as YAML.
func (c *Config) LoadConfig() error {
	data, err := os.ReadFile(c.filepath)
	if err != nil {
		return err
	}
	if strings.EqualFold(filepath.Ext(c.filepath), ".toml") {
		if _, err := toml.Decode(string(data), c); err != nil {
			return err
		}
	} else if err := yaml.Unmarshal(data, c); err != nil {
		return err
	}
	return c.Validate()
}

// Load loads the config file if it exists and keeps the defaults otherwise
func (c *Config) Load() error {
	err := c.LoadConfig()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (c *Config) Validate() error {
	if c.Api == nil {
		c.Api = defaultApiConfig()
	}
	if c.Capture == nil {
		c.Capture = defaultCaptureConfig()
	}
	if c.Capture.MaxDepth <= 0 {
		c.Capture.MaxDepth = DefaultMaxDepth
	}
	if c.Capture.Dir == "" {
		c.Capture.Dir = DefaultCaptureDir()
	}
	for _, s := range c.Syntaxes {
		if s.OID == "" {
			return ErrInvalidConfig{What: "syntax without oid"}
		}
		switch s.Protocol {
		case ProtocolACSE, ProtocolROSE, ProtocolRaw:
		default:
			return ErrInvalidConfig{What: fmt.Sprintf("unknown protocol %q for %s", s.Protocol, s.OID)}
		}
	}
	for _, ctx := range c.Contexts {
		if ctx.OID == "" {
			return ErrInvalidConfig{What: fmt.Sprintf("context %d without oid", ctx.ID)}
		}
	}
	return nil
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return filepath.Join(home, ConfigDir, ConfigFile)
}

func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return filepath.Join(home, ConfigDir, DBFile)
}

func DefaultCaptureDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return filepath.Join(home, ConfigDir, CaptureDir)
}

func defaultApiConfig() *ApiConfig {
	return &ApiConfig{
		Address:   DefaultApiAddress,
		Port:      DefaultApiPort,
		RateLimit: DefaultApiRateLimit,
		Burst:     DefaultApiBurst,
	}
}

func defaultCaptureConfig() *CaptureConfig {
	return &CaptureConfig{
		Ports:    []int{DefaultTransportPort},
		MaxDepth: DefaultMaxDepth,
		Dir:      DefaultCaptureDir(),
	}
}

func NewDefaultConfig() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		DBPath:   DefaultDBPath(),
		Api:      defaultApiConfig(),
		Capture:  defaultCaptureConfig(),
		Syntaxes: []*Syntax{
			{
				OID:      ACSEAbstractSyntax,
				Protocol: ProtocolACSE,
				Name:     "acse",
			},
			{
				OID:        DAPAbstractSyntax,
				Protocol:   ProtocolROSE,
				Name:       "dap",
				Operations: "dap",
			},
			{
				OID:        DSPAbstractSyntax,
				Protocol:   ProtocolROSE,
				Name:       "dsp",
				Operations: "dap",
			},
		},
		filepath: DefaultConfigPath(),
	}
}
