// Package config handles .pytracerc.yml project-level configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jaredpalmer/pytrace/pkg/trace"
)

// ProjectConfig represents the .pytracerc.yml configuration file. Pointer
// fields distinguish "unset" from an explicit false/zero.
type ProjectConfig struct {
	Version             int      `yaml:"version"`
	Ignore              []string `yaml:"ignore"`
	SearchRoots         []string `yaml:"search_roots"`
	Python              string   `yaml:"python"`
	IncludeStdlib       *bool    `yaml:"include_stdlib"`
	IncludeSitePackages *bool    `yaml:"include_site_packages"`
	AnalyzeDynamic      *bool    `yaml:"analyze_dynamic"`
	FollowSymlinks      *bool    `yaml:"follow_symlinks"`
	UseGitignore        *bool    `yaml:"gitignore"`
	MaxDepth            int      `yaml:"max_depth"`
	Concurrency         int64    `yaml:"concurrency"`
	SubprocessTimeout   string   `yaml:"subprocess_timeout"`
}

// LoadProjectConfig loads project configuration from .pytracerc.yml or
// .pytracerc.yaml. If explicitPath is provided (from --config), that file
// is loaded. Returns nil (no error) if no config file is found.
func LoadProjectConfig(dir string, explicitPath string) (*ProjectConfig, error) {
	var configPath string

	if explicitPath != "" {
		configPath = explicitPath
	} else {
		ymlPath := filepath.Join(dir, ".pytracerc.yml")
		yamlPath := filepath.Join(dir, ".pytracerc.yaml")

		if _, err := os.Stat(ymlPath); err == nil {
			configPath = ymlPath
		} else if _, err := os.Stat(yamlPath); err == nil {
			configPath = yamlPath
		} else {
			return nil, nil // No config found, use defaults
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read project config %s: %w", configPath, err)
	}

	cfg := &ProjectConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse project config %s: %w", configPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid project config %s: %w", configPath, err)
	}

	return cfg, nil
}

// Validate checks that the ProjectConfig values are valid.
func (c *ProjectConfig) Validate() error {
	if c.Version != 0 && c.Version != 1 {
		return fmt.Errorf("unsupported config version %d (expected 1)", c.Version)
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be >= 0, got %d", c.MaxDepth)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must be >= 0, got %d", c.Concurrency)
	}
	if c.SubprocessTimeout != "" {
		if _, err := time.ParseDuration(c.SubprocessTimeout); err != nil {
			return fmt.Errorf("subprocess_timeout: %w", err)
		}
	}
	return nil
}

// ApplyToOptions layers config values onto trace options. Only set fields
// override; CLI flags the user passed explicitly are applied after this
// and therefore win.
func (c *ProjectConfig) ApplyToOptions(opts *trace.Options) {
	if c == nil || opts == nil {
		return
	}

	opts.Ignore = append(opts.Ignore, c.Ignore...)
	opts.ExtraSearchRoots = append(opts.ExtraSearchRoots, c.SearchRoots...)

	if c.Python != "" {
		opts.RuntimeLocator = c.Python
	}
	if c.IncludeStdlib != nil {
		opts.IncludeStdlib = *c.IncludeStdlib
	}
	if c.IncludeSitePackages != nil {
		opts.IncludeSitePackages = *c.IncludeSitePackages
	}
	if c.AnalyzeDynamic != nil {
		opts.AnalyzeDynamic = *c.AnalyzeDynamic
	}
	if c.FollowSymlinks != nil {
		opts.FollowSymlinks = *c.FollowSymlinks
	}
	if c.UseGitignore != nil {
		opts.UseGitignore = *c.UseGitignore
	}
	if c.MaxDepth > 0 {
		opts.MaxDepth = c.MaxDepth
	}
	if c.Concurrency > 0 {
		opts.FileIOConcurrency = c.Concurrency
	}
	if c.SubprocessTimeout != "" {
		if d, err := time.ParseDuration(c.SubprocessTimeout); err == nil {
			opts.SubprocessTimeout = d
		}
	}
}
