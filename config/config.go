// Copyright 2026 The A3s Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and structurally validates A3sfile.hcl into the
// immutable Config model of spec.md §3, the "out of scope... specified
// only as collaborator" loader SPEC_FULL.md still builds because the
// core cannot run without one. The document shape and validation rules
// (port conflicts skip port-0/disabled services, env_file merges under
// env with env winning, unknown/disabled depends_on is an error) are
// grounded on original_source/src/config.rs's DevConfig/validate, ported
// from hcl-rs's tag-based deserialization to hashicorp/hcl/v2/hclsimple's
// Go struct tags.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/a3s-dev/a3s/errorkit"
	"github.com/a3s-dev/a3s/health"
	"github.com/a3s-dev/a3s/supervisor"
	"github.com/a3s-dev/a3s/watch"
	"github.com/hashicorp/hcl/v2/hclsimple"
)

// DefaultProxyPort and DefaultUIPort mirror original_source's
// default_proxy_port and spec.md §4.7's "default 10350".
const (
	DefaultProxyPort = 7080
	DefaultUIPort    = 10350
)

// document is the raw HCL shape of A3sfile.hcl, decoded with hclsimple
// before being translated into supervisor.Spec values.
type document struct {
	Dev      *devBlock      `hcl:"dev,block"`
	Services []serviceBlock `hcl:"service,block"`
}

type devBlock struct {
	ProxyPort int    `hcl:"proxy_port,optional"`
	LogLevel  string `hcl:"log_level,optional"`
}

type serviceBlock struct {
	Name      string            `hcl:"name,label"`
	Cmd       string            `hcl:"cmd"`
	Dir       string            `hcl:"dir,optional"`
	Port      int               `hcl:"port,optional"`
	Subdomain string            `hcl:"subdomain,optional"`
	DependsOn []string          `hcl:"depends_on,optional"`
	Env       map[string]string `hcl:"env,optional"`
	EnvFile   string            `hcl:"env_file,optional"`
	Disabled  bool              `hcl:"disabled,optional"`
	Watch     *watchBlock       `hcl:"watch,block"`
	Health    *healthBlock      `hcl:"health,block"`
}

type watchBlock struct {
	Paths   []string `hcl:"paths"`
	Ignore  []string `hcl:"ignore,optional"`
	Restart *bool    `hcl:"restart,optional"`
}

type healthBlock struct {
	Kind     string `hcl:"type"`
	Path     string `hcl:"path,optional"`
	Interval string `hcl:"interval,optional"`
	Timeout  string `hcl:"timeout,optional"`
	Retries  int    `hcl:"retries,optional"`
}

// Config is the validated, immutable snapshot produced once per
// process lifetime, per spec.md §3 "Config model".
type Config struct {
	ProxyPort int
	LogLevel  string
	Services  []*supervisor.Spec
}

// Load reads and parses path, merges env_file contents, and validates
// the result, per spec.md §6 "reject invalid models (cycles, duplicate
// names, unknown dependency, non-positive interval/timeout) with a
// diagnostic naming the offending service."
func Load(path string) (*Config, error) {
	var doc document
	if err := hclsimple.DecodeFile(path, nil, &doc); err != nil {
		return nil, errorkit.New(errorkit.KindConfigInvalid, "", fmt.Errorf("parse %s: %w", path, err))
	}

	baseDir := filepath.Dir(path)

	cfg := &Config{ProxyPort: DefaultProxyPort, LogLevel: "info"}
	if doc.Dev != nil {
		if doc.Dev.ProxyPort != 0 {
			cfg.ProxyPort = doc.Dev.ProxyPort
		}
		if doc.Dev.LogLevel != "" {
			cfg.LogLevel = doc.Dev.LogLevel
		}
	}

	byName := map[string]*serviceBlock{}
	for i := range doc.Services {
		svc := &doc.Services[i]
		if _, dup := byName[svc.Name]; dup {
			return nil, errorkit.New(errorkit.KindConfigInvalid, svc.Name, fmt.Errorf("duplicate service name %q", svc.Name))
		}
		byName[svc.Name] = svc
	}

	for _, svc := range doc.Services {
		if svc.Disabled {
			continue
		}
		spec, err := toSpec(&svc, baseDir)
		if err != nil {
			return nil, err
		}
		cfg.Services = append(cfg.Services, spec)
	}

	if err := validate(doc.Services); err != nil {
		return nil, err
	}

	return cfg, nil
}

// toSpec translates one HCL service block into a supervisor.Spec,
// resolving dir relative to the config file and merging env_file
// contents under env with env taking precedence, per
// original_source/src/config.rs::resolve_env_files.
func toSpec(svc *serviceBlock, baseDir string) (*supervisor.Spec, error) {
	dir := svc.Dir
	if dir == "" {
		dir = baseDir
	} else if !filepath.IsAbs(dir) {
		dir = filepath.Join(baseDir, dir)
	}

	env := map[string]string{}
	if svc.EnvFile != "" {
		fileEnv, err := loadEnvFile(resolveEnvFilePath(svc.EnvFile, baseDir))
		if err != nil {
			return nil, errorkit.New(errorkit.KindConfigInvalid, svc.Name, err)
		}
		for k, v := range fileEnv {
			env[k] = v
		}
	}
	for k, v := range svc.Env {
		env[k] = v // env always wins over env_file
	}

	spec := &supervisor.Spec{
		Name:      svc.Name,
		Command:   svc.Cmd,
		Dir:       dir,
		Port:      svc.Port,
		Subdomain: svc.Subdomain,
		DependsOn: svc.DependsOn,
		Env:       env,
	}

	if svc.Watch != nil {
		restart := true
		if svc.Watch.Restart != nil {
			restart = *svc.Watch.Restart
		}
		spec.Watch = &watch.Spec{
			Paths:   svc.Watch.Paths,
			Ignore:  svc.Watch.Ignore,
			Restart: restart,
		}
	}

	if svc.Health != nil {
		kind := health.Kind(strings.ToLower(svc.Health.Kind))
		if kind != health.KindHTTP && kind != health.KindTCP {
			return nil, errorkit.New(errorkit.KindConfigInvalid, svc.Name, fmt.Errorf("health.type must be %q or %q, got %q", health.KindHTTP, health.KindTCP, svc.Health.Kind))
		}
		interval, err := parseDurationField(svc.Name, "health.interval", svc.Health.Interval, 2*time.Second)
		if err != nil {
			return nil, err
		}
		timeout, err := parseDurationField(svc.Name, "health.timeout", svc.Health.Timeout, time.Second)
		if err != nil {
			return nil, err
		}
		retries := svc.Health.Retries
		if retries == 0 {
			retries = 3
		}
		if interval <= 0 || timeout <= 0 || retries <= 0 {
			return nil, errorkit.New(errorkit.KindConfigInvalid, svc.Name, fmt.Errorf("health interval/timeout/retries must be positive"))
		}
		spec.Health = &health.Spec{Kind: kind, Path: svc.Health.Path, Interval: interval, Timeout: timeout, Retries: retries}
	}

	return spec, nil
}

// parseDurationField parses a Go duration string ("2s", "500ms"),
// defaulting to def when field is empty, mirroring
// original_source/src/config.rs's duration_serde.
func parseDurationField(service, field, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errorkit.New(errorkit.KindConfigInvalid, service, fmt.Errorf("%s: %w", field, err))
	}
	return d, nil
}

// resolveEnvFilePath resolves env_file relative to the config file's
// directory, per original_source's resolve_env_files.
func resolveEnvFilePath(envFile, baseDir string) string {
	if filepath.IsAbs(envFile) {
		return envFile
	}
	return filepath.Join(baseDir, envFile)
}

// loadEnvFile parses KEY=VALUE lines, skipping blank lines and #
// comments and trimming surrounding quotes, per
// original_source/src/config.rs::resolve_env_files.
func loadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read env_file %s: %w", path, err)
	}
	defer f.Close()

	out := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		v = strings.Trim(strings.TrimSpace(v), `"'`)
		out[strings.TrimSpace(k)] = v
	}
	return out, scanner.Err()
}

// validate rejects cycles, unknown/disabled depends_on targets, and
// port collisions between two non-zero, non-disabled services, per
// spec.md §3 "Dependency graph must be acyclic" and
// original_source/src/config.rs::validate.
func validate(services []serviceBlock) error {
	byName := map[string]*serviceBlock{}
	for i := range services {
		byName[services[i].Name] = &services[i]
	}

	ports := map[int]string{}
	for _, svc := range services {
		if svc.Disabled || svc.Port == 0 {
			continue
		}
		if other, conflict := ports[svc.Port]; conflict {
			return errorkit.New(errorkit.KindConfigInvalid, svc.Name, fmt.Errorf("port %d already used by service %q", svc.Port, other))
		}
		ports[svc.Port] = svc.Name
	}

	for _, svc := range services {
		if svc.Disabled {
			continue
		}
		for _, dep := range svc.DependsOn {
			target, ok := byName[dep]
			if !ok || target.Disabled {
				return errorkit.New(errorkit.KindConfigInvalid, svc.Name, fmt.Errorf("depends_on unknown or disabled service %q", dep))
			}
		}
	}

	return checkAcyclic(byName)
}

// checkAcyclic rejects dependency cycles at config load, per spec.md
// §3 "Dependency graph must be acyclic; cycles are rejected at config
// load."
func checkAcyclic(byName map[string]*serviceBlock) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := map[string]int{}

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return errorkit.New(errorkit.KindConfigInvalid, name, fmt.Errorf("dependency cycle involving %q", name))
		}
		state[name] = visiting
		svc, ok := byName[name]
		if ok {
			for _, dep := range svc.DependsOn {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		state[name] = done
		return nil
	}

	for name := range byName {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}
