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

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env", "FOO=from_file\nBAZ=qux\n")
	path := writeFile(t, dir, "A3sfile.hcl", `
dev {
  proxy_port = 9090
  log_level  = "debug"
}

service "db" {
  cmd  = "./bin/db-server"
  port = 5432
}

service "api" {
  cmd        = "npm run dev"
  dir        = "./api"
  port       = 3000
  subdomain  = "api"
  depends_on = ["db"]
  env = {
    NODE_ENV = "development"
    FOO      = "override"
  }
  env_file = ".env"

  watch {
    paths   = ["./api/src"]
    restart = true
  }

  health {
    type     = "http"
    path     = "/health"
    interval = "2s"
    timeout  = "1s"
    retries  = 3
  }
}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ProxyPort != 9090 {
		t.Errorf("ProxyPort = %d, want 9090", cfg.ProxyPort)
	}
	if len(cfg.Services) != 2 {
		t.Fatalf("len(Services) = %d, want 2", len(cfg.Services))
	}

	found := false
	for _, s := range cfg.Services {
		if s.Name != "api" {
			continue
		}
		found = true
		if s.Env["FOO"] != "override" {
			t.Errorf("env FOO = %q, want %q (env wins over env_file)", s.Env["FOO"], "override")
		}
		if s.Env["BAZ"] != "qux" {
			t.Errorf("env BAZ = %q, want %q (from env_file)", s.Env["BAZ"], "qux")
		}
		if s.Health == nil || s.Health.Retries != 3 {
			t.Errorf("Health not parsed correctly: %+v", s.Health)
		}
		if s.Watch == nil || !s.Watch.Restart {
			t.Errorf("Watch.Restart = false, want true")
		}
	}
	if !found {
		t.Fatal("service 'api' not found in loaded config")
	}
}

func TestLoadRejectsDependencyCycle(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "A3sfile.hcl", `
service "a" {
  cmd        = "true"
  port       = 3000
  depends_on = ["b"]
}

service "b" {
  cmd        = "true"
  port       = 3001
  depends_on = ["a"]
}
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load: expected a dependency cycle error, got nil")
	}
}

func TestLoadRejectsUnknownDependency(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "A3sfile.hcl", `
service "a" {
  cmd        = "true"
  port       = 3000
  depends_on = ["ghost"]
}
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load: expected an unknown-dependency error, got nil")
	}
}

func TestLoadRejectsPortConflict(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "A3sfile.hcl", `
service "a" {
  cmd  = "true"
  port = 3000
}

service "b" {
  cmd  = "true"
  port = 3000
}
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load: expected a port conflict error, got nil")
	}
}

func TestLoadAllowsTwoEphemeralPorts(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "A3sfile.hcl", `
service "a" {
  cmd  = "true"
}

service "b" {
  cmd  = "true"
}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Services) != 2 {
		t.Fatalf("len(Services) = %d, want 2", len(cfg.Services))
	}
}

func TestLoadSkipsDisabledServiceForPortAndDependencyChecks(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "A3sfile.hcl", `
service "a" {
  cmd        = "true"
  port       = 3000
  depends_on = ["ghost"]
  disabled   = true
}

service "b" {
  cmd  = "true"
  port = 3000
}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Services) != 1 {
		t.Fatalf("len(Services) = %d, want 1 (disabled service excluded)", len(cfg.Services))
	}
}

func TestLoadRejectsDependsOnDisabledService(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "A3sfile.hcl", `
service "a" {
  cmd        = "true"
  port       = 3000
  depends_on = ["b"]
}

service "b" {
  cmd      = "true"
  port     = 3001
  disabled = true
}
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load: expected depends_on-disabled error, got nil")
	}
}

func TestLoadRejectsNonPositiveHealthInterval(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "A3sfile.hcl", `
service "a" {
  cmd  = "true"
  port = 3000

  health {
    type     = "tcp"
    interval = "0s"
  }
}
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load: expected a non-positive interval error, got nil")
	}
}
