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

package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/a3s-dev/a3s/api"
	"github.com/a3s-dev/a3s/config"
	"github.com/a3s-dev/a3s/logbus"
	"github.com/a3s-dev/a3s/proxy"
	"github.com/a3s-dev/a3s/supervisor"
)

// cacheDir is the well-known per-user cache directory spec.md §6
// "Persistence" delegates the --detach pidfile/log location to.
func cacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, "a3s")
	return dir, os.MkdirAll(dir, 0o755)
}

// cmdUp implements "up [names…] [--detach] [--no-ui] [--ui-port N]" of
// spec.md §6. Exit codes per spec.md §6: 0 on clean shutdown, 2 on
// supervisor fatal error, 130 on SIGINT.
func cmdUp(args []string) int {
	fs := flag.NewFlagSet("up", flag.ContinueOnError)
	detach := fs.Bool("detach", false, "run in the background")
	noUI := fs.Bool("no-ui", false, "skip the control API / UI server")
	uiPort := fs.Int("ui-port", config.DefaultUIPort, "control API port")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	names := fs.Args()

	if *detach && os.Getenv("A3S_DETACHED") == "" {
		return detachSelf(args)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "up: %v\n", err)
		return 1
	}

	log := newLogger()
	bus := logbus.New(0)
	sup := supervisor.New(cfg.Services, bus, log, cfg.ProxyPort)

	go sup.Run()

	var servers []*http.Server
	px := proxy.New(sup, log)
	proxySrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.ProxyPort), Handler: px}
	servers = append(servers, proxySrv)
	go func() {
		if err := proxySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("proxy: listener failed")
		}
	}()

	if !*noUI {
		apiHandler := api.New(sup, bus, cfg.ProxyPort, nil)
		apiSrv := &http.Server{Addr: fmt.Sprintf(":%d", *uiPort), Handler: apiHandler}
		servers = append(servers, apiSrv)
		go func() {
			if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("control API: listener failed")
			}
		}()
	}

	if err := sup.Up(names); err != nil {
		fmt.Fprintf(os.Stderr, "up: %v\n", err)
		sup.Shutdown()
		return 2
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	for _, srv := range servers {
		srv.Close()
	}
	sup.Shutdown()

	if sig == syscall.SIGINT {
		return 130
	}
	return 0
}

// detachSelf implements spec.md §6 "Persistence": "the parent writes
// a PID file and redirects child output to a log file under a
// well-known per-user cache directory". It relaunches the current
// binary with A3S_DETACHED set, so the child takes the non-detached
// path above.
func detachSelf(args []string) int {
	dir, err := cacheDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "up --detach: %v\n", err)
		return 1
	}

	logPath := filepath.Join(dir, "a3s.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "up --detach: %v\n", err)
		return 1
	}
	defer logFile.Close()

	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "up --detach: %v\n", err)
		return 1
	}

	cmd := exec.Command(exe, append([]string{"up"}, args...)...)
	cmd.Env = append(os.Environ(), "A3S_DETACHED=1")
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "up --detach: %v\n", err)
		return 1
	}

	pidPath := filepath.Join(dir, "a3s.pid")
	if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d\n", cmd.Process.Pid)), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "up --detach: %v\n", err)
		return 1
	}

	fmt.Printf("a3s detached: pid %d, log %s\n", cmd.Process.Pid, logPath)
	return 0
}
