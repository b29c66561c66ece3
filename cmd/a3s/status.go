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
	"os"
	"sort"
	"time"

	"github.com/a3s-dev/a3s/config"
	"github.com/gdamore/tcell"
)

// cmdStatus implements "status [--watch] [--ui-port N]" of spec.md §6.
// The plain mode prints one table and exits; --watch keeps a live
// service table on screen, repurposed from the teacher's
// mpanel.go/MainPanel.update() row-rendering logic but driven straight
// off tcell instead of topsl (govisor/main.go's own UI never actually
// builds: topsl isn't declared in the teacher's go.mod).
func cmdStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	watch := fs.Bool("watch", false, "keep the table on screen, refreshing live")
	uiPort := fs.Int("ui-port", config.DefaultUIPort, "control API port")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	c := newClient(*uiPort)
	if *watch {
		return watchStatus(c)
	}

	entries, err := c.status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		return 2
	}
	printStatusTable(os.Stdout, entries)
	return 0
}

func sortedEntries(entries []statusEntry) []statusEntry {
	sorted := make([]statusEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return sorted
}

func printStatusTable(w *os.File, entries []statusEntry) {
	fmt.Fprintf(w, "%-20s %-12s %6s %-9s %8s %-16s\n", "NAME", "STATE", "PID", "PORT", "UPTIME", "SUBDOMAIN")
	for _, e := range sortedEntries(entries) {
		d := time.Duration(e.UptimeSecs) * time.Second
		fmt.Fprintf(w, "%-20s %-12s %6d %-9d %8s %-16s\n",
			e.Name, e.State, e.PID, e.Port, formatDuration(d), e.Subdomain)
	}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	d -= d % time.Second
	return d.String()
}

// watchStatus renders a live-refreshing service table, grounded on
// mpanel.go's MainPanel.update(): per-row coloring by state, a summary
// line of counts, and a keybar. 'q' or Esc quits, 'r' restarts the
// highlighted row.
func watchStatus(c *client) int {
	screen, err := tcell.NewScreen()
	if err != nil {
		fmt.Fprintf(os.Stderr, "status --watch: %v\n", err)
		return 1
	}
	if err := screen.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "status --watch: %v\n", err)
		return 1
	}
	defer screen.Fini()

	var entries []statusEntry
	selected := 0
	var lastErr error

	refresh := func() {
		e, err := c.status()
		if err != nil {
			lastErr = err
			return
		}
		lastErr = nil
		entries = sortedEntries(e)
		if selected >= len(entries) {
			selected = len(entries) - 1
		}
		if selected < 0 {
			selected = 0
		}
	}
	refresh()

	draw := func() {
		screen.Clear()
		drawStatusScreen(screen, entries, selected, lastErr)
		screen.Show()
	}
	draw()

	eventCh := make(chan tcell.Event, 8)
	go func() {
		for {
			eventCh <- screen.PollEvent()
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev := <-eventCh:
			switch ev := ev.(type) {
			case *tcell.EventKey:
				switch {
				case ev.Key() == tcell.KeyEscape, ev.Rune() == 'q', ev.Rune() == 'Q', ev.Key() == tcell.KeyCtrlC:
					return 0
				case ev.Key() == tcell.KeyDown, ev.Rune() == 'j':
					if selected < len(entries)-1 {
						selected++
					}
				case ev.Key() == tcell.KeyUp, ev.Rune() == 'k':
					if selected > 0 {
						selected--
					}
				case ev.Rune() == 'r', ev.Rune() == 'R':
					if selected < len(entries) {
						c.restart(entries[selected].Name)
					}
				}
				draw()
			case *tcell.EventResize:
				screen.Sync()
				draw()
			}
		case <-ticker.C:
			refresh()
			draw()
		}
	}
}

func drawStatusScreen(screen tcell.Screen, entries []statusEntry, selected int, lastErr error) {
	normal := tcell.StyleDefault
	good := tcell.StyleDefault.Foreground(tcell.ColorGreen)
	warn := tcell.StyleDefault.Foreground(tcell.ColorYellow)
	bad := tcell.StyleDefault.Foreground(tcell.ColorRed)
	reverse := tcell.StyleDefault.Reverse(true)

	drawText(screen, 0, 0, normal, fmt.Sprintf("%-20s %-12s %6s %-9s %8s %-16s", "NAME", "STATE", "PID", "PORT", "UPTIME", "SUBDOMAIN"))

	var nrunning, nfailed, nstarting int
	row := 1
	for i, e := range entries {
		d := time.Duration(e.UptimeSecs) * time.Second
		line := fmt.Sprintf("%-20s %-12s %6d %-9d %8s %-16s",
			e.Name, e.State, e.PID, e.Port, formatDuration(d), e.Subdomain)

		style := normal
		switch e.State {
		case "running":
			style = good
			nrunning++
		case "failed":
			style = bad
			nfailed++
		case "starting", "restarting", "pending", "unhealthy":
			style = warn
			nstarting++
		}
		if i == selected {
			style = style.Reverse(true)
		}
		drawText(screen, 0, row, style, line)
		row++
	}

	summary := fmt.Sprintf("%d services, %d running, %d starting, %d failed",
		len(entries), nrunning, nstarting, nfailed)
	if lastErr != nil {
		summary = fmt.Sprintf("error refreshing status: %v", lastErr)
	}
	drawText(screen, 0, row+1, reverse, summary)
	drawText(screen, 0, row+2, normal, "[q] quit  [j/k] select  [r] restart")
}

func drawText(screen tcell.Screen, x, y int, style tcell.Style, text string) {
	for i, r := range text {
		screen.SetContent(x+i, y, r, nil, style)
	}
}
