// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"os/exec"
	"strings"

	"github.com/Hellseher/go-shellquote"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Launcher starts the qBittorrent process.
type Launcher interface {
	Launch() error
}

// CommandLauncher runs a configured command line, detached from the caller.
type CommandLauncher struct {
	args []string
}

// NewCommandLauncher parses command with shell quoting rules. An empty
// command yields a nil launcher.
func NewCommandLauncher(command string) (*CommandLauncher, error) {
	if strings.TrimSpace(command) == "" {
		return nil, nil
	}

	args, err := shellquote.Split(command)
	if err != nil {
		return nil, errors.Wrap(err, "parse launch command")
	}
	if len(args) == 0 {
		return nil, errors.New("launch command is empty")
	}

	return &CommandLauncher{args: args}, nil
}

// Args returns the parsed argv.
func (l *CommandLauncher) Args() []string {
	return append([]string(nil), l.args...)
}

// Launch starts the process and returns without waiting for it.
func (l *CommandLauncher) Launch() error {
	cmd := exec.Command(l.args[0], l.args[1:]...)
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "start %s", shellquote.Join(l.args...))
	}

	log.Info().
		Str("module", "qbittorrent").
		Int("pid", cmd.Process.Pid).
		Strs("command", cmd.Args).
		Msg("Launched qBittorrent")

	go func() {
		if err := cmd.Wait(); err != nil {
			log.Debug().Err(err).Str("module", "qbittorrent").Msg("Launched qBittorrent process exited")
		}
	}()

	return nil
}
