package app

import (
	"fmt"
	"path/filepath"

	"boardline/internal/config"
	"boardline/internal/engine"
	"boardline/internal/events"
)

// ResolveWorkspace normalizes the workspace flag/env value to an absolute
// directory. The directory itself is created lazily by the store on first
// write.
func ResolveWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return "", fmt.Errorf("resolve workspace %q: %w", workspace, err)
	}
	return abs, nil
}

// Open builds an engine bound to the workspace: per-workspace config (the
// stock defaults when no boardline.yml exists) plus the transition journal.
// The returned closer releases the journal.
func Open(workspace string) (engine.Engine, func() error, error) {
	ws, err := ResolveWorkspace(workspace)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	cfg, err := config.Load(ws)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	journal, err := events.Open(ws)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	e := engine.New(ws, cfg)
	e.Events = journal
	return e, journal.Close, nil
}
