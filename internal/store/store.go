// Package store maps boards and tickets to YAML files under a
// workspace-scoped directory. The on-disk layout is the compatibility
// contract:
//
//	<workspace>/board/board.yaml
//	<workspace>/board/tickets/<SANITIZED-ID>.yaml
package store

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"fmt"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	"boardline/internal/config"
	"boardline/internal/domain"
	"boardline/internal/migrate"
)

// ErrNotFound marks an absent board or ticket file. A missing file is a
// valid state, distinct from a present-but-corrupt record.
var ErrNotFound = errors.New("not found")

// Store is a file-backed board/ticket repository for one workspace.
type Store struct {
	Workspace string
	Rules     config.MigrationRules
}

func New(workspace string, rules config.MigrationRules) Store {
	return Store{Workspace: workspace, Rules: rules}
}

// BoardDir is the workspace-scoped state directory.
func (s Store) BoardDir() string {
	return filepath.Join(s.Workspace, "board")
}

func (s Store) boardPath() string {
	return filepath.Join(s.BoardDir(), "board.yaml")
}

func (s Store) ticketsDir() string {
	return filepath.Join(s.BoardDir(), "tickets")
}

// TicketPath returns the file path for a ticket id, sanitized first so an
// id can never escape the tickets directory.
func (s Store) TicketPath(id string) string {
	return filepath.Join(s.ticketsDir(), SanitizeID(id)+".yaml")
}

// SanitizeID maps an identifier to uppercase alphanumerics plus "-"/"_".
// Anything else is dropped, which also neutralizes path separators.
func SanitizeID(id string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(id) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// EnsureDir creates the board and tickets directories if missing.
func (s Store) EnsureDir() error {
	return os.MkdirAll(s.ticketsDir(), 0o755)
}

// LoadBoard reads the board file. Returns ErrNotFound when the workspace
// has no board.
func (s Store) LoadBoard() (domain.Board, error) {
	data, err := os.ReadFile(s.boardPath())
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Board{}, ErrNotFound
		}
		return domain.Board{}, err
	}
	var b domain.Board
	if err := yaml.Unmarshal(data, &b); err != nil {
		return domain.Board{}, fmt.Errorf("decode board: %w", err)
	}
	return b, nil
}

func (s Store) SaveBoard(b domain.Board) error {
	if err := s.EnsureDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode board: %w", err)
	}
	return atomic.WriteFile(s.boardPath(), bytes.NewReader(data))
}

// LoadTicket reads one ticket, normalizing legacy-schema records on the way
// out. Returns ErrNotFound for an absent file; a present-but-corrupt file
// surfaces the decode error.
func (s Store) LoadTicket(id string) (domain.Ticket, error) {
	data, err := os.ReadFile(s.TicketPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Ticket{}, ErrNotFound
		}
		return domain.Ticket{}, err
	}
	var rec migrate.Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return domain.Ticket{}, fmt.Errorf("decode ticket %s: %w", id, err)
	}
	if rec.ID == "" {
		return domain.Ticket{}, fmt.Errorf("decode ticket %s: record has no id", id)
	}
	return migrate.Normalize(rec, s.Rules), nil
}

func (s Store) SaveTicket(t domain.Ticket) error {
	if err := s.EnsureDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode ticket %s: %w", t.ID, err)
	}
	return atomic.WriteFile(s.TicketPath(t.ID), bytes.NewReader(data))
}

// DeleteTicket removes a ticket file. A missing file reports false rather
// than an error, distinguishing "nothing to delete" from an I/O fault.
func (s Store) DeleteTicket(id string) (bool, error) {
	err := os.Remove(s.TicketPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListTickets enumerates every readable ticket in the workspace. An absent
// tickets directory is an empty list. Entries that fail to decode or lack
// an id are skipped so one corrupt file cannot abort the listing.
func (s Store) ListTickets() ([]domain.Ticket, error) {
	entries, err := os.ReadDir(s.ticketsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []domain.Ticket
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.ticketsDir(), entry.Name()))
		if err != nil {
			continue
		}
		var rec migrate.Record
		if err := yaml.Unmarshal(data, &rec); err != nil {
			continue
		}
		if rec.ID == "" {
			continue
		}
		out = append(out, migrate.Normalize(rec, s.Rules))
	}
	return out, nil
}
