// Package engine implements the board lifecycle: initialization, ticket
// creation, field updates, status moves under WIP limits, comments, and
// deletion. All mutating operations on one workspace are serialized by an
// in-process lock; two processes writing the same workspace are out of scope.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"boardline/internal/config"
	"boardline/internal/domain"
	"boardline/internal/events"
	"boardline/internal/store"
)

// ErrNotInitialized is returned when an operation needs a board and the
// workspace has none.
var ErrNotInitialized = errors.New("board not initialized; run init first")

// CapacityError reports a WIP-limited column that cannot take another ticket.
type CapacityError struct {
	Status string
	Limit  int
	Count  int
}

func (e CapacityError) Error() string {
	return fmt.Sprintf("column %s at WIP limit (%d/%d)", e.Status, e.Count, e.Limit)
}

// Engine owns all board state for one workspace directory.
type Engine struct {
	Store  store.Store
	Events *events.Journal
	Config *config.Config
	Now    func() time.Time
}

func New(workspace string, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		Store:  store.New(workspace, cfg.Migration),
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// One mutex per workspace path. The WIP check in MoveTicket is check-then-act,
// so every mutating operation must hold the workspace lock.
var workspaceLocks sync.Map

func (e Engine) lock() func() {
	v, _ := workspaceLocks.LoadOrStore(e.Store.Workspace, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (e Engine) logEvent(ctx context.Context, evtType, ticketID, actor string, payload events.Payload) error {
	if e.Events == nil {
		return nil
	}
	return e.Events.Append(ctx, evtType, ticketID, actor, payload)
}

// Board loads the workspace board.
func (e Engine) Board(ctx context.Context) (domain.Board, error) {
	b, err := e.Store.LoadBoard()
	if errors.Is(err, store.ErrNotFound) {
		return domain.Board{}, ErrNotInitialized
	}
	return b, err
}

// InitBoard creates the board, or returns the existing one unchanged.
// First writer wins; re-running init never overwrites.
func (e Engine) InitBoard(ctx context.Context, projectID, projectName, actor string) (domain.Board, error) {
	unlock := e.lock()
	defer unlock()

	existing, err := e.Store.LoadBoard()
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.Board{}, err
	}
	id := store.SanitizeID(projectID)
	if id == "" {
		return domain.Board{}, errors.New("project id is required")
	}
	if projectName == "" {
		projectName = projectID
	}
	prefix := id
	if len(prefix) > 4 {
		prefix = prefix[:4]
	}
	b := domain.Board{
		SchemaVersion: domain.SchemaVersion,
		ProjectID:     id,
		ProjectName:   projectName,
		Columns:       e.defaultColumns(),
		Settings: domain.Settings{
			TicketPrefix:      prefix,
			NextTicketNumber:  1,
			StaleHours:        e.Config.Board.Settings.StaleHours,
			WIPHeartbeatHours: e.Config.Board.Settings.WIPHeartbeatHours,
		},
		UpdatedAt: e.timestamp(),
	}
	if err := e.Store.SaveBoard(b); err != nil {
		return domain.Board{}, err
	}
	if err := e.logEvent(ctx, "board.initialized", "", actor, events.Payload{"project_id": b.ProjectID}); err != nil {
		return domain.Board{}, err
	}
	return b, nil
}

func (e Engine) defaultColumns() []domain.Column {
	cols := make([]domain.Column, 0, len(e.Config.Board.Columns))
	for _, spec := range e.Config.Board.Columns {
		col := domain.Column{ID: spec.ID, Name: spec.Name, AutoPull: spec.AutoPull}
		if spec.WIPLimit != nil {
			limit := *spec.WIPLimit
			col.WIPLimit = &limit
		}
		cols = append(cols, col)
	}
	return cols
}

// TicketCreateOptions are parameters for creating a ticket.
type TicketCreateOptions struct {
	Title            string
	Type             string
	Priority         string
	Intent           string
	AcceptanceSignal string
	Parent           string
	BlockedBy        []string
	Actor            string
}

// CreateTicket allocates the next id from the board counter and writes the
// ticket into the first column. The incremented counter is persisted before
// the ticket file; a crash between the two writes leaves a gap in the
// sequence, never a reused id.
func (e Engine) CreateTicket(ctx context.Context, opts TicketCreateOptions) (domain.Ticket, error) {
	unlock := e.lock()
	defer unlock()

	board, err := e.Store.LoadBoard()
	if errors.Is(err, store.ErrNotFound) {
		return domain.Ticket{}, ErrNotInitialized
	}
	if err != nil {
		return domain.Ticket{}, err
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Ticket{}, errors.New("title is required")
	}
	if opts.Type == "" {
		opts.Type = domain.TypeFeature
	}
	if !domain.ValidType(opts.Type) {
		return domain.Ticket{}, fmt.Errorf("invalid type %q", opts.Type)
	}
	if !domain.ValidPriority(opts.Priority) {
		return domain.Ticket{}, fmt.Errorf("invalid priority %q", opts.Priority)
	}
	n := board.Settings.NextTicketNumber
	if n < 1 {
		n = 1
	}
	id := fmt.Sprintf("%s-%03d", board.Settings.TicketPrefix, n)
	ts := e.timestamp()
	board.Settings.NextTicketNumber = n + 1
	board.UpdatedAt = ts
	if err := e.Store.SaveBoard(board); err != nil {
		return domain.Ticket{}, err
	}
	t := domain.Ticket{
		ID:               id,
		Title:            opts.Title,
		Type:             opts.Type,
		Priority:         opts.Priority,
		Intent:           opts.Intent,
		AcceptanceSignal: opts.AcceptanceSignal,
		Status:           board.Columns[0].ID,
		Parent:           opts.Parent,
		BlockedBy:        opts.BlockedBy,
		CreatedAt:        ts,
		UpdatedAt:        ts,
		StatusChangedAt:  ts,
	}
	if err := e.Store.SaveTicket(t); err != nil {
		return domain.Ticket{}, err
	}
	if err := e.logEvent(ctx, "ticket.created", t.ID, opts.Actor, events.Payload{"title": t.Title, "status": t.Status}); err != nil {
		return domain.Ticket{}, err
	}
	return t, nil
}

// GetTicket loads a single ticket.
func (e Engine) GetTicket(ctx context.Context, id string) (domain.Ticket, error) {
	return e.Store.LoadTicket(id)
}

// TicketPatch holds optional field updates. Nil means leave unchanged.
// Status is deliberately absent: status changes go through MoveTicket, and
// id/createdAt are immutable.
type TicketPatch struct {
	Title            *string
	Type             *string
	Priority         *string
	Intent           *string
	AcceptanceSignal *string
	Parent           *string
	BlockedBy        *[]string
	Actor            string
}

// UpdateTicket applies a patch and refreshes updatedAt.
func (e Engine) UpdateTicket(ctx context.Context, id string, patch TicketPatch) (domain.Ticket, error) {
	unlock := e.lock()
	defer unlock()

	t, err := e.Store.LoadTicket(id)
	if err != nil {
		return domain.Ticket{}, err
	}
	if patch.Title != nil {
		if strings.TrimSpace(*patch.Title) == "" {
			return t, errors.New("title is required")
		}
		t.Title = *patch.Title
	}
	if patch.Type != nil {
		if !domain.ValidType(*patch.Type) {
			return t, fmt.Errorf("invalid type %q", *patch.Type)
		}
		t.Type = *patch.Type
	}
	if patch.Priority != nil {
		if !domain.ValidPriority(*patch.Priority) {
			return t, fmt.Errorf("invalid priority %q", *patch.Priority)
		}
		t.Priority = *patch.Priority
	}
	if patch.Intent != nil {
		t.Intent = *patch.Intent
	}
	if patch.AcceptanceSignal != nil {
		t.AcceptanceSignal = *patch.AcceptanceSignal
	}
	if patch.Parent != nil {
		t.Parent = *patch.Parent
	}
	if patch.BlockedBy != nil {
		t.BlockedBy = *patch.BlockedBy
	}
	t.UpdatedAt = e.timestamp()
	if err := e.Store.SaveTicket(t); err != nil {
		return domain.Ticket{}, err
	}
	if err := e.logEvent(ctx, "ticket.updated", t.ID, patch.Actor, events.Payload{"status": t.Status}); err != nil {
		return domain.Ticket{}, err
	}
	return t, nil
}

// MoveTicket transitions a ticket to another column, enforcing the target
// column's WIP limit. The check counts tickets already in the column,
// excluding the one being moved, at call time.
func (e Engine) MoveTicket(ctx context.Context, id, toStatus, note, actor string) (domain.Ticket, error) {
	unlock := e.lock()
	defer unlock()

	board, err := e.Store.LoadBoard()
	if errors.Is(err, store.ErrNotFound) {
		return domain.Ticket{}, ErrNotInitialized
	}
	if err != nil {
		return domain.Ticket{}, err
	}
	col := board.Column(toStatus)
	if col == nil {
		return domain.Ticket{}, fmt.Errorf("invalid status %q", toStatus)
	}
	t, err := e.Store.LoadTicket(id)
	if err != nil {
		return domain.Ticket{}, err
	}
	if col.WIPLimit != nil {
		all, err := e.Store.ListTickets()
		if err != nil {
			return domain.Ticket{}, err
		}
		count := 0
		for _, other := range all {
			if other.Status == toStatus && other.ID != t.ID {
				count++
			}
		}
		if count >= *col.WIPLimit {
			return domain.Ticket{}, CapacityError{Status: toStatus, Limit: *col.WIPLimit, Count: count}
		}
	}
	from := t.Status
	ts := e.timestamp()
	t.Status = toStatus
	t.StatusChangedAt = ts
	t.UpdatedAt = ts
	if toStatus == domain.StatusDone {
		t.CompletedAt = ts
	}
	if toStatus == domain.StatusInProgress && t.CodeLocation == nil {
		t.CodeLocation = codeLocationFor(t.ID, t.Title)
	}
	if from == domain.StatusReview && toStatus != domain.StatusDone {
		t.RejectionCount++
	}
	if note != "" {
		t.Comments = append(t.Comments, domain.Comment{
			ID:        uuid.New().String(),
			Author:    "system",
			Text:      fmt.Sprintf("Moved to %s: %s", toStatus, note),
			CreatedAt: ts,
		})
	}
	if err := e.Store.SaveTicket(t); err != nil {
		return domain.Ticket{}, err
	}
	if err := e.logEvent(ctx, "ticket.moved", t.ID, actor, events.Payload{"from": from, "to": toStatus}); err != nil {
		return domain.Ticket{}, err
	}
	return t, nil
}

// AddComment appends an annotation to a ticket.
func (e Engine) AddComment(ctx context.Context, id, author, text string) (domain.Ticket, error) {
	unlock := e.lock()
	defer unlock()

	if strings.TrimSpace(text) == "" {
		return domain.Ticket{}, errors.New("comment text is required")
	}
	if author == "" {
		author = "system"
	}
	t, err := e.Store.LoadTicket(id)
	if err != nil {
		return domain.Ticket{}, err
	}
	ts := e.timestamp()
	t.Comments = append(t.Comments, domain.Comment{
		ID:        uuid.New().String(),
		Author:    author,
		Text:      text,
		CreatedAt: ts,
	})
	t.UpdatedAt = ts
	if err := e.Store.SaveTicket(t); err != nil {
		return domain.Ticket{}, err
	}
	if err := e.logEvent(ctx, "ticket.commented", t.ID, author, events.Payload{"text": text}); err != nil {
		return domain.Ticket{}, err
	}
	return t, nil
}

// DeleteTicket removes a ticket file. Reports false, without error, when the
// ticket does not exist.
func (e Engine) DeleteTicket(ctx context.Context, id, actor string) (bool, error) {
	unlock := e.lock()
	defer unlock()

	ok, err := e.Store.DeleteTicket(id)
	if err != nil || !ok {
		return ok, err
	}
	if err := e.logEvent(ctx, "ticket.deleted", id, actor, nil); err != nil {
		return true, err
	}
	return true, nil
}

// codeLocationFor derives a branch and worktree path from the ticket id and
// a slug of its title. Deterministic: the same (id, title) always yields the
// same location.
func codeLocationFor(id, title string) *domain.CodeLocation {
	base := strings.ToLower(id)
	branch := "story/" + base
	if slug := slugify(title); slug != "" {
		branch += "-" + slug
	}
	return &domain.CodeLocation{
		Branch:   branch,
		Worktree: filepath.Join(".worktrees", base),
	}
}

const slugMax = 40

// slugify lowercases the title, collapses non-alphanumeric runs to single
// hyphens, and truncates.
func slugify(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(s) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !alnum {
			if b.Len() > 0 {
				pending = true
			}
			continue
		}
		if pending {
			b.WriteByte('-')
			pending = false
		}
		b.WriteRune(r)
		if b.Len() >= slugMax {
			break
		}
	}
	return b.String()
}
