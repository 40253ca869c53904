package engine_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"boardline/internal/domain"
	"boardline/internal/engine"
	"boardline/internal/events"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Clock  *time.Time
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	journal, err := events.Open(dir)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { journal.Close() })
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng := engine.New(dir, nil)
	eng.Events = journal
	eng.Now = func() time.Time { return clock }
	journal.Now = eng.Now
	ctx := context.Background()
	if _, err := eng.InitBoard(ctx, "proj-1", "Test Project", "tester"); err != nil {
		t.Fatalf("init board: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Clock: &clock}
}

func mustCreate(t *testing.T, env testEnv, opts engine.TicketCreateOptions) domain.Ticket {
	t.Helper()
	if opts.Actor == "" {
		opts.Actor = "tester"
	}
	tk, err := env.Engine.CreateTicket(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return tk
}

func mustMove(t *testing.T, env testEnv, id, status string) domain.Ticket {
	t.Helper()
	tk, err := env.Engine.MoveTicket(env.Ctx, id, status, "", "tester")
	if err != nil {
		t.Fatalf("move %s to %s: %v", id, status, err)
	}
	return tk
}

func TestInitBoardFirstWriterWins(t *testing.T) {
	env := newTestEnv(t)
	b, err := env.Engine.Board(env.Ctx)
	if err != nil {
		t.Fatalf("board: %v", err)
	}
	if b.ProjectID != "PROJ-1" || b.ProjectName != "Test Project" {
		t.Fatalf("unexpected board identity: %q / %q", b.ProjectID, b.ProjectName)
	}
	if b.Settings.TicketPrefix != "PROJ" || b.Settings.NextTicketNumber != 1 {
		t.Fatalf("unexpected settings: %+v", b.Settings)
	}
	again, err := env.Engine.InitBoard(env.Ctx, "other", "Other Name", "tester")
	if err != nil {
		t.Fatalf("re-init: %v", err)
	}
	if again.ProjectID != "PROJ-1" || again.ProjectName != "Test Project" {
		t.Fatalf("re-init overwrote board: %+v", again)
	}
}

func TestCreateBeforeInit(t *testing.T) {
	eng := engine.New(t.TempDir(), nil)
	_, err := eng.CreateTicket(context.Background(), engine.TicketCreateOptions{Title: "x", Actor: "tester"})
	if !errors.Is(err, engine.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestTicketIDSequence(t *testing.T) {
	env := newTestEnv(t)
	a := mustCreate(t, env, engine.TicketCreateOptions{Title: "first"})
	b := mustCreate(t, env, engine.TicketCreateOptions{Title: "second"})
	if a.ID != "PROJ-001" || b.ID != "PROJ-002" {
		t.Fatalf("unexpected ids: %s, %s", a.ID, b.ID)
	}
	// deleting never frees an id for reuse
	if ok, err := env.Engine.DeleteTicket(env.Ctx, b.ID, "tester"); err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	c := mustCreate(t, env, engine.TicketCreateOptions{Title: "third"})
	if c.ID != "PROJ-003" {
		t.Fatalf("expected PROJ-003 after delete, got %s", c.ID)
	}
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateTicket(env.Ctx, engine.TicketCreateOptions{Title: "  ", Actor: "tester"}); err == nil {
		t.Fatalf("expected error on blank title")
	}
	if _, err := env.Engine.CreateTicket(env.Ctx, engine.TicketCreateOptions{Title: "x", Type: "epic", Actor: "tester"}); err == nil {
		t.Fatalf("expected error on legacy type")
	}
	if _, err := env.Engine.CreateTicket(env.Ctx, engine.TicketCreateOptions{Title: "x", Priority: "urgent", Actor: "tester"}); err == nil {
		t.Fatalf("expected error on unknown priority")
	}
	tk := mustCreate(t, env, engine.TicketCreateOptions{Title: "defaults"})
	if tk.Type != domain.TypeFeature {
		t.Fatalf("expected default type feature, got %s", tk.Type)
	}
	if tk.Status != domain.StatusBacklog {
		t.Fatalf("new ticket should start in backlog, got %s", tk.Status)
	}
	if tk.Priority != "" {
		t.Fatalf("priority should stay unset, got %q", tk.Priority)
	}
}

func TestMoveStampsTimestamps(t *testing.T) {
	env := newTestEnv(t)
	tk := mustCreate(t, env, engine.TicketCreateOptions{Title: "stamps"})
	created := tk.CreatedAt

	*env.Clock = env.Clock.Add(2 * time.Hour)
	tk = mustMove(t, env, tk.ID, domain.StatusReady)
	if tk.StatusChangedAt == created {
		t.Fatalf("statusChangedAt not refreshed")
	}
	if tk.CreatedAt != created {
		t.Fatalf("createdAt must not change on move")
	}
	if tk.CompletedAt != "" {
		t.Fatalf("completedAt set before done")
	}

	*env.Clock = env.Clock.Add(2 * time.Hour)
	tk = mustMove(t, env, tk.ID, domain.StatusDone)
	if tk.CompletedAt != tk.StatusChangedAt {
		t.Fatalf("completedAt should match the move into done")
	}
}

func TestMoveInvalidStatus(t *testing.T) {
	env := newTestEnv(t)
	tk := mustCreate(t, env, engine.TicketCreateOptions{Title: "x"})
	if _, err := env.Engine.MoveTicket(env.Ctx, tk.ID, "blocked", "", "tester"); err == nil {
		t.Fatalf("expected invalid status error for legacy column")
	}
}

func TestWIPLimitEnforced(t *testing.T) {
	env := newTestEnv(t)
	// stock in-progress limit is 2
	a := mustCreate(t, env, engine.TicketCreateOptions{Title: "a"})
	b := mustCreate(t, env, engine.TicketCreateOptions{Title: "b"})
	c := mustCreate(t, env, engine.TicketCreateOptions{Title: "c"})
	mustMove(t, env, a.ID, domain.StatusInProgress)
	mustMove(t, env, b.ID, domain.StatusInProgress)
	_, err := env.Engine.MoveTicket(env.Ctx, c.ID, domain.StatusInProgress, "", "tester")
	var capErr engine.CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityError, got %v", err)
	}
	if capErr.Status != domain.StatusInProgress || capErr.Limit != 2 || capErr.Count != 2 {
		t.Fatalf("unexpected capacity detail: %+v", capErr)
	}
	// a ticket already in the column may be "moved" to it
	if _, err := env.Engine.MoveTicket(env.Ctx, a.ID, domain.StatusInProgress, "", "tester"); err != nil {
		t.Fatalf("re-move within column: %v", err)
	}
	// freeing a slot lets the blocked move through
	mustMove(t, env, a.ID, domain.StatusReview)
	mustMove(t, env, c.ID, domain.StatusInProgress)
}

func TestCodeLocationAssignedOnce(t *testing.T) {
	env := newTestEnv(t)
	tk := mustCreate(t, env, engine.TicketCreateOptions{Title: "Fix the Flaky Login!!"})
	if tk.CodeLocation != nil {
		t.Fatalf("code location before first in-progress")
	}
	tk = mustMove(t, env, tk.ID, domain.StatusInProgress)
	if tk.CodeLocation == nil {
		t.Fatalf("code location missing after in-progress")
	}
	wantBranch := "story/proj-001-fix-the-flaky-login"
	if tk.CodeLocation.Branch != wantBranch {
		t.Fatalf("branch = %q, want %q", tk.CodeLocation.Branch, wantBranch)
	}
	first := *tk.CodeLocation

	tk = mustMove(t, env, tk.ID, domain.StatusReview)
	tk = mustMove(t, env, tk.ID, domain.StatusInProgress)
	if *tk.CodeLocation != first {
		t.Fatalf("code location changed on re-entry: %+v", tk.CodeLocation)
	}
}

func TestRejectionCount(t *testing.T) {
	env := newTestEnv(t)
	tk := mustCreate(t, env, engine.TicketCreateOptions{Title: "bounced"})
	tk = mustMove(t, env, tk.ID, domain.StatusInProgress)
	tk = mustMove(t, env, tk.ID, domain.StatusReview)
	tk = mustMove(t, env, tk.ID, domain.StatusInProgress)
	if tk.RejectionCount != 1 {
		t.Fatalf("rejection count = %d, want 1", tk.RejectionCount)
	}
	tk = mustMove(t, env, tk.ID, domain.StatusReview)
	tk = mustMove(t, env, tk.ID, domain.StatusDone)
	if tk.RejectionCount != 1 {
		t.Fatalf("review->done must not count as rejection, got %d", tk.RejectionCount)
	}
}

func TestMoveNoteBecomesComment(t *testing.T) {
	env := newTestEnv(t)
	tk := mustCreate(t, env, engine.TicketCreateOptions{Title: "noted"})
	tk, err := env.Engine.MoveTicket(env.Ctx, tk.ID, domain.StatusReady, "groomed in planning", "tester")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if len(tk.Comments) != 1 {
		t.Fatalf("expected one comment, got %d", len(tk.Comments))
	}
	c := tk.Comments[0]
	if c.Author != "system" || c.Text != "Moved to ready: groomed in planning" {
		t.Fatalf("unexpected comment: %+v", c)
	}
}

func TestUpdateTicket(t *testing.T) {
	env := newTestEnv(t)
	tk := mustCreate(t, env, engine.TicketCreateOptions{Title: "before"})
	created := tk.CreatedAt

	*env.Clock = env.Clock.Add(time.Hour)
	title := "after"
	priority := domain.PriorityHigh
	tk, err := env.Engine.UpdateTicket(env.Ctx, tk.ID, engine.TicketPatch{
		Title:    &title,
		Priority: &priority,
		Actor:    "tester",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if tk.Title != "after" || tk.Priority != domain.PriorityHigh {
		t.Fatalf("patch not applied: %+v", tk)
	}
	if tk.CreatedAt != created {
		t.Fatalf("createdAt changed on update")
	}
	if tk.UpdatedAt == created {
		t.Fatalf("updatedAt not refreshed")
	}
	if tk.Status != domain.StatusBacklog {
		t.Fatalf("update must never change status")
	}

	empty := ""
	if _, err := env.Engine.UpdateTicket(env.Ctx, tk.ID, engine.TicketPatch{Title: &empty}); err == nil {
		t.Fatalf("expected error clearing title")
	}
	bad := "epic"
	if _, err := env.Engine.UpdateTicket(env.Ctx, tk.ID, engine.TicketPatch{Type: &bad}); err == nil {
		t.Fatalf("expected error on legacy type")
	}
}

func TestAddComment(t *testing.T) {
	env := newTestEnv(t)
	tk := mustCreate(t, env, engine.TicketCreateOptions{Title: "talky"})
	tk, err := env.Engine.AddComment(env.Ctx, tk.ID, "alice", "looks good")
	if err != nil {
		t.Fatalf("comment: %v", err)
	}
	if len(tk.Comments) != 1 || tk.Comments[0].Author != "alice" {
		t.Fatalf("unexpected comments: %+v", tk.Comments)
	}
	if tk.Comments[0].ID == "" {
		t.Fatalf("comment id missing")
	}
	if _, err := env.Engine.AddComment(env.Ctx, tk.ID, "alice", "   "); err == nil {
		t.Fatalf("expected error on blank comment")
	}
}

func TestDeleteTicket(t *testing.T) {
	env := newTestEnv(t)
	tk := mustCreate(t, env, engine.TicketCreateOptions{Title: "doomed"})
	ok, err := env.Engine.DeleteTicket(env.Ctx, tk.ID, "tester")
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	ok, err = env.Engine.DeleteTicket(env.Ctx, tk.ID, "tester")
	if err != nil || ok {
		t.Fatalf("second delete: ok=%v err=%v", ok, err)
	}
	if _, err := env.Engine.GetTicket(env.Ctx, tk.ID); err == nil {
		t.Fatalf("expected not found after delete")
	}
}

func TestJournalRecordsTransitions(t *testing.T) {
	env := newTestEnv(t)
	tk := mustCreate(t, env, engine.TicketCreateOptions{Title: "evented"})
	mustMove(t, env, tk.ID, domain.StatusReady)
	mustMove(t, env, tk.ID, domain.StatusInProgress)

	entries, err := env.Engine.Events.Tail(env.Ctx, 10, "ticket.moved", tk.ID)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 move entries, got %d", len(entries))
	}
	// newest first
	if entries[0].Actor != "tester" || entries[0].TicketID != tk.ID {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
	all, err := env.Engine.Events.Tail(env.Ctx, 50, "", "")
	if err != nil {
		t.Fatalf("tail all: %v", err)
	}
	if len(all) < 4 { // init + create + 2 moves
		t.Fatalf("expected at least 4 entries, got %d", len(all))
	}
}

func TestFullLifecycle(t *testing.T) {
	env := newTestEnv(t)
	tk := mustCreate(t, env, engine.TicketCreateOptions{Title: "Fix bug", Type: domain.TypeBugfix})
	if tk.ID != "PROJ-001" || tk.Status != domain.StatusBacklog {
		t.Fatalf("unexpected new ticket: %+v", tk)
	}
	tk = mustMove(t, env, tk.ID, domain.StatusReady)
	tk = mustMove(t, env, tk.ID, domain.StatusInProgress)
	if ok, _ := regexp.MatchString(`^story/proj-001-fix-bug$`, tk.CodeLocation.Branch); !ok {
		t.Fatalf("branch = %q", tk.CodeLocation.Branch)
	}
	loc := *tk.CodeLocation
	tk = mustMove(t, env, tk.ID, domain.StatusReview)
	tk = mustMove(t, env, tk.ID, domain.StatusDone)
	if tk.CompletedAt == "" {
		t.Fatalf("completedAt missing after done")
	}
	if *tk.CodeLocation != loc {
		t.Fatalf("code location drifted during lifecycle")
	}
}
