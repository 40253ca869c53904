package engine_test

import (
	"testing"
	"time"

	"boardline/internal/domain"
	"boardline/internal/engine"
)

func TestTicketOrdering(t *testing.T) {
	env := newTestEnv(t)
	low := mustCreate(t, env, engine.TicketCreateOptions{Title: "low", Priority: domain.PriorityLow})
	*env.Clock = env.Clock.Add(time.Minute)
	unset := mustCreate(t, env, engine.TicketCreateOptions{Title: "unset"})
	*env.Clock = env.Clock.Add(time.Minute)
	critical := mustCreate(t, env, engine.TicketCreateOptions{Title: "critical", Priority: domain.PriorityCritical})
	*env.Clock = env.Clock.Add(time.Minute)
	highOld := mustCreate(t, env, engine.TicketCreateOptions{Title: "high old", Priority: domain.PriorityHigh})
	*env.Clock = env.Clock.Add(time.Minute)
	highNew := mustCreate(t, env, engine.TicketCreateOptions{Title: "high new", Priority: domain.PriorityHigh})

	got, err := env.Engine.TicketsByStatus(env.Ctx, domain.StatusBacklog)
	if err != nil {
		t.Fatalf("by status: %v", err)
	}
	want := []string{critical.ID, highOld.ID, highNew.ID, low.ID, unset.ID}
	if len(got) != len(want) {
		t.Fatalf("got %d tickets, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: got %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestTicketsByStatusRejectsUnknown(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.TicketsByStatus(env.Ctx, "archived"); err == nil {
		t.Fatalf("expected invalid status error")
	}
}

func TestNextWorkItem(t *testing.T) {
	env := newTestEnv(t)
	if item, err := env.Engine.NextWorkItem(env.Ctx); err != nil || item != nil {
		t.Fatalf("empty board: item=%v err=%v", item, err)
	}
	medium := mustCreate(t, env, engine.TicketCreateOptions{Title: "medium", Priority: domain.PriorityMedium})
	high := mustCreate(t, env, engine.TicketCreateOptions{Title: "high", Priority: domain.PriorityHigh})
	mustMove(t, env, medium.ID, domain.StatusReady)
	mustMove(t, env, high.ID, domain.StatusReady)

	item, err := env.Engine.NextWorkItem(env.Ctx)
	if err != nil {
		t.Fatalf("next work: %v", err)
	}
	if item == nil || item.ID != high.ID {
		t.Fatalf("expected %s first, got %+v", high.ID, item)
	}

	// fill in-progress to its limit of 2
	a := mustCreate(t, env, engine.TicketCreateOptions{Title: "wip a"})
	b := mustCreate(t, env, engine.TicketCreateOptions{Title: "wip b"})
	mustMove(t, env, a.ID, domain.StatusInProgress)
	mustMove(t, env, b.ID, domain.StatusInProgress)
	item, err = env.Engine.NextWorkItem(env.Ctx)
	if err != nil {
		t.Fatalf("next work at limit: %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil while in-progress is full, got %s", item.ID)
	}
}

func TestNextRefinementItemPrefersBigTypes(t *testing.T) {
	env := newTestEnv(t)
	chore := mustCreate(t, env, engine.TicketCreateOptions{Title: "old chore", Type: domain.TypeChore})
	*env.Clock = env.Clock.Add(time.Hour)
	feature := mustCreate(t, env, engine.TicketCreateOptions{Title: "newer feature", Type: domain.TypeFeature})

	item, err := env.Engine.NextRefinementItem(env.Ctx)
	if err != nil {
		t.Fatalf("next refine: %v", err)
	}
	if item == nil || item.ID != feature.ID {
		t.Fatalf("expected feature preferred over older chore, got %+v", item)
	}

	// without any feature in backlog, oldest wins
	mustMove(t, env, feature.ID, domain.StatusReady)
	item, err = env.Engine.NextRefinementItem(env.Ctx)
	if err != nil {
		t.Fatalf("next refine: %v", err)
	}
	if item == nil || item.ID != chore.ID {
		t.Fatalf("expected oldest backlog item, got %+v", item)
	}
}

func TestNextRefinementItemHonorsReadyLimit(t *testing.T) {
	env := newTestEnv(t)
	// stock ready limit is 5
	for i := 0; i < 5; i++ {
		tk := mustCreate(t, env, engine.TicketCreateOptions{Title: "filler"})
		mustMove(t, env, tk.ID, domain.StatusReady)
	}
	mustCreate(t, env, engine.TicketCreateOptions{Title: "waiting"})
	item, err := env.Engine.NextRefinementItem(env.Ctx)
	if err != nil {
		t.Fatalf("next refine: %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil while ready is full, got %s", item.ID)
	}
}

func TestStaleTickets(t *testing.T) {
	env := newTestEnv(t)
	stale := mustCreate(t, env, engine.TicketCreateOptions{Title: "stale"})
	mustMove(t, env, stale.ID, domain.StatusInProgress)
	*env.Clock = env.Clock.Add(25 * time.Hour)
	fresh := mustCreate(t, env, engine.TicketCreateOptions{Title: "fresh"})
	mustMove(t, env, fresh.ID, domain.StatusInProgress)

	got, err := env.Engine.StaleTickets(env.Ctx, 0)
	if err != nil {
		t.Fatalf("stale: %v", err)
	}
	if len(got) != 1 || got[0].ID != stale.ID {
		t.Fatalf("expected only the 25h ticket, got %+v", got)
	}
	// a wider threshold excludes it again
	got, err = env.Engine.StaleTickets(env.Ctx, 48)
	if err != nil {
		t.Fatalf("stale 48h: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected none at 48h, got %d", len(got))
	}
}

func TestBlockedTickets(t *testing.T) {
	env := newTestEnv(t)
	dep := mustCreate(t, env, engine.TicketCreateOptions{Title: "dep"})
	blocked := mustCreate(t, env, engine.TicketCreateOptions{Title: "blocked", BlockedBy: []string{dep.ID}})
	free := mustCreate(t, env, engine.TicketCreateOptions{Title: "free"})

	got, err := env.Engine.BlockedTickets(env.Ctx)
	if err != nil {
		t.Fatalf("blocked: %v", err)
	}
	if len(got) != 1 || got[0].ID != blocked.ID {
		t.Fatalf("expected only %s, got %+v", blocked.ID, got)
	}

	mustMove(t, env, dep.ID, domain.StatusDone)
	got, err = env.Engine.BlockedTickets(env.Ctx)
	if err != nil {
		t.Fatalf("blocked after dep done: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected none after dependency done, got %d", len(got))
	}
	_ = free
}

func TestChildren(t *testing.T) {
	env := newTestEnv(t)
	parent := mustCreate(t, env, engine.TicketCreateOptions{Title: "parent"})
	child := mustCreate(t, env, engine.TicketCreateOptions{Title: "child", Parent: parent.ID})
	mustCreate(t, env, engine.TicketCreateOptions{Title: "unrelated"})

	got, err := env.Engine.Children(env.Ctx, parent.ID)
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(got) != 1 || got[0].ID != child.ID {
		t.Fatalf("expected %s, got %+v", child.ID, got)
	}
	if _, err := env.Engine.Children(env.Ctx, "PROJ-999"); err == nil {
		t.Fatalf("expected not found for missing parent")
	}
}

func TestSummary(t *testing.T) {
	env := newTestEnv(t)
	backlogged := mustCreate(t, env, engine.TicketCreateOptions{Title: "backlogged"})
	working := mustCreate(t, env, engine.TicketCreateOptions{Title: "working"})
	finished := mustCreate(t, env, engine.TicketCreateOptions{Title: "finished"})
	mustMove(t, env, working.ID, domain.StatusInProgress)
	mustMove(t, env, finished.ID, domain.StatusDone)
	*env.Clock = env.Clock.Add(50 * time.Hour)

	s, err := env.Engine.Summary(env.Ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if s.Total != 3 || s.Open != 2 || s.Completed != 1 {
		t.Fatalf("counts: %+v", s)
	}
	if s.Stale != 1 {
		t.Fatalf("stale count = %d, want 1", s.Stale)
	}
	counts := map[string]int{}
	for _, col := range s.Columns {
		counts[col.Status] = col.Count
	}
	if counts[domain.StatusBacklog] != 1 || counts[domain.StatusInProgress] != 1 || counts[domain.StatusDone] != 1 {
		t.Fatalf("column counts: %v", counts)
	}
	// 50h is over the 48h cutover, so both ages render in days
	if s.OldestBacklogAge != "2d" {
		t.Fatalf("oldest backlog age = %q, want 2d", s.OldestBacklogAge)
	}
	if s.OldestInProgressAge != "2d" {
		t.Fatalf("oldest in-progress age = %q, want 2d", s.OldestInProgressAge)
	}
	_ = backlogged
}

func TestSummaryAgeInHours(t *testing.T) {
	env := newTestEnv(t)
	mustCreate(t, env, engine.TicketCreateOptions{Title: "young"})
	*env.Clock = env.Clock.Add(5 * time.Hour)
	s, err := env.Engine.Summary(env.Ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if s.OldestBacklogAge != "5h" {
		t.Fatalf("oldest backlog age = %q, want 5h", s.OldestBacklogAge)
	}
	if s.OldestInProgressAge != "" {
		t.Fatalf("no in-progress tickets, got age %q", s.OldestInProgressAge)
	}
}
