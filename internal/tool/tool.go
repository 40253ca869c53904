// Package tool adapts board operations to agent tool invocations: a flat
// action name plus string arguments in, a human-readable summary plus
// structured data out.
package tool

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"boardline/internal/domain"
	"boardline/internal/engine"
)

// Request is one tool invocation.
type Request struct {
	Action string
	Args   map[string]string
	Actor  string
}

// Result pairs a formatted summary with the structured payload.
type Result struct {
	Summary string `json:"summary"`
	Data    any    `json:"data,omitempty"`
}

// Actions lists every supported action name.
var Actions = []string{
	"init", "status", "list", "view", "create", "update", "move", "delete",
	"next-work", "next-refine", "stale", "blocked", "children", "comment",
}

// Invoke dispatches an action against the engine.
func Invoke(ctx context.Context, e engine.Engine, req Request) (Result, error) {
	actor := req.Actor
	if actor == "" {
		actor = "agent"
	}
	arg := func(key string) string { return req.Args[key] }

	switch req.Action {
	case "init":
		b, err := e.InitBoard(ctx, arg("project"), arg("name"), actor)
		if err != nil {
			return Result{}, err
		}
		return Result{
			Summary: fmt.Sprintf("Board %s ready (%d columns, prefix %s)", b.ProjectID, len(b.Columns), b.Settings.TicketPrefix),
			Data:    b,
		}, nil

	case "status":
		s, err := e.Summary(ctx)
		if err != nil {
			return Result{}, err
		}
		return Result{Summary: summaryText(s), Data: s}, nil

	case "list":
		var (
			tickets []domain.Ticket
			err     error
		)
		if status := arg("status"); status != "" {
			tickets, err = e.TicketsByStatus(ctx, status)
		} else {
			tickets, err = e.ListTickets(ctx)
		}
		if err != nil {
			return Result{}, err
		}
		return Result{Summary: ticketTable(tickets), Data: tickets}, nil

	case "view":
		t, err := e.GetTicket(ctx, arg("id"))
		if err != nil {
			return Result{}, err
		}
		return Result{Summary: ticketText(t), Data: t}, nil

	case "create":
		t, err := e.CreateTicket(ctx, engine.TicketCreateOptions{
			Title:            arg("title"),
			Type:             arg("type"),
			Priority:         arg("priority"),
			Intent:           arg("intent"),
			AcceptanceSignal: arg("acceptance"),
			Parent:           arg("parent"),
			BlockedBy:        splitList(arg("blocked-by")),
			Actor:            actor,
		})
		if err != nil {
			return Result{}, err
		}
		return Result{Summary: fmt.Sprintf("Created %s (%s) in %s", t.ID, t.Title, t.Status), Data: t}, nil

	case "update":
		patch := engine.TicketPatch{Actor: actor}
		if v, ok := req.Args["title"]; ok {
			patch.Title = &v
		}
		if v, ok := req.Args["type"]; ok {
			patch.Type = &v
		}
		if v, ok := req.Args["priority"]; ok {
			patch.Priority = &v
		}
		if v, ok := req.Args["intent"]; ok {
			patch.Intent = &v
		}
		if v, ok := req.Args["acceptance"]; ok {
			patch.AcceptanceSignal = &v
		}
		if v, ok := req.Args["parent"]; ok {
			patch.Parent = &v
		}
		if v, ok := req.Args["blocked-by"]; ok {
			list := splitList(v)
			patch.BlockedBy = &list
		}
		t, err := e.UpdateTicket(ctx, arg("id"), patch)
		if err != nil {
			return Result{}, err
		}
		return Result{Summary: fmt.Sprintf("Updated %s", t.ID), Data: t}, nil

	case "move":
		t, err := e.MoveTicket(ctx, arg("id"), arg("to"), arg("note"), actor)
		if err != nil {
			return Result{}, err
		}
		return Result{Summary: fmt.Sprintf("Moved %s to %s", t.ID, t.Status), Data: t}, nil

	case "delete":
		deleted, err := e.DeleteTicket(ctx, arg("id"), actor)
		if err != nil {
			return Result{}, err
		}
		if !deleted {
			return Result{Summary: fmt.Sprintf("Nothing to delete: %s not found", arg("id")), Data: deleted}, nil
		}
		return Result{Summary: fmt.Sprintf("Deleted %s", arg("id")), Data: deleted}, nil

	case "next-work":
		t, err := e.NextWorkItem(ctx)
		if err != nil {
			return Result{}, err
		}
		if t == nil {
			return Result{Summary: "No ticket to pull: ready is empty or in-progress is at its WIP limit"}, nil
		}
		return Result{Summary: fmt.Sprintf("Next: %s (%s)", t.ID, t.Title), Data: t}, nil

	case "next-refine":
		t, err := e.NextRefinementItem(ctx)
		if err != nil {
			return Result{}, err
		}
		if t == nil {
			return Result{Summary: "Nothing to refine: backlog is empty or ready is at its WIP limit"}, nil
		}
		return Result{Summary: fmt.Sprintf("Refine next: %s (%s, %s)", t.ID, t.Title, t.Type), Data: t}, nil

	case "stale":
		hours := 0
		if v := arg("hours"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return Result{}, fmt.Errorf("invalid hours %q", v)
			}
			hours = parsed
		}
		tickets, err := e.StaleTickets(ctx, hours)
		if err != nil {
			return Result{}, err
		}
		if len(tickets) == 0 {
			return Result{Summary: "No stale tickets", Data: tickets}, nil
		}
		return Result{Summary: ticketTable(tickets), Data: tickets}, nil

	case "blocked":
		tickets, err := e.BlockedTickets(ctx)
		if err != nil {
			return Result{}, err
		}
		if len(tickets) == 0 {
			return Result{Summary: "No blocked tickets", Data: tickets}, nil
		}
		return Result{Summary: ticketTable(tickets), Data: tickets}, nil

	case "children":
		tickets, err := e.Children(ctx, arg("id"))
		if err != nil {
			return Result{}, err
		}
		return Result{Summary: ticketTable(tickets), Data: tickets}, nil

	case "comment":
		t, err := e.AddComment(ctx, arg("id"), actor, arg("text"))
		if err != nil {
			return Result{}, err
		}
		return Result{Summary: fmt.Sprintf("Commented on %s", t.ID), Data: t}, nil

	default:
		return Result{}, fmt.Errorf("unknown action %q (known: %s)", req.Action, strings.Join(Actions, ", "))
	}
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func ticketTable(tickets []domain.Ticket) string {
	if len(tickets) == 0 {
		return "No tickets"
	}
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"ID", "Title", "Type", "Priority", "Status"})
	for _, t := range tickets {
		tw.AppendRow(table.Row{t.ID, t.Title, t.Type, t.Priority, t.Status})
	}
	return tw.Render()
}

func ticketText(t domain.Ticket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s [%s]\n", t.ID, t.Title, t.Status)
	fmt.Fprintf(&b, "type=%s", t.Type)
	if t.Priority != "" {
		fmt.Fprintf(&b, " priority=%s", t.Priority)
	}
	if t.RejectionCount > 0 {
		fmt.Fprintf(&b, " rejections=%d", t.RejectionCount)
	}
	b.WriteByte('\n')
	if t.Intent != "" {
		fmt.Fprintf(&b, "intent: %s\n", t.Intent)
	}
	if t.AcceptanceSignal != "" {
		fmt.Fprintf(&b, "acceptance: %s\n", t.AcceptanceSignal)
	}
	if t.CodeLocation != nil {
		fmt.Fprintf(&b, "branch: %s\n", t.CodeLocation.Branch)
	}
	if len(t.Comments) > 0 {
		fmt.Fprintf(&b, "comments: %d\n", len(t.Comments))
	}
	return strings.TrimRight(b.String(), "\n")
}

func summaryText(s engine.BoardSummary) string {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Column", "Count", "WIP Limit"})
	for _, col := range s.Columns {
		limit := "-"
		if col.WIPLimit != nil {
			limit = strconv.Itoa(*col.WIPLimit)
		}
		tw.AppendRow(table.Row{col.Name, col.Count, limit})
	}
	header := fmt.Sprintf("%s: %d open, %d done, %d stale", s.ProjectID, s.Open, s.Completed, s.Stale)
	if s.OldestBacklogAge != "" {
		header += fmt.Sprintf(", oldest backlog %s", s.OldestBacklogAge)
	}
	if s.OldestInProgressAge != "" {
		header += fmt.Sprintf(", oldest in-progress %s", s.OldestInProgressAge)
	}
	return header + "\n" + tw.Render()
}
