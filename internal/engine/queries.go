package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"boardline/internal/domain"
)

// ListTickets returns every ticket on the board in sorted order.
func (e Engine) ListTickets(ctx context.Context) ([]domain.Ticket, error) {
	all, err := e.Store.ListTickets()
	if err != nil {
		return nil, err
	}
	sortTickets(all)
	return all, nil
}

// TicketsByStatus filters to one column and sorts by priority rank, then
// creation time, then id. The key is total, so the order is deterministic.
func (e Engine) TicketsByStatus(ctx context.Context, status string) ([]domain.Ticket, error) {
	if !domain.ValidStatus(status) {
		return nil, fmt.Errorf("invalid status %q", status)
	}
	all, err := e.Store.ListTickets()
	if err != nil {
		return nil, err
	}
	var out []domain.Ticket
	for _, t := range all {
		if t.Status == status {
			out = append(out, t)
		}
	}
	sortTickets(out)
	return out, nil
}

func sortTickets(ts []domain.Ticket) {
	sort.SliceStable(ts, func(i, j int) bool {
		ri, rj := domain.PriorityRank(ts[i].Priority), domain.PriorityRank(ts[j].Priority)
		if ri != rj {
			return ri < rj
		}
		if ts[i].CreatedAt != ts[j].CreatedAt {
			return ts[i].CreatedAt < ts[j].CreatedAt
		}
		return ts[i].ID < ts[j].ID
	})
}

// NextWorkItem returns the head of the sorted ready column, or nil when
// ready is empty or the in-progress column is already at its WIP limit.
func (e Engine) NextWorkItem(ctx context.Context) (*domain.Ticket, error) {
	board, err := e.Board(ctx)
	if err != nil {
		return nil, err
	}
	all, err := e.Store.ListTickets()
	if err != nil {
		return nil, err
	}
	if atWIPLimit(board, all, domain.StatusInProgress) {
		return nil, nil
	}
	var ready []domain.Ticket
	for _, t := range all {
		if t.Status == domain.StatusReady {
			ready = append(ready, t)
		}
	}
	if len(ready) == 0 {
		return nil, nil
	}
	sortTickets(ready)
	head := ready[0]
	return &head, nil
}

// NextRefinementItem returns the backlog ticket to refine next: the oldest
// of a configured "big" type if any, otherwise the oldest overall. Nil when
// backlog is empty or the ready column is at its WIP limit.
func (e Engine) NextRefinementItem(ctx context.Context) (*domain.Ticket, error) {
	board, err := e.Board(ctx)
	if err != nil {
		return nil, err
	}
	all, err := e.Store.ListTickets()
	if err != nil {
		return nil, err
	}
	if atWIPLimit(board, all, domain.StatusReady) {
		return nil, nil
	}
	var backlog []domain.Ticket
	for _, t := range all {
		if t.Status == domain.StatusBacklog {
			backlog = append(backlog, t)
		}
	}
	if len(backlog) == 0 {
		return nil, nil
	}
	sort.SliceStable(backlog, func(i, j int) bool {
		if backlog[i].CreatedAt != backlog[j].CreatedAt {
			return backlog[i].CreatedAt < backlog[j].CreatedAt
		}
		return backlog[i].ID < backlog[j].ID
	})
	big := map[string]bool{}
	for _, t := range e.Config.Refinement.BigTypes {
		big[t] = true
	}
	for _, t := range backlog {
		if big[t.Type] {
			item := t
			return &item, nil
		}
	}
	head := backlog[0]
	return &head, nil
}

func atWIPLimit(board domain.Board, all []domain.Ticket, status string) bool {
	col := board.Column(status)
	if col == nil || col.WIPLimit == nil {
		return false
	}
	count := 0
	for _, t := range all {
		if t.Status == status {
			count++
		}
	}
	return count >= *col.WIPLimit
}

// StaleTickets returns in-progress tickets whose last status change is older
// than maxHours. Zero or negative maxHours falls back to the board setting.
func (e Engine) StaleTickets(ctx context.Context, maxHours int) ([]domain.Ticket, error) {
	board, err := e.Board(ctx)
	if err != nil {
		return nil, err
	}
	if maxHours <= 0 {
		maxHours = board.Settings.StaleHours
	}
	all, err := e.Store.ListTickets()
	if err != nil {
		return nil, err
	}
	cutoff := e.now().UTC().Add(-time.Duration(maxHours) * time.Hour)
	var out []domain.Ticket
	for _, t := range all {
		if t.Status != domain.StatusInProgress || t.StatusChangedAt == "" {
			continue
		}
		changed, err := time.Parse(time.RFC3339, t.StatusChangedAt)
		if err != nil {
			continue
		}
		if changed.Before(cutoff) {
			out = append(out, t)
		}
	}
	sortTickets(out)
	return out, nil
}

// BlockedTickets returns tickets whose blockedBy list names any ticket that
// is not yet done.
func (e Engine) BlockedTickets(ctx context.Context) ([]domain.Ticket, error) {
	all, err := e.Store.ListTickets()
	if err != nil {
		return nil, err
	}
	done := map[string]bool{}
	for _, t := range all {
		if t.Status == domain.StatusDone {
			done[t.ID] = true
		}
	}
	var out []domain.Ticket
	for _, t := range all {
		for _, dep := range t.BlockedBy {
			if !done[dep] {
				out = append(out, t)
				break
			}
		}
	}
	sortTickets(out)
	return out, nil
}

// Children returns the tickets whose parent is the given id.
func (e Engine) Children(ctx context.Context, id string) ([]domain.Ticket, error) {
	parent, err := e.Store.LoadTicket(id)
	if err != nil {
		return nil, err
	}
	all, err := e.Store.ListTickets()
	if err != nil {
		return nil, err
	}
	var out []domain.Ticket
	for _, t := range all {
		if t.Parent == parent.ID {
			out = append(out, t)
		}
	}
	sortTickets(out)
	return out, nil
}

// ColumnSummary is the per-column slice of a board summary.
type ColumnSummary struct {
	Status   string `json:"status"`
	Name     string `json:"name"`
	Count    int    `json:"count"`
	WIPLimit *int   `json:"wip_limit,omitempty"`
}

// BoardSummary aggregates whole-board statistics.
type BoardSummary struct {
	ProjectID           string          `json:"project_id"`
	ProjectName         string          `json:"project_name"`
	Columns             []ColumnSummary `json:"columns"`
	Total               int             `json:"total"`
	Open                int             `json:"open"`
	Completed           int             `json:"completed"`
	Stale               int             `json:"stale"`
	OldestBacklogAge    string          `json:"oldest_backlog_age,omitempty"`
	OldestInProgressAge string          `json:"oldest_in_progress_age,omitempty"`
}

// Summary computes per-column counts across the full status enumeration,
// totals, the stale count at the board threshold, and the age of the oldest
// backlog and in-progress items, formatted as "Nh" or "Nd".
func (e Engine) Summary(ctx context.Context) (BoardSummary, error) {
	board, err := e.Board(ctx)
	if err != nil {
		return BoardSummary{}, err
	}
	all, err := e.Store.ListTickets()
	if err != nil {
		return BoardSummary{}, err
	}
	counts := map[string]int{}
	for _, t := range all {
		counts[t.Status]++
	}
	s := BoardSummary{
		ProjectID:   board.ProjectID,
		ProjectName: board.ProjectName,
		Total:       len(all),
	}
	for _, col := range board.Columns {
		s.Columns = append(s.Columns, ColumnSummary{
			Status:   col.ID,
			Name:     col.Name,
			Count:    counts[col.ID],
			WIPLimit: col.WIPLimit,
		})
	}
	s.Completed = counts[domain.StatusDone]
	s.Open = s.Total - s.Completed
	stale, err := e.StaleTickets(ctx, board.Settings.StaleHours)
	if err != nil {
		return BoardSummary{}, err
	}
	s.Stale = len(stale)
	now := e.now().UTC()
	if oldest := oldestTimestamp(all, domain.StatusBacklog, func(t domain.Ticket) string { return t.CreatedAt }); !oldest.IsZero() {
		s.OldestBacklogAge = formatAge(now.Sub(oldest))
	}
	if oldest := oldestTimestamp(all, domain.StatusInProgress, func(t domain.Ticket) string { return t.StatusChangedAt }); !oldest.IsZero() {
		s.OldestInProgressAge = formatAge(now.Sub(oldest))
	}
	return s, nil
}

func oldestTimestamp(all []domain.Ticket, status string, key func(domain.Ticket) string) time.Time {
	var oldest time.Time
	for _, t := range all {
		if t.Status != status {
			continue
		}
		ts, err := time.Parse(time.RFC3339, key(t))
		if err != nil {
			continue
		}
		if oldest.IsZero() || ts.Before(oldest) {
			oldest = ts
		}
	}
	return oldest
}

func formatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d.Hours())
	if hours >= 48 {
		return fmt.Sprintf("%dd", hours/24)
	}
	return fmt.Sprintf("%dh", hours)
}
