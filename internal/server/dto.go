package server

import (
	"boardline/internal/domain"
	"boardline/internal/engine"
	"boardline/internal/events"
)

// InitBoardRequest provisions a board in a workspace.
type InitBoardRequest struct {
	Workspace   string `json:"workspace" example:"acme"`
	ProjectID   string `json:"project_id" example:"acme-site"`
	ProjectName string `json:"project_name,omitempty" example:"Acme Site"`
}

// CreateTicketRequest adds a ticket to the backlog.
type CreateTicketRequest struct {
	Workspace        string   `json:"workspace"`
	Title            string   `json:"title"`
	Type             string   `json:"type,omitempty" enum:"feature,bugfix,chore,experiment"`
	Priority         string   `json:"priority,omitempty" enum:"critical,high,medium,low"`
	Intent           string   `json:"intent,omitempty"`
	AcceptanceSignal string   `json:"acceptance_signal,omitempty"`
	Parent           string   `json:"parent,omitempty"`
	BlockedBy        []string `json:"blocked_by,omitempty"`
}

// UpdateTicketRequest patches ticket fields. Absent fields are left
// unchanged; id, status and createdAt cannot be patched.
type UpdateTicketRequest struct {
	Workspace        string    `json:"workspace"`
	Title            *string   `json:"title,omitempty"`
	Type             *string   `json:"type,omitempty"`
	Priority         *string   `json:"priority,omitempty"`
	Intent           *string   `json:"intent,omitempty"`
	AcceptanceSignal *string   `json:"acceptance_signal,omitempty"`
	Parent           *string   `json:"parent,omitempty"`
	BlockedBy        *[]string `json:"blocked_by,omitempty"`
}

func (r UpdateTicketRequest) patch(actor string) engine.TicketPatch {
	return engine.TicketPatch{
		Title:            r.Title,
		Type:             r.Type,
		Priority:         r.Priority,
		Intent:           r.Intent,
		AcceptanceSignal: r.AcceptanceSignal,
		Parent:           r.Parent,
		BlockedBy:        r.BlockedBy,
		Actor:            actor,
	}
}

// MoveTicketRequest transitions a ticket to another column.
type MoveTicketRequest struct {
	Workspace string `json:"workspace"`
	To        string `json:"to" enum:"backlog,ready,in-progress,review,done"`
	Note      string `json:"note,omitempty"`
}

// CommentRequest appends an annotation.
type CommentRequest struct {
	Workspace string `json:"workspace"`
	Author    string `json:"author,omitempty"`
	Text      string `json:"text"`
}

type TicketListResponse struct {
	Tickets []domain.Ticket `json:"tickets"`
}

// NextTicketResponse carries an optional ticket; null means nothing to pull.
type NextTicketResponse struct {
	Ticket *domain.Ticket `json:"ticket"`
}

type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

type EventsResponse struct {
	Events []events.Entry `json:"events"`
}
