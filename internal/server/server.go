// Package server exposes the board operations over HTTP. It is a
// parameter-marshaling shim: each operation resolves a workspace key,
// builds an engine, and maps the result or error into a structured
// envelope.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"boardline/internal/app"
	"boardline/internal/domain"
	"boardline/internal/engine"
	"boardline/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	// Root is the directory that workspace keys resolve under.
	Root     string
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"capacity_exceeded"`
	Message string         `json:"message" example:"column review at WIP limit (3/3)"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Boardline API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Root == "" {
		return nil, errors.New("server root directory is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Boardline API", "0.1.0")
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	s := service{root: cfg.Root, hooks: newHookRunner()}
	registerHealth(group)
	s.registerBoard(group)
	s.registerTickets(group)
	s.registerQueries(group)
	s.registerEvents(group)

	return router, nil
}

type service struct {
	root  string
	hooks *hookRunner
}

// engineFor resolves a workspace key under the server root. Keys must be a
// single path element so a caller can never reach outside the root.
func (s service) engineFor(key string) (engine.Engine, func() error, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return engine.Engine{}, nil, errors.New("workspace is required")
	}
	if key != filepath.Base(key) || key == ".." || key == "." {
		return engine.Engine{}, nil, fmt.Errorf("invalid workspace %q", key)
	}
	path := filepath.Join(s.root, key)
	s.hooks.ensure(key, path)
	return app.Open(path)
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ce engine.CapacityError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "capacity_exceeded", err.Error(), map[string]any{
			"status": ce.Status,
			"limit":  ce.Limit,
			"count":  ce.Count,
		})
	}
	if errors.Is(err, engine.ErrNotInitialized) {
		return newAPIError(http.StatusConflict, "not_initialized", err.Error(), nil)
	}
	if errors.Is(err, store.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "decode"):
		return newAPIError(http.StatusUnprocessableEntity, "malformed_record", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "malformed_record"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func (s service) registerBoard(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "board-init",
		Method:        http.MethodPost,
		Path:          "/board/init",
		Summary:       "Initialize a board (idempotent)",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body InitBoardRequest `json:"body"`
	}) (*struct {
		Body domain.Board `json:"body"`
	}, error) {
		if input.Body.ProjectID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "project_id is required", nil)
		}
		e, closeFn, err := s.engineFor(input.Body.Workspace)
		if err != nil {
			return nil, handleError(err)
		}
		defer closeFn()
		b, err := e.InitBoard(ctx, input.Body.ProjectID, input.Body.ProjectName, actorFrom(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Board `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "board-status",
		Method:      http.MethodGet,
		Path:        "/board/status",
		Summary:     "Board summary",
	}, func(ctx context.Context, input *struct {
		Workspace string `query:"workspace"`
	}) (*struct {
		Body engine.BoardSummary `json:"body"`
	}, error) {
		e, closeFn, err := s.engineFor(input.Workspace)
		if err != nil {
			return nil, handleError(err)
		}
		defer closeFn()
		summary, err := e.Summary(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.BoardSummary `json:"body"`
		}{Body: summary}, nil
	})
}

func (s service) registerTickets(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "board-create",
		Method:        http.MethodPost,
		Path:          "/board/tickets",
		Summary:       "Create a ticket",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateTicketRequest `json:"body"`
	}) (*struct {
		Body domain.Ticket `json:"body"`
	}, error) {
		e, closeFn, err := s.engineFor(input.Body.Workspace)
		if err != nil {
			return nil, handleError(err)
		}
		defer closeFn()
		t, err := e.CreateTicket(ctx, engine.TicketCreateOptions{
			Title:            input.Body.Title,
			Type:             input.Body.Type,
			Priority:         input.Body.Priority,
			Intent:           input.Body.Intent,
			AcceptanceSignal: input.Body.AcceptanceSignal,
			Parent:           input.Body.Parent,
			BlockedBy:        input.Body.BlockedBy,
			Actor:            actorFrom(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Ticket `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "board-list",
		Method:      http.MethodGet,
		Path:        "/board/tickets",
		Summary:     "List tickets, optionally filtered by status",
	}, func(ctx context.Context, input *struct {
		Workspace string `query:"workspace"`
		Status    string `query:"status"`
	}) (*struct {
		Body TicketListResponse `json:"body"`
	}, error) {
		e, closeFn, err := s.engineFor(input.Workspace)
		if err != nil {
			return nil, handleError(err)
		}
		defer closeFn()
		var tickets []domain.Ticket
		if input.Status == "" {
			tickets, err = e.ListTickets(ctx)
		} else {
			tickets, err = e.TicketsByStatus(ctx, input.Status)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TicketListResponse `json:"body"`
		}{Body: TicketListResponse{Tickets: tickets}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "board-view",
		Method:      http.MethodGet,
		Path:        "/board/tickets/{id}",
		Summary:     "View a ticket",
	}, func(ctx context.Context, input *struct {
		ID        string `path:"id"`
		Workspace string `query:"workspace"`
	}) (*struct {
		Body domain.Ticket `json:"body"`
	}, error) {
		e, closeFn, err := s.engineFor(input.Workspace)
		if err != nil {
			return nil, handleError(err)
		}
		defer closeFn()
		t, err := e.GetTicket(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Ticket `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "board-update",
		Method:      http.MethodPatch,
		Path:        "/board/tickets/{id}",
		Summary:     "Update ticket fields",
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body UpdateTicketRequest `json:"body"`
	}) (*struct {
		Body domain.Ticket `json:"body"`
	}, error) {
		e, closeFn, err := s.engineFor(input.Body.Workspace)
		if err != nil {
			return nil, handleError(err)
		}
		defer closeFn()
		t, err := e.UpdateTicket(ctx, input.ID, input.Body.patch(actorFrom(ctx)))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Ticket `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "board-move",
		Method:      http.MethodPost,
		Path:        "/board/tickets/{id}/move",
		Summary:     "Move a ticket to another column",
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body MoveTicketRequest `json:"body"`
	}) (*struct {
		Body domain.Ticket `json:"body"`
	}, error) {
		e, closeFn, err := s.engineFor(input.Body.Workspace)
		if err != nil {
			return nil, handleError(err)
		}
		defer closeFn()
		t, err := e.MoveTicket(ctx, input.ID, input.Body.To, input.Body.Note, actorFrom(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Ticket `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "board-delete",
		Method:      http.MethodDelete,
		Path:        "/board/tickets/{id}",
		Summary:     "Delete a ticket",
	}, func(ctx context.Context, input *struct {
		ID        string `path:"id"`
		Workspace string `query:"workspace"`
	}) (*struct {
		Body DeleteResponse `json:"body"`
	}, error) {
		e, closeFn, err := s.engineFor(input.Workspace)
		if err != nil {
			return nil, handleError(err)
		}
		defer closeFn()
		deleted, err := e.DeleteTicket(ctx, input.ID, actorFrom(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeleteResponse `json:"body"`
		}{Body: DeleteResponse{Deleted: deleted}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "board-comment",
		Method:        http.MethodPost,
		Path:          "/board/tickets/{id}/comments",
		Summary:       "Append a comment",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body CommentRequest `json:"body"`
	}) (*struct {
		Body domain.Ticket `json:"body"`
	}, error) {
		e, closeFn, err := s.engineFor(input.Body.Workspace)
		if err != nil {
			return nil, handleError(err)
		}
		defer closeFn()
		author := input.Body.Author
		if author == "" {
			author = actorFrom(ctx)
		}
		t, err := e.AddComment(ctx, input.ID, author, input.Body.Text)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Ticket `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "board-children",
		Method:      http.MethodGet,
		Path:        "/board/tickets/{id}/children",
		Summary:     "List child tickets",
	}, func(ctx context.Context, input *struct {
		ID        string `path:"id"`
		Workspace string `query:"workspace"`
	}) (*struct {
		Body TicketListResponse `json:"body"`
	}, error) {
		e, closeFn, err := s.engineFor(input.Workspace)
		if err != nil {
			return nil, handleError(err)
		}
		defer closeFn()
		children, err := e.Children(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TicketListResponse `json:"body"`
		}{Body: TicketListResponse{Tickets: children}}, nil
	})
}

func (s service) registerQueries(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "board-next-work",
		Method:      http.MethodGet,
		Path:        "/board/next-work",
		Summary:     "Next ticket to pull into in-progress",
	}, func(ctx context.Context, input *struct {
		Workspace string `query:"workspace"`
	}) (*struct {
		Body NextTicketResponse `json:"body"`
	}, error) {
		e, closeFn, err := s.engineFor(input.Workspace)
		if err != nil {
			return nil, handleError(err)
		}
		defer closeFn()
		t, err := e.NextWorkItem(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NextTicketResponse `json:"body"`
		}{Body: NextTicketResponse{Ticket: t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "board-next-refine",
		Method:      http.MethodGet,
		Path:        "/board/next-refine",
		Summary:     "Next backlog ticket to refine",
	}, func(ctx context.Context, input *struct {
		Workspace string `query:"workspace"`
	}) (*struct {
		Body NextTicketResponse `json:"body"`
	}, error) {
		e, closeFn, err := s.engineFor(input.Workspace)
		if err != nil {
			return nil, handleError(err)
		}
		defer closeFn()
		t, err := e.NextRefinementItem(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NextTicketResponse `json:"body"`
		}{Body: NextTicketResponse{Ticket: t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "board-stale",
		Method:      http.MethodGet,
		Path:        "/board/stale",
		Summary:     "In-progress tickets older than the staleness threshold",
	}, func(ctx context.Context, input *struct {
		Workspace string `query:"workspace"`
		Hours     int    `query:"hours"`
	}) (*struct {
		Body TicketListResponse `json:"body"`
	}, error) {
		e, closeFn, err := s.engineFor(input.Workspace)
		if err != nil {
			return nil, handleError(err)
		}
		defer closeFn()
		tickets, err := e.StaleTickets(ctx, input.Hours)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TicketListResponse `json:"body"`
		}{Body: TicketListResponse{Tickets: tickets}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "board-blocked",
		Method:      http.MethodGet,
		Path:        "/board/blocked",
		Summary:     "Tickets blocked by unfinished tickets",
	}, func(ctx context.Context, input *struct {
		Workspace string `query:"workspace"`
	}) (*struct {
		Body TicketListResponse `json:"body"`
	}, error) {
		e, closeFn, err := s.engineFor(input.Workspace)
		if err != nil {
			return nil, handleError(err)
		}
		defer closeFn()
		tickets, err := e.BlockedTickets(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TicketListResponse `json:"body"`
		}{Body: TicketListResponse{Tickets: tickets}}, nil
	})
}

func (s service) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "board-events",
		Method:      http.MethodGet,
		Path:        "/board/events",
		Summary:     "Tail the transition journal",
	}, func(ctx context.Context, input *struct {
		Workspace string `query:"workspace"`
		N         int    `query:"n"`
		Type      string `query:"type"`
		TicketID  string `query:"ticket_id"`
	}) (*struct {
		Body EventsResponse `json:"body"`
	}, error) {
		e, closeFn, err := s.engineFor(input.Workspace)
		if err != nil {
			return nil, handleError(err)
		}
		defer closeFn()
		entries, err := e.Events.Tail(ctx, input.N, input.Type, input.TicketID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventsResponse `json:"body"`
		}{Body: EventsResponse{Events: entries}}, nil
	})
}

// actorFrom names the caller for journal entries. There is no
// authentication layer, so remote callers are recorded uniformly.
func actorFrom(ctx context.Context) string {
	return "api"
}
