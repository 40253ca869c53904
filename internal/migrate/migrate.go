// Package migrate normalizes ticket records written under the previous
// schema generation into the current shape. Normalization happens lazily on
// every read; stored files are never batch-rewritten.
package migrate

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"boardline/internal/config"
	"boardline/internal/domain"
)

// Record is the raw decoded shape of a ticket file. It carries the current
// fields plus every legacy field the migrator knows how to map. Legacy fields
// with no current counterpart (researchNotes, estimate, labels, tags,
// assignee, staleAt) are simply not decoded and disappear on the next save.
type Record struct {
	ID               string               `yaml:"id"`
	Title            string               `yaml:"title"`
	Type             string               `yaml:"type"`
	Priority         string               `yaml:"priority"`
	Intent           string               `yaml:"intent"`
	AcceptanceSignal string               `yaml:"acceptanceSignal"`
	Status           string               `yaml:"status"`
	Parent           string               `yaml:"parent"`
	BlockedBy        []string             `yaml:"blockedBy"`
	RejectionCount   int                  `yaml:"rejectionCount"`
	CodeLocation     *domain.CodeLocation `yaml:"codeLocation"`
	Comments         []domain.Comment     `yaml:"comments"`
	CreatedAt        string               `yaml:"createdAt"`
	UpdatedAt        string               `yaml:"updatedAt"`
	StatusChangedAt  string               `yaml:"statusChangedAt"`
	CompletedAt      string               `yaml:"completedAt"`

	// Legacy schema fields, mapped below.
	Description        string   `yaml:"description"`
	AcceptanceCriteria []string `yaml:"acceptanceCriteria"`
	ProgressNotes      []string `yaml:"progressNotes"`
	ParentID           string   `yaml:"parentId"`
}

// Normalize maps a raw record into the current Ticket shape. It is pure and
// idempotent: a record already in the current shape passes through unchanged,
// and normalizing twice yields the same result as normalizing once.
func Normalize(r Record, rules config.MigrationRules) domain.Ticket {
	t := domain.Ticket{
		ID:               r.ID,
		Title:            r.Title,
		Type:             r.Type,
		Priority:         r.Priority,
		Intent:           r.Intent,
		AcceptanceSignal: r.AcceptanceSignal,
		Status:           r.Status,
		Parent:           r.Parent,
		BlockedBy:        r.BlockedBy,
		RejectionCount:   r.RejectionCount,
		CodeLocation:     r.CodeLocation,
		Comments:         r.Comments,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		StatusChangedAt:  r.StatusChangedAt,
		CompletedAt:      r.CompletedAt,
	}
	if mapped, ok := rules.Types[t.Type]; ok {
		t.Type = mapped
	}
	if mapped, ok := rules.Statuses[t.Status]; ok {
		t.Status = mapped
	}
	if t.Intent == "" && r.Description != "" {
		t.Intent = r.Description
	}
	if t.AcceptanceSignal == "" && len(r.AcceptanceCriteria) > 0 {
		t.AcceptanceSignal = strings.Join(r.AcceptanceCriteria, "\n")
	}
	if t.Parent == "" && r.ParentID != "" {
		t.Parent = r.ParentID
	}
	// Synthesize comments from legacy progress notes, but only when the
	// record has none, so repeated reads never duplicate them.
	if len(t.Comments) == 0 && len(r.ProgressNotes) > 0 {
		for i, note := range r.ProgressNotes {
			t.Comments = append(t.Comments, domain.Comment{
				ID:        noteCommentID(r.ID, i),
				Author:    "system",
				Text:      note,
				CreatedAt: r.CreatedAt,
			})
		}
	}
	return t
}

// noteCommentID is deterministic so Normalize stays a pure function.
func noteCommentID(ticketID string, i int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s|note|%d", ticketID, i))).String()
}
