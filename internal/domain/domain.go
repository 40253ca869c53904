package domain

// SchemaVersion is the current board/ticket schema generation.
const SchemaVersion = 2

// Status identifiers, in board order.
const (
	StatusBacklog    = "backlog"
	StatusReady      = "ready"
	StatusInProgress = "in-progress"
	StatusReview     = "review"
	StatusDone       = "done"
)

// Statuses is the fixed, ordered column enumeration.
var Statuses = []string{StatusBacklog, StatusReady, StatusInProgress, StatusReview, StatusDone}

// Ticket types.
const (
	TypeFeature    = "feature"
	TypeBugfix     = "bugfix"
	TypeChore      = "chore"
	TypeExperiment = "experiment"
)

var Types = []string{TypeFeature, TypeBugfix, TypeChore, TypeExperiment}

// Priorities, highest first.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

var Priorities = []string{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// PriorityRank orders priorities for sorting; unset or unknown sorts last.
func PriorityRank(p string) int {
	for i, known := range Priorities {
		if p == known {
			return i
		}
	}
	return len(Priorities)
}

func ValidStatus(s string) bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

func ValidType(t string) bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

func ValidPriority(p string) bool {
	if p == "" {
		return true
	}
	for _, known := range Priorities {
		if p == known {
			return true
		}
	}
	return false
}

// Board is the per-workspace column configuration and project identity.
type Board struct {
	SchemaVersion int      `yaml:"schemaVersion" json:"schema_version"`
	ProjectID     string   `yaml:"projectId" json:"project_id"`
	ProjectName   string   `yaml:"projectName" json:"project_name"`
	Columns       []Column `yaml:"columns" json:"columns"`
	Settings      Settings `yaml:"settings" json:"settings"`
	UpdatedAt     string   `yaml:"updatedAt" json:"updated_at" format:"date-time"`
}

// Column returns the column with the given id, or nil.
func (b Board) Column(id string) *Column {
	for i := range b.Columns {
		if b.Columns[i].ID == id {
			return &b.Columns[i]
		}
	}
	return nil
}

// Column is one workflow stage. A nil WIPLimit means unbounded.
type Column struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	WIPLimit *int   `yaml:"wipLimit,omitempty" json:"wip_limit,omitempty"`
	AutoPull bool   `yaml:"autoPull,omitempty" json:"auto_pull,omitempty"`
}

// Settings hold board policy knobs and the ticket counter.
type Settings struct {
	TicketPrefix      string `yaml:"ticketPrefix" json:"ticket_prefix"`
	NextTicketNumber  int    `yaml:"nextTicketNumber" json:"next_ticket_number"`
	StaleHours        int    `yaml:"staleHours" json:"stale_hours"`
	WIPHeartbeatHours int    `yaml:"wipHeartbeatHours" json:"wip_heartbeat_hours"`
}

// Ticket is one unit of work, persisted as an individual YAML record.
type Ticket struct {
	ID               string        `yaml:"id" json:"id"`
	Title            string        `yaml:"title" json:"title"`
	Type             string        `yaml:"type" json:"type"`
	Priority         string        `yaml:"priority,omitempty" json:"priority,omitempty"`
	Intent           string        `yaml:"intent,omitempty" json:"intent,omitempty"`
	AcceptanceSignal string        `yaml:"acceptanceSignal,omitempty" json:"acceptance_signal,omitempty"`
	Status           string        `yaml:"status" json:"status"`
	Parent           string        `yaml:"parent,omitempty" json:"parent,omitempty"`
	BlockedBy        []string      `yaml:"blockedBy,omitempty" json:"blocked_by,omitempty"`
	RejectionCount   int           `yaml:"rejectionCount,omitempty" json:"rejection_count,omitempty"`
	CodeLocation     *CodeLocation `yaml:"codeLocation,omitempty" json:"code_location,omitempty"`
	Comments         []Comment     `yaml:"comments,omitempty" json:"comments,omitempty"`
	CreatedAt        string        `yaml:"createdAt" json:"created_at" format:"date-time"`
	UpdatedAt        string        `yaml:"updatedAt" json:"updated_at" format:"date-time"`
	StatusChangedAt  string        `yaml:"statusChangedAt,omitempty" json:"status_changed_at,omitempty" format:"date-time"`
	CompletedAt      string        `yaml:"completedAt,omitempty" json:"completed_at,omitempty" format:"date-time"`
}

// CodeLocation names where implementation work for a ticket happens.
// Derived once, on first entry into in-progress, never recomputed.
type CodeLocation struct {
	Branch   string `yaml:"branch" json:"branch"`
	Worktree string `yaml:"worktree" json:"worktree"`
}

// Comment is an append-only annotation on a ticket.
type Comment struct {
	ID        string `yaml:"id" json:"id"`
	Author    string `yaml:"author" json:"author"`
	Text      string `yaml:"text" json:"text"`
	CreatedAt string `yaml:"createdAt" json:"created_at" format:"date-time"`
}
