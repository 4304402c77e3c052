package domain

import "time"

type MomStatus string

const (
	MomCreated          MomStatus = "CREATED"
	MomInReview         MomStatus = "IN_REVIEW"
	MomAwaitingApproval MomStatus = "AWAITING_APPROVAL"
	MomApproved         MomStatus = "APPROVED"
	MomNeedsRevision    MomStatus = "NEEDS_REVISION"
	MomClosed           MomStatus = "CLOSED"
)

// MomStatuses lists every valid MoM status in workflow order.
var MomStatuses = []MomStatus{
	MomCreated,
	MomInReview,
	MomAwaitingApproval,
	MomApproved,
	MomNeedsRevision,
	MomClosed,
}

// Valid reports whether s is one of the defined statuses.
func (s MomStatus) Valid() bool {
	for _, status := range MomStatuses {
		if s == status {
			return true
		}
	}
	return false
}

type ProjectStatus string

const (
	ProjectOpen   ProjectStatus = "OPEN"
	ProjectClosed ProjectStatus = "CLOSED"
)

// UserRole is the global account role.
type UserRole string

const (
	RoleUser       UserRole = "USER"
	RoleSuperAdmin UserRole = "SUPER_ADMIN"
)

// ProjectRole is a role a user holds within a single project.
type ProjectRole string

const (
	ProjectCreator     ProjectRole = "CREATOR"
	ProjectReviewer    ProjectRole = "REVIEWER"
	ProjectApprover    ProjectRole = "APPROVER"
	ProjectClient      ProjectRole = "CLIENT"
	ProjectVendor      ProjectRole = "VENDOR"
	ProjectParticipant ProjectRole = "PARTICIPANT"
)

var ProjectRoles = []ProjectRole{
	ProjectCreator,
	ProjectReviewer,
	ProjectApprover,
	ProjectClient,
	ProjectVendor,
	ProjectParticipant,
}

// Valid reports whether r is an assignable project role.
func (r ProjectRole) Valid() bool {
	for _, role := range ProjectRoles {
		if r == role {
			return true
		}
	}
	return false
}

type User struct {
	ID              uint      `json:"id"`
	Email           string    `json:"email"`
	Name            string    `json:"name"`
	PasswordHash    string    `json:"-"`
	Role            UserRole  `json:"role"`
	IsActive        bool      `json:"isActive"`
	ProfileComplete bool      `json:"profileComplete"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// IsSuperAdmin reports whether the user bypasses per-project role checks.
func (u User) IsSuperAdmin() bool {
	return u.Role == RoleSuperAdmin
}

type Project struct {
	ID          uint          `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Status      ProjectStatus `json:"status"`
	CreatorID   uint          `json:"creatorId"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

type ProjectUserRole struct {
	ProjectID uint        `json:"projectId"`
	UserID    uint        `json:"userId"`
	Role      ProjectRole `json:"role"`
	CreatedAt time.Time   `json:"createdAt"`
}

type ChecklistItem struct {
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

type Mom struct {
	ID               uint            `json:"id"`
	Title            string          `json:"title"`
	Status           MomStatus       `json:"status"`
	Place            string          `json:"place"`
	CompletionDate   *time.Time      `json:"completionDate,omitempty"`
	Discussion       []ChecklistItem `json:"discussion"`
	OpenIssues       []ChecklistItem `json:"openIssues"`
	Updates          []ChecklistItem `json:"updates"`
	Notes            []ChecklistItem `json:"notes"`
	CreatorID        uint            `json:"creatorId"`
	ProjectID        uint            `json:"projectId"`
	ReferenceMomID   *uint           `json:"referenceMomId,omitempty"`
	MomNumber        *string         `json:"momNumber"`
	RejectionComment string          `json:"rejectionComment,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// MomHistory records one accepted status transition.
type MomHistory struct {
	ID         uint      `json:"id"`
	MomID      uint      `json:"momId"`
	Action     string    `json:"action"`
	FromStatus MomStatus `json:"fromStatus"`
	ToStatus   MomStatus `json:"toStatus"`
	ActorID    uint      `json:"actorId"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Notification struct {
	ID        uint      `json:"id"`
	UserID    uint      `json:"userId"`
	ProjectID uint      `json:"projectId"`
	MomID     *uint     `json:"momId,omitempty"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

type Attachment struct {
	ID          uint      `json:"id"`
	MomID       uint      `json:"momId"`
	UploaderID  uint      `json:"uploaderId"`
	Filename    string    `json:"filename"`
	StorageKey  string    `json:"-"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	CreatedAt   time.Time `json:"createdAt"`
}
