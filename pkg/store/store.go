package store

import (
	"context"
	"errors"
	"time"

	"momflow/pkg/domain"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional write lost against a concurrent change.
	ErrConflict  = errors.New("conflicting update")
	ErrDuplicate = errors.New("duplicate record")
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Page selects a window of a listing. Number starts at 1.
type Page struct {
	Number int
	Size   int
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Number <= 0 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = defaultPageSize
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	return p
}

// Offset returns the number of rows skipped before the page.
func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Number - 1) * p.Size
}

// MomFilter narrows MoM listings.
type MomFilter struct {
	ProjectID uint
	// MemberID restricts results to projects the user holds a role on.
	MemberID uint
	Status   domain.MomStatus
}

// MomStatusFields are written together with a status change.
type MomStatusFields struct {
	Action  string
	ActorID uint
	Comment string
	// RejectionComment replaces the stored rejection comment when non-nil.
	RejectionComment *string
}

// Store defines persistence operations for the MoM service.
type Store interface {
	// users
	CreateUser(ctx context.Context, u domain.User) (domain.User, error)
	// RegisterUser inserts u, giving it firstRole instead of u.Role when no
	// user exists yet. The check and the insert are atomic.
	RegisterUser(ctx context.Context, u domain.User, firstRole domain.UserRole) (domain.User, error)
	UpdateUser(ctx context.Context, u domain.User) error
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id uint) (domain.User, bool, error)
	GetUsersByIDs(ctx context.Context, ids []uint) ([]domain.User, error)
	ListUsers(ctx context.Context, page Page) ([]domain.User, int64, error)
	UserCount(ctx context.Context) (int64, error)

	// projects
	CreateProject(ctx context.Context, p domain.Project) (domain.Project, error)
	UpdateProject(ctx context.Context, p domain.Project) error
	GetProject(ctx context.Context, id uint) (domain.Project, bool, error)
	ListProjects(ctx context.Context, memberID uint, page Page) ([]domain.Project, int64, error)
	DeleteProject(ctx context.Context, id uint) error

	// project roles
	AssignProjectRole(ctx context.Context, r domain.ProjectUserRole) error
	RemoveProjectRole(ctx context.Context, projectID, userID uint, role domain.ProjectRole) error
	ListProjectRoles(ctx context.Context, projectID uint) ([]domain.ProjectUserRole, error)

	// moms
	CreateMom(ctx context.Context, m domain.Mom) (domain.Mom, error)
	GetMom(ctx context.Context, id uint) (domain.Mom, bool, error)
	ListMoms(ctx context.Context, filter MomFilter, page Page) ([]domain.Mom, int64, error)
	UpdateMomContent(ctx context.Context, m domain.Mom, expected domain.MomStatus) (domain.Mom, error)
	UpdateMomStatus(ctx context.Context, id uint, expected, next domain.MomStatus, fields MomStatusFields) (domain.Mom, error)
	LatestMomNumber(ctx context.Context, projectID uint) (*string, error)
	DeleteMom(ctx context.Context, id uint) error
	ListMomHistory(ctx context.Context, momID uint) ([]domain.MomHistory, error)

	// notifications
	CreateNotifications(ctx context.Context, items []domain.Notification) ([]domain.Notification, error)
	ListNotifications(ctx context.Context, userID uint, page Page) ([]domain.Notification, int64, error)
	MarkNotificationRead(ctx context.Context, id, userID uint) error

	// attachments
	CreateAttachment(ctx context.Context, a domain.Attachment) (domain.Attachment, error)
	GetAttachment(ctx context.Context, id uint) (domain.Attachment, bool, error)
	ListAttachments(ctx context.Context, momID uint) ([]domain.Attachment, error)
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}

// UserSessionRevoker is an optional capability that revokes all sessions
// issued for a user since a cutoff time.
type UserSessionRevoker interface {
	RevokeUserSessions(userID string, since time.Time) error
}

// JWK represents a JSON Web Key entry used by JWKS endpoints.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// JWKSProvider is an optional capability exposed by session stores that can
// publish JSON Web Keys.
type JWKSProvider interface {
	JWKS() []JWK
}
