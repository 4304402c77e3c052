package store

import (
	"time"

	"gorm.io/datatypes"
	"momflow/pkg/domain"
)

type checklist = datatypes.JSONType[[]domain.ChecklistItem]

// GORM models used for persistence.
type UserModel struct {
	ID              uint   `gorm:"primaryKey"`
	Email           string `gorm:"uniqueIndex;not null"`
	Name            string
	PasswordHash    string    `gorm:"not null"`
	Role            string    `gorm:"not null"`
	IsActive        bool      `gorm:"not null;default:true"`
	ProfileComplete bool      `gorm:"not null;default:false"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time
}

type ProjectModel struct {
	ID          uint      `gorm:"primaryKey"`
	Title       string    `gorm:"not null"`
	Description string    `gorm:"type:text"`
	Status      string    `gorm:"not null"`
	CreatorID   uint      `gorm:"not null;index"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time
}

type ProjectRoleModel struct {
	ID        uint      `gorm:"primaryKey"`
	ProjectID uint      `gorm:"not null;uniqueIndex:idx_project_user_role"`
	UserID    uint      `gorm:"not null;index;uniqueIndex:idx_project_user_role"`
	Role      string    `gorm:"not null;uniqueIndex:idx_project_user_role"`
	CreatedAt time.Time `gorm:"not null"`
}

type MomModel struct {
	ID               uint   `gorm:"primaryKey"`
	Title            string `gorm:"not null"`
	Status           string `gorm:"not null;index"`
	Place            string
	CompletionDate   *time.Time
	Discussion       checklist
	OpenIssues       checklist
	Updates          checklist
	Notes            checklist
	CreatorID        uint `gorm:"not null;index"`
	ProjectID        uint `gorm:"not null;index;uniqueIndex:idx_mom_project_number"`
	ReferenceMomID   *uint
	MomNumber        *string   `gorm:"uniqueIndex:idx_mom_project_number"`
	RejectionComment string    `gorm:"type:text"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

type MomHistoryModel struct {
	ID         uint      `gorm:"primaryKey"`
	MomID      uint      `gorm:"not null;index"`
	Action     string    `gorm:"not null"`
	FromStatus string    `gorm:"not null"`
	ToStatus   string    `gorm:"not null"`
	ActorID    uint      `gorm:"not null"`
	Comment    string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"not null"`
}

type NotificationModel struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"not null;index"`
	ProjectID uint      `gorm:"not null"`
	MomID     *uint     `gorm:"index"`
	Type      string    `gorm:"not null"`
	Message   string    `gorm:"type:text;not null"`
	Read      bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null;index"`
}

type AttachmentModel struct {
	ID          uint   `gorm:"primaryKey"`
	MomID       uint   `gorm:"not null;index"`
	UploaderID  uint   `gorm:"not null"`
	Filename    string `gorm:"not null"`
	StorageKey  string `gorm:"not null"`
	ContentType string
	SizeBytes   int64     `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:              u.ID,
		Email:           u.Email,
		Name:            u.Name,
		PasswordHash:    u.PasswordHash,
		Role:            string(u.Role),
		IsActive:        u.IsActive,
		ProfileComplete: u.ProfileComplete,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	role := domain.UserRole(m.Role)
	if role == "" {
		role = domain.RoleUser
	}
	return domain.User{
		ID:              m.ID,
		Email:           m.Email,
		Name:            m.Name,
		PasswordHash:    m.PasswordHash,
		Role:            role,
		IsActive:        m.IsActive,
		ProfileComplete: m.ProfileComplete,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func projectToModel(p domain.Project) ProjectModel {
	return ProjectModel{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Status:      string(p.Status),
		CreatorID:   p.CreatorID,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func projectFromModel(m ProjectModel) domain.Project {
	return domain.Project{
		ID:          m.ID,
		Title:       m.Title,
		Description: m.Description,
		Status:      domain.ProjectStatus(m.Status),
		CreatorID:   m.CreatorID,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func roleFromModel(m ProjectRoleModel) domain.ProjectUserRole {
	return domain.ProjectUserRole{
		ProjectID: m.ProjectID,
		UserID:    m.UserID,
		Role:      domain.ProjectRole(m.Role),
		CreatedAt: m.CreatedAt,
	}
}

func momToModel(m domain.Mom) MomModel {
	return MomModel{
		ID:               m.ID,
		Title:            m.Title,
		Status:           string(m.Status),
		Place:            m.Place,
		CompletionDate:   m.CompletionDate,
		Discussion:       datatypes.NewJSONType(nonNilItems(m.Discussion)),
		OpenIssues:       datatypes.NewJSONType(nonNilItems(m.OpenIssues)),
		Updates:          datatypes.NewJSONType(nonNilItems(m.Updates)),
		Notes:            datatypes.NewJSONType(nonNilItems(m.Notes)),
		CreatorID:        m.CreatorID,
		ProjectID:        m.ProjectID,
		ReferenceMomID:   m.ReferenceMomID,
		MomNumber:        m.MomNumber,
		RejectionComment: m.RejectionComment,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func momFromModel(m MomModel) domain.Mom {
	return domain.Mom{
		ID:               m.ID,
		Title:            m.Title,
		Status:           domain.MomStatus(m.Status),
		Place:            m.Place,
		CompletionDate:   m.CompletionDate,
		Discussion:       nonNilItems(m.Discussion.Data()),
		OpenIssues:       nonNilItems(m.OpenIssues.Data()),
		Updates:          nonNilItems(m.Updates.Data()),
		Notes:            nonNilItems(m.Notes.Data()),
		CreatorID:        m.CreatorID,
		ProjectID:        m.ProjectID,
		ReferenceMomID:   m.ReferenceMomID,
		MomNumber:        m.MomNumber,
		RejectionComment: m.RejectionComment,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func historyFromModel(m MomHistoryModel) domain.MomHistory {
	return domain.MomHistory{
		ID:         m.ID,
		MomID:      m.MomID,
		Action:     m.Action,
		FromStatus: domain.MomStatus(m.FromStatus),
		ToStatus:   domain.MomStatus(m.ToStatus),
		ActorID:    m.ActorID,
		Comment:    m.Comment,
		CreatedAt:  m.CreatedAt,
	}
}

func notificationToModel(n domain.Notification) NotificationModel {
	return NotificationModel{
		ID:        n.ID,
		UserID:    n.UserID,
		ProjectID: n.ProjectID,
		MomID:     n.MomID,
		Type:      n.Type,
		Message:   n.Message,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
}

func notificationFromModel(m NotificationModel) domain.Notification {
	return domain.Notification{
		ID:        m.ID,
		UserID:    m.UserID,
		ProjectID: m.ProjectID,
		MomID:     m.MomID,
		Type:      m.Type,
		Message:   m.Message,
		Read:      m.Read,
		CreatedAt: m.CreatedAt,
	}
}

func attachmentToModel(a domain.Attachment) AttachmentModel {
	return AttachmentModel{
		ID:          a.ID,
		MomID:       a.MomID,
		UploaderID:  a.UploaderID,
		Filename:    a.Filename,
		StorageKey:  a.StorageKey,
		ContentType: a.ContentType,
		SizeBytes:   a.SizeBytes,
		CreatedAt:   a.CreatedAt,
	}
}

func attachmentFromModel(m AttachmentModel) domain.Attachment {
	return domain.Attachment{
		ID:          m.ID,
		MomID:       m.MomID,
		UploaderID:  m.UploaderID,
		Filename:    m.Filename,
		StorageKey:  m.StorageKey,
		ContentType: m.ContentType,
		SizeBytes:   m.SizeBytes,
		CreatedAt:   m.CreatedAt,
	}
}

func nonNilItems(items []domain.ChecklistItem) []domain.ChecklistItem {
	if items == nil {
		return []domain.ChecklistItem{}
	}
	return items
}
