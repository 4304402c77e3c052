package app

import (
	"context"
	"fmt"
	"strings"

	"momflow/pkg/domain"
	"momflow/pkg/store"
	"momflow/pkg/workflow"
)

const notificationRoleAssigned = "PROJECT_ROLE_ASSIGNED"

// ProjectDetail is a project together with its role assignments.
type ProjectDetail struct {
	domain.Project
	Roles []domain.ProjectUserRole `json:"roles"`
}

// ProjectUpdate carries the editable project fields; nil means unchanged.
type ProjectUpdate struct {
	Title       *string
	Description *string
	Status      *domain.ProjectStatus
}

// CreateProject opens a project. The creator receives the CREATOR role.
func (a *App) CreateProject(ctx context.Context, actor domain.User, title, description string) (domain.Project, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Project{}, ErrTitleRequired
	}
	project, err := a.store.CreateProject(ctx, domain.Project{
		Title:       title,
		Description: strings.TrimSpace(description),
		Status:      domain.ProjectOpen,
		CreatorID:   actor.ID,
	})
	if err != nil {
		return domain.Project{}, fmt.Errorf("create project: %w", classify(err))
	}
	return project, nil
}

// GetProject returns a project the actor can see.
func (a *App) GetProject(ctx context.Context, actor domain.User, id uint) (ProjectDetail, error) {
	project, roles, err := a.loadProject(ctx, id)
	if err != nil {
		return ProjectDetail{}, err
	}
	if err := workflow.CanView(workflow.ActorFromUser(actor), workflow.RolesOf(roles, actor.ID)); err != nil {
		return ProjectDetail{}, classify(err)
	}
	return ProjectDetail{Project: project, Roles: roles}, nil
}

// ListProjects lists projects the actor belongs to; a SUPER_ADMIN sees all.
func (a *App) ListProjects(ctx context.Context, actor domain.User, page store.Page) ([]domain.Project, int64, error) {
	var memberID uint
	if !actor.IsSuperAdmin() {
		memberID = actor.ID
	}
	return a.store.ListProjects(ctx, memberID, page)
}

// UpdateProject edits title, description or status.
func (a *App) UpdateProject(ctx context.Context, actor domain.User, id uint, upd ProjectUpdate) (domain.Project, error) {
	project, _, err := a.loadProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if err := workflow.CanManageProject(workflow.ActorFromUser(actor), project); err != nil {
		return domain.Project{}, classify(err)
	}
	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			return domain.Project{}, ErrTitleRequired
		}
		project.Title = title
	}
	if upd.Description != nil {
		project.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.Status != nil {
		if *upd.Status != domain.ProjectOpen && *upd.Status != domain.ProjectClosed {
			return domain.Project{}, fmt.Errorf("%w: invalid project status %q", ErrValidation, *upd.Status)
		}
		project.Status = *upd.Status
	}
	if err := a.store.UpdateProject(ctx, project); err != nil {
		return domain.Project{}, fmt.Errorf("update project: %w", classify(err))
	}
	return project, nil
}

// DeleteProject removes a project with its MoMs, roles and notifications.
func (a *App) DeleteProject(ctx context.Context, actor domain.User, id uint) error {
	project, _, err := a.loadProject(ctx, id)
	if err != nil {
		return err
	}
	if err := workflow.CanManageProject(workflow.ActorFromUser(actor), project); err != nil {
		return classify(err)
	}
	if err := a.store.DeleteProject(ctx, id); err != nil {
		return fmt.Errorf("delete project: %w", classify(err))
	}
	return nil
}

// ListProjectRoles returns the role assignments of a project.
func (a *App) ListProjectRoles(ctx context.Context, actor domain.User, projectID uint) ([]domain.ProjectUserRole, error) {
	detail, err := a.GetProject(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	return detail.Roles, nil
}

// AssignProjectRole grants role on the project to userID and tells the user.
func (a *App) AssignProjectRole(ctx context.Context, actor domain.User, projectID, userID uint, role domain.ProjectRole) ([]domain.ProjectUserRole, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: invalid project role %q", ErrValidation, role)
	}
	project, _, err := a.loadProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := workflow.CanManageProject(workflow.ActorFromUser(actor), project); err != nil {
		return nil, classify(err)
	}
	target, ok, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: user", ErrNotFound)
	}
	if err := a.store.AssignProjectRole(ctx, domain.ProjectUserRole{
		ProjectID: projectID,
		UserID:    target.ID,
		Role:      role,
	}); err != nil {
		return nil, fmt.Errorf("assign role: %w", classify(err))
	}
	msg := fmt.Sprintf("You were added to project %q as %s", project.Title, role)
	if err := a.notifier.Notify(ctx, []uint{target.ID}, msg, projectID, nil, notificationRoleAssigned); err != nil {
		a.logger.WarnContext(ctx, "role_notification_failed", "project_id", projectID, "user_id", target.ID, "err", err)
	}
	return a.store.ListProjectRoles(ctx, projectID)
}

// RemoveProjectRole revokes one role. The project creator keeps CREATOR.
func (a *App) RemoveProjectRole(ctx context.Context, actor domain.User, projectID, userID uint, role domain.ProjectRole) error {
	project, _, err := a.loadProject(ctx, projectID)
	if err != nil {
		return err
	}
	if err := workflow.CanManageProject(workflow.ActorFromUser(actor), project); err != nil {
		return classify(err)
	}
	if userID == project.CreatorID && role == domain.ProjectCreator {
		return fmt.Errorf("%w: the project creator keeps the CREATOR role", ErrValidation)
	}
	if err := a.store.RemoveProjectRole(ctx, projectID, userID, role); err != nil {
		return fmt.Errorf("remove role: %w", classify(err))
	}
	return nil
}

func (a *App) loadProject(ctx context.Context, id uint) (domain.Project, []domain.ProjectUserRole, error) {
	project, ok, err := a.store.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, nil, fmt.Errorf("fetch project: %w", err)
	}
	if !ok {
		return domain.Project{}, nil, fmt.Errorf("%w: project", ErrNotFound)
	}
	roles, err := a.store.ListProjectRoles(ctx, id)
	if err != nil {
		return domain.Project{}, nil, fmt.Errorf("fetch project roles: %w", err)
	}
	return project, roles, nil
}
