package workflow

import (
	"fmt"

	"momflow/pkg/domain"
)

// Actor is the authenticated user performing an operation.
type Actor struct {
	ID   uint
	Role domain.UserRole
}

// ActorFromUser builds an Actor from a stored user.
func ActorFromUser(u domain.User) Actor {
	return Actor{ID: u.ID, Role: u.Role}
}

// SuperAdmin reports whether the actor bypasses project role checks.
func (a Actor) SuperAdmin() bool {
	return a.Role == domain.RoleSuperAdmin
}

// RolesOf collects the project roles held by userID.
func RolesOf(assignments []domain.ProjectUserRole, userID uint) []domain.ProjectRole {
	var roles []domain.ProjectRole
	for _, a := range assignments {
		if a.UserID == userID {
			roles = append(roles, a.Role)
		}
	}
	return roles
}

// Authorize checks that actor, holding roles on the MoM's project, may perform
// action on mom. It does not consult the MoM status; Next does that.
func Authorize(actor Actor, roles []domain.ProjectRole, mom domain.Mom, action Action) error {
	r, ok := rules[action]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	owner := mom.CreatorID == actor.ID
	if actor.SuperAdmin() {
		if r.ownerForAdmin && !owner {
			return fmt.Errorf("%w: %s requires the MoM creator", ErrPermissionDenied, action)
		}
		return nil
	}
	if r.ownerForAdmin {
		return fmt.Errorf("%w: %s requires SUPER_ADMIN", ErrPermissionDenied, action)
	}
	if !hasAnyRole(roles, r.roles) {
		return fmt.Errorf("%w: %s requires project role %v", ErrPermissionDenied, action, r.roles)
	}
	if r.requireOwner && !owner {
		return fmt.Errorf("%w: %s requires the MoM creator", ErrPermissionDenied, action)
	}
	return nil
}

// Allowed lists the actions actor may take on mom in its current status.
func Allowed(actor Actor, roles []domain.ProjectRole, mom domain.Mom) []Action {
	var out []Action
	for _, action := range Actions {
		if _, err := Next(mom.Status, action); err != nil {
			continue
		}
		if Authorize(actor, roles, mom, action) == nil {
			out = append(out, action)
		}
	}
	return out
}

// CanCreateMom checks creation rights on a project.
func CanCreateMom(actor Actor, roles []domain.ProjectRole, project domain.Project) error {
	if project.Status == domain.ProjectClosed {
		return fmt.Errorf("%w: project is closed", ErrPermissionDenied)
	}
	if actor.SuperAdmin() || hasRole(roles, domain.ProjectCreator) {
		return nil
	}
	return fmt.Errorf("%w: creating a MoM requires project role CREATOR", ErrPermissionDenied)
}

// CanEditMom checks content-edit rights. The creator may edit while the MoM
// is CREATED or NEEDS_REVISION; a SUPER_ADMIN may edit until it is closed.
func CanEditMom(actor Actor, mom domain.Mom) error {
	if mom.Status == domain.MomClosed {
		return fmt.Errorf("%w: MoM is closed", ErrPermissionDenied)
	}
	if actor.SuperAdmin() {
		return nil
	}
	if mom.CreatorID != actor.ID {
		return fmt.Errorf("%w: only the creator may edit", ErrPermissionDenied)
	}
	if mom.Status != domain.MomCreated && mom.Status != domain.MomNeedsRevision {
		return fmt.Errorf("%w: MoM is %s", ErrPermissionDenied, mom.Status)
	}
	return nil
}

// CanDeleteMom allows a SUPER_ADMIN, or the creator before review starts.
func CanDeleteMom(actor Actor, mom domain.Mom) error {
	if actor.SuperAdmin() {
		return nil
	}
	if mom.CreatorID == actor.ID && mom.Status == domain.MomCreated {
		return nil
	}
	return fmt.Errorf("%w: cannot delete MoM in %s", ErrPermissionDenied, mom.Status)
}

// CanView allows a SUPER_ADMIN or any member of the project.
func CanView(actor Actor, roles []domain.ProjectRole) error {
	if actor.SuperAdmin() || len(roles) > 0 {
		return nil
	}
	return fmt.Errorf("%w: not a project member", ErrPermissionDenied)
}

// CanManageProject allows a SUPER_ADMIN or the project's creator.
func CanManageProject(actor Actor, project domain.Project) error {
	if actor.SuperAdmin() || project.CreatorID == actor.ID {
		return nil
	}
	return fmt.Errorf("%w: project management requires its creator", ErrPermissionDenied)
}

func hasRole(roles []domain.ProjectRole, want domain.ProjectRole) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}

func hasAnyRole(roles, wanted []domain.ProjectRole) bool {
	for _, w := range wanted {
		if hasRole(roles, w) {
			return true
		}
	}
	return false
}
