package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"momflow/internal/util"
	"momflow/pkg/domain"
	"momflow/pkg/pdf"
	"momflow/pkg/store"
	"momflow/pkg/workflow"
)

// MomInput carries the editable content of a MoM.
type MomInput struct {
	Title          string
	Place          string
	CompletionDate *time.Time
	Discussion     []domain.ChecklistItem
	OpenIssues     []domain.ChecklistItem
	Updates        []domain.ChecklistItem
	Notes          []domain.ChecklistItem
	// ReferenceMomID chains the new MoM to a prior one and assigns a number.
	// It is ignored on update.
	ReferenceMomID *uint
}

// MomView is a MoM with the workflow actions its viewer may take next.
type MomView struct {
	domain.Mom
	AllowedActions []workflow.Action `json:"allowedActions"`
}

// MomListFilter narrows ListMoms.
type MomListFilter struct {
	ProjectID uint
	Status    domain.MomStatus
}

// CreateMom stores a new MoM in projectID. A SUPER_ADMIN publishes directly:
// the MoM starts APPROVED and the approval effects are dispatched.
func (a *App) CreateMom(ctx context.Context, actor domain.User, projectID uint, in MomInput) (domain.Mom, error) {
	if err := validateMomInput(in); err != nil {
		return domain.Mom{}, err
	}
	project, roles, err := a.loadProject(ctx, projectID)
	if err != nil {
		return domain.Mom{}, err
	}
	who := workflow.ActorFromUser(actor)
	if err := workflow.CanCreateMom(who, workflow.RolesOf(roles, actor.ID), project); err != nil {
		return domain.Mom{}, classify(err)
	}

	var number *string
	if in.ReferenceMomID != nil {
		ref, ok, err := a.store.GetMom(ctx, *in.ReferenceMomID)
		if err != nil {
			return domain.Mom{}, fmt.Errorf("fetch reference mom: %w", err)
		}
		if !ok {
			return domain.Mom{}, fmt.Errorf("%w: reference mom", ErrNotFound)
		}
		if ref.ProjectID != projectID {
			return domain.Mom{}, fmt.Errorf("%w: reference mom belongs to another project", ErrValidation)
		}
		latest, err := a.store.LatestMomNumber(ctx, projectID)
		if err != nil {
			return domain.Mom{}, fmt.Errorf("fetch latest mom number: %w", err)
		}
		next, err := workflow.NextMomNumber(latest)
		if err != nil {
			a.logger.ErrorContext(ctx, "mom_number_corrupt", "project_id", projectID, "err", err)
			return domain.Mom{}, classify(err)
		}
		number = &next
	}

	mom := domain.Mom{
		Title:          strings.TrimSpace(in.Title),
		Status:         workflow.InitialStatus(who),
		Place:          strings.TrimSpace(in.Place),
		CompletionDate: in.CompletionDate,
		Discussion:     nonNilItems(in.Discussion),
		OpenIssues:     nonNilItems(in.OpenIssues),
		Updates:        nonNilItems(in.Updates),
		Notes:          nonNilItems(in.Notes),
		CreatorID:      actor.ID,
		ProjectID:      projectID,
		ReferenceMomID: in.ReferenceMomID,
		MomNumber:      number,
	}
	created, err := a.store.CreateMom(ctx, mom)
	if err != nil {
		return domain.Mom{}, fmt.Errorf("create mom: %w", classify(err))
	}
	if created.Status == domain.MomApproved {
		a.dispatcher.Dispatch(TransitionEvent{
			MomID:     created.ID,
			Action:    "create",
			To:        created.Status,
			ActorID:   actor.ID,
			RequestID: util.RequestIDFromContext(ctx),
		})
	}
	return created, nil
}

// GetMom returns a MoM visible to the actor with its allowed actions.
func (a *App) GetMom(ctx context.Context, actor domain.User, id uint) (MomView, error) {
	mom, roles, err := a.loadVisibleMom(ctx, actor, id)
	if err != nil {
		return MomView{}, err
	}
	return a.view(actor, roles, mom), nil
}

// ListMoms lists MoMs of projects the actor belongs to.
func (a *App) ListMoms(ctx context.Context, actor domain.User, filter MomListFilter, page store.Page) ([]domain.Mom, int64, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: invalid status %q", ErrValidation, filter.Status)
	}
	storeFilter := store.MomFilter{ProjectID: filter.ProjectID, Status: filter.Status}
	if !actor.IsSuperAdmin() {
		storeFilter.MemberID = actor.ID
	}
	return a.store.ListMoms(ctx, storeFilter, page)
}

// UpdateMom replaces the content of a MoM. Status, number and reference are
// never touched here.
func (a *App) UpdateMom(ctx context.Context, actor domain.User, id uint, in MomInput) (MomView, error) {
	if err := validateMomInput(in); err != nil {
		return MomView{}, err
	}
	mom, roles, err := a.loadVisibleMom(ctx, actor, id)
	if err != nil {
		return MomView{}, err
	}
	if err := workflow.CanEditMom(workflow.ActorFromUser(actor), mom); err != nil {
		return MomView{}, classify(err)
	}
	mom.Title = strings.TrimSpace(in.Title)
	mom.Place = strings.TrimSpace(in.Place)
	mom.CompletionDate = in.CompletionDate
	mom.Discussion = nonNilItems(in.Discussion)
	mom.OpenIssues = nonNilItems(in.OpenIssues)
	mom.Updates = nonNilItems(in.Updates)
	mom.Notes = nonNilItems(in.Notes)
	updated, err := a.store.UpdateMomContent(ctx, mom, mom.Status)
	if err != nil {
		return MomView{}, fmt.Errorf("update mom: %w", classify(err))
	}
	return a.view(actor, roles, updated), nil
}

// DeleteMom removes a MoM and its stored attachments.
func (a *App) DeleteMom(ctx context.Context, actor domain.User, id uint) error {
	mom, _, err := a.loadVisibleMom(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := workflow.CanDeleteMom(workflow.ActorFromUser(actor), mom); err != nil {
		return classify(err)
	}
	attachments, err := a.store.ListAttachments(ctx, id)
	if err != nil {
		return fmt.Errorf("list attachments: %w", err)
	}
	if err := a.store.DeleteMom(ctx, id); err != nil {
		return fmt.Errorf("delete mom: %w", classify(err))
	}
	for _, att := range attachments {
		if err := a.objects.Delete(ctx, att.StorageKey); err != nil {
			a.logger.WarnContext(ctx, "attachment_cleanup_failed", "mom_id", id, "key", att.StorageKey, "err", err)
		}
	}
	return nil
}

// MomHistory lists the accepted transitions of a MoM, oldest first.
func (a *App) MomHistory(ctx context.Context, actor domain.User, id uint) ([]domain.MomHistory, error) {
	if _, _, err := a.loadVisibleMom(ctx, actor, id); err != nil {
		return nil, err
	}
	return a.store.ListMomHistory(ctx, id)
}

// Transition applies a workflow action to a MoM. The status change and its
// history row commit atomically against the status that was read; a
// concurrent change makes the call fail with ErrConflict. Side effects are
// dispatched after the commit and never fail the call.
func (a *App) Transition(ctx context.Context, actor domain.User, momID uint, action workflow.Action, comment string) (MomView, error) {
	comment = strings.TrimSpace(comment)
	if err := workflow.ValidateComment(action, comment); err != nil {
		return MomView{}, classify(err)
	}
	mom, roles, err := a.loadVisibleMom(ctx, actor, momID)
	if err != nil {
		return MomView{}, err
	}
	tr, err := workflow.Next(mom.Status, action)
	if err != nil {
		return MomView{}, classify(err)
	}
	if err := workflow.Authorize(workflow.ActorFromUser(actor), workflow.RolesOf(roles, actor.ID), mom, action); err != nil {
		return MomView{}, classify(err)
	}

	fields := store.MomStatusFields{
		Action:  string(action),
		ActorID: actor.ID,
		Comment: comment,
	}
	if workflow.RequiresComment(action) {
		fields.RejectionComment = &comment
	}
	updated, err := a.store.UpdateMomStatus(ctx, mom.ID, tr.From, tr.To, fields)
	if err != nil {
		return MomView{}, fmt.Errorf("update mom status: %w", classify(err))
	}

	a.dispatcher.Dispatch(TransitionEvent{
		MomID:     updated.ID,
		Action:    string(action),
		From:      tr.From,
		To:        tr.To,
		ActorID:   actor.ID,
		Comment:   comment,
		RequestID: util.RequestIDFromContext(ctx),
	})
	return a.view(actor, roles, updated), nil
}

// ExportPDF renders a MoM visible to the actor.
func (a *App) ExportPDF(ctx context.Context, actor domain.User, id uint) ([]byte, string, error) {
	mom, _, err := a.loadVisibleMom(ctx, actor, id)
	if err != nil {
		return nil, "", err
	}
	project, _, err := a.loadProject(ctx, mom.ProjectID)
	if err != nil {
		return nil, "", err
	}
	creator, _, err := a.store.GetUserByID(ctx, mom.CreatorID)
	if err != nil {
		return nil, "", fmt.Errorf("fetch creator: %w", err)
	}
	data, err := a.renderer.Render(ctx, mom, project, creator)
	if err != nil {
		return nil, "", dependencyError("pdf", err)
	}
	return data, pdf.Filename(mom), nil
}

// loadVisibleMom fetches a MoM with its project roles and checks that the
// actor may see it.
func (a *App) loadVisibleMom(ctx context.Context, actor domain.User, id uint) (domain.Mom, []domain.ProjectUserRole, error) {
	mom, ok, err := a.store.GetMom(ctx, id)
	if err != nil {
		return domain.Mom{}, nil, fmt.Errorf("fetch mom: %w", err)
	}
	if !ok {
		return domain.Mom{}, nil, fmt.Errorf("%w: mom", ErrNotFound)
	}
	roles, err := a.store.ListProjectRoles(ctx, mom.ProjectID)
	if err != nil {
		return domain.Mom{}, nil, fmt.Errorf("fetch project roles: %w", err)
	}
	if err := workflow.CanView(workflow.ActorFromUser(actor), workflow.RolesOf(roles, actor.ID)); err != nil {
		return domain.Mom{}, nil, classify(err)
	}
	return mom, roles, nil
}

func (a *App) view(actor domain.User, roles []domain.ProjectUserRole, mom domain.Mom) MomView {
	allowed := workflow.Allowed(workflow.ActorFromUser(actor), workflow.RolesOf(roles, actor.ID), mom)
	if allowed == nil {
		allowed = []workflow.Action{}
	}
	return MomView{Mom: mom, AllowedActions: allowed}
}

func validateMomInput(in MomInput) error {
	if strings.TrimSpace(in.Title) == "" {
		return ErrTitleRequired
	}
	for _, list := range [][]domain.ChecklistItem{in.Discussion, in.OpenIssues, in.Updates, in.Notes} {
		for _, item := range list {
			if strings.TrimSpace(item.Text) == "" {
				return fmt.Errorf("%w: checklist items need text", ErrValidation)
			}
		}
	}
	return nil
}

func nonNilItems(items []domain.ChecklistItem) []domain.ChecklistItem {
	if items == nil {
		return []domain.ChecklistItem{}
	}
	return items
}
