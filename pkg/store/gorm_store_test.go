package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"momflow/pkg/domain"
)

func newSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := OpenGormStore(sqlite.Open(filepath.Join(t.TempDir(), "momflow.db")))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGormStoreUserEmailUnique(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, domain.User{Email: "a@example.com", PasswordHash: "x", Role: domain.RoleUser, IsActive: true})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.ID == 0 {
		t.Fatalf("expected generated id")
	}
	if _, err := s.CreateUser(ctx, domain.User{Email: "a@example.com", PasswordHash: "y", Role: domain.RoleUser}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	got, ok, err := s.GetUserByEmail(ctx, "a@example.com")
	if err != nil || !ok || got.ID != u.ID {
		t.Fatalf("get by email: ok=%v err=%v got=%+v", ok, err, got)
	}
}

func TestGormStoreRegisterUserPromotesOnlyFirst(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	first, err := s.RegisterUser(ctx, domain.User{Email: "first@example.com", PasswordHash: "x", Role: domain.RoleUser, IsActive: true}, domain.RoleSuperAdmin)
	if err != nil {
		t.Fatalf("register first: %v", err)
	}
	if first.Role != domain.RoleSuperAdmin || first.ID == 0 {
		t.Fatalf("unexpected first user %+v", first)
	}
	second, err := s.RegisterUser(ctx, domain.User{Email: "second@example.com", PasswordHash: "x", Role: domain.RoleUser, IsActive: true}, domain.RoleSuperAdmin)
	if err != nil {
		t.Fatalf("register second: %v", err)
	}
	if second.Role != domain.RoleUser {
		t.Fatalf("second user role = %s, want %s", second.Role, domain.RoleUser)
	}
	if _, err := s.RegisterUser(ctx, domain.User{Email: "first@example.com", PasswordHash: "y", Role: domain.RoleUser}, domain.RoleSuperAdmin); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestGormStoreProjectCreatorRoleAndMembership(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	owner := mustUser(t, s, "owner@example.com")
	outsider := mustUser(t, s, "outsider@example.com")
	p, err := s.CreateProject(ctx, domain.Project{Title: "Bridge", Status: domain.ProjectOpen, CreatorID: owner.ID})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	roles, err := s.ListProjectRoles(ctx, p.ID)
	if err != nil {
		t.Fatalf("list roles: %v", err)
	}
	if len(roles) != 1 || roles[0].UserID != owner.ID || roles[0].Role != domain.ProjectCreator {
		t.Fatalf("unexpected roles: %+v", roles)
	}
	if err := s.AssignProjectRole(ctx, domain.ProjectUserRole{ProjectID: p.ID, UserID: owner.ID, Role: domain.ProjectCreator}); err != nil {
		t.Fatalf("re-assign should be a no-op: %v", err)
	}

	_, total, err := s.ListProjects(ctx, outsider.ID, Page{})
	if err != nil || total != 0 {
		t.Fatalf("outsider should see no projects: total=%d err=%v", total, err)
	}
	_, total, err = s.ListProjects(ctx, owner.ID, Page{})
	if err != nil || total != 1 {
		t.Fatalf("owner should see one project: total=%d err=%v", total, err)
	}

	if err := s.RemoveProjectRole(ctx, p.ID, outsider.ID, domain.ProjectReviewer); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing role, got %v", err)
	}
}

func TestGormStoreUpdateMomStatusCompareAndSwap(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	owner := mustUser(t, s, "owner@example.com")
	p := mustProject(t, s, owner.ID)

	m, err := s.CreateMom(ctx, domain.Mom{Title: "Kickoff", Status: domain.MomCreated, CreatorID: owner.ID, ProjectID: p.ID})
	if err != nil {
		t.Fatalf("create mom: %v", err)
	}

	updated, err := s.UpdateMomStatus(ctx, m.ID, domain.MomCreated, domain.MomInReview, MomStatusFields{Action: "send-review", ActorID: owner.ID})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.Status != domain.MomInReview {
		t.Fatalf("expected IN_REVIEW, got %s", updated.Status)
	}

	if _, err := s.UpdateMomStatus(ctx, m.ID, domain.MomCreated, domain.MomInReview, MomStatusFields{Action: "send-review", ActorID: owner.ID}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for stale status, got %v", err)
	}
	if _, err := s.UpdateMomStatus(ctx, m.ID+100, domain.MomCreated, domain.MomInReview, MomStatusFields{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	comment := "missing owners"
	rejected, err := s.UpdateMomStatus(ctx, m.ID, domain.MomInReview, domain.MomNeedsRevision, MomStatusFields{
		Action:           "reject-review",
		ActorID:          owner.ID,
		Comment:          comment,
		RejectionComment: &comment,
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.RejectionComment != comment {
		t.Fatalf("expected rejection comment to be stored, got %q", rejected.RejectionComment)
	}

	history, err := s.ListMomHistory(ctx, m.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(history))
	}
	if history[1].FromStatus != domain.MomInReview || history[1].ToStatus != domain.MomNeedsRevision || history[1].Comment != comment {
		t.Fatalf("unexpected history row: %+v", history[1])
	}
}

func TestGormStoreUpdateMomContentKeepsStatusAndNumber(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	owner := mustUser(t, s, "owner@example.com")
	p := mustProject(t, s, owner.ID)

	number := "001"
	m, err := s.CreateMom(ctx, domain.Mom{
		Title:      "Weekly",
		Status:     domain.MomCreated,
		CreatorID:  owner.ID,
		ProjectID:  p.ID,
		MomNumber:  &number,
		Discussion: []domain.ChecklistItem{{Text: "budget"}},
	})
	if err != nil {
		t.Fatalf("create mom: %v", err)
	}

	edit := m
	edit.Title = "Weekly sync"
	edit.Status = domain.MomApproved
	other := "999"
	edit.MomNumber = &other
	edit.Discussion = []domain.ChecklistItem{{Text: "budget", Completed: true}, {Text: "hiring"}}
	got, err := s.UpdateMomContent(ctx, edit, domain.MomCreated)
	if err != nil {
		t.Fatalf("update content: %v", err)
	}
	if got.Title != "Weekly sync" || got.Status != domain.MomCreated {
		t.Fatalf("unexpected mom after edit: %+v", got)
	}
	if got.MomNumber == nil || *got.MomNumber != "001" {
		t.Fatalf("mom number changed: %v", got.MomNumber)
	}
	if len(got.Discussion) != 2 || !got.Discussion[0].Completed {
		t.Fatalf("checklist not persisted: %+v", got.Discussion)
	}

	if _, err := s.UpdateMomContent(ctx, edit, domain.MomInReview); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGormStoreLatestMomNumber(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	owner := mustUser(t, s, "owner@example.com")
	p := mustProject(t, s, owner.ID)

	latest, err := s.LatestMomNumber(ctx, p.ID)
	if err != nil || latest != nil {
		t.Fatalf("expected no number yet, got %v err=%v", latest, err)
	}

	for _, n := range []string{"001", "002"} {
		number := n
		if _, err := s.CreateMom(ctx, domain.Mom{Title: n, Status: domain.MomCreated, CreatorID: owner.ID, ProjectID: p.ID, MomNumber: &number}); err != nil {
			t.Fatalf("create mom %s: %v", n, err)
		}
	}
	if _, err := s.CreateMom(ctx, domain.Mom{Title: "unnumbered", Status: domain.MomCreated, CreatorID: owner.ID, ProjectID: p.ID}); err != nil {
		t.Fatalf("create unnumbered mom: %v", err)
	}

	latest, err = s.LatestMomNumber(ctx, p.ID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || *latest != "002" {
		t.Fatalf("expected 002, got %v", latest)
	}

	dup := "002"
	if _, err := s.CreateMom(ctx, domain.Mom{Title: "dup", Status: domain.MomCreated, CreatorID: owner.ID, ProjectID: p.ID, MomNumber: &dup}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for taken number, got %v", err)
	}
}

func TestGormStoreDeleteProjectCascades(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	owner := mustUser(t, s, "owner@example.com")
	p := mustProject(t, s, owner.ID)

	m, err := s.CreateMom(ctx, domain.Mom{Title: "gone", Status: domain.MomCreated, CreatorID: owner.ID, ProjectID: p.ID})
	if err != nil {
		t.Fatalf("create mom: %v", err)
	}
	if _, err := s.CreateNotifications(ctx, []domain.Notification{{UserID: owner.ID, ProjectID: p.ID, MomID: &m.ID, Type: "MOM_CLOSED", Message: "closed"}}); err != nil {
		t.Fatalf("create notification: %v", err)
	}
	if err := s.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	if _, ok, _ := s.GetMom(ctx, m.ID); ok {
		t.Fatalf("expected mom to be deleted")
	}
	_, total, err := s.ListNotifications(ctx, owner.ID, Page{})
	if err != nil || total != 0 {
		t.Fatalf("expected notifications removed: total=%d err=%v", total, err)
	}
	if err := s.DeleteProject(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestGormStoreNotificationsReadFlag(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	owner := mustUser(t, s, "owner@example.com")
	other := mustUser(t, s, "other@example.com")
	p := mustProject(t, s, owner.ID)

	created, err := s.CreateNotifications(ctx, []domain.Notification{
		{UserID: owner.ID, ProjectID: p.ID, Type: "MOM_IN_REVIEW", Message: "one"},
		{UserID: owner.ID, ProjectID: p.ID, Type: "MOM_APPROVED", Message: "two"},
	})
	if err != nil {
		t.Fatalf("create notifications: %v", err)
	}
	if err := s.MarkNotificationRead(ctx, created[0].ID, other.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign notification, got %v", err)
	}
	if err := s.MarkNotificationRead(ctx, created[0].ID, owner.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	items, total, err := s.ListNotifications(ctx, owner.ID, Page{Number: 1, Size: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(items) != 1 || items[0].Message != "two" {
		t.Fatalf("unexpected page: total=%d items=%+v", total, items)
	}
}

func mustUser(t *testing.T, s Store, email string) domain.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), domain.User{Email: email, PasswordHash: "hash", Role: domain.RoleUser, IsActive: true})
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

func mustProject(t *testing.T, s Store, creatorID uint) domain.Project {
	t.Helper()
	p, err := s.CreateProject(context.Background(), domain.Project{Title: "Project", Status: domain.ProjectOpen, CreatorID: creatorID})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}
