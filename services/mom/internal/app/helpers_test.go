package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"momflow/pkg/domain"
	"momflow/pkg/mail"
	"momflow/pkg/notify"
	"momflow/pkg/queue"
	"momflow/pkg/storage"
	"momflow/pkg/store"
)

type recordingMailer struct {
	mu   sync.Mutex
	msgs []mail.Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *recordingMailer) sent() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.msgs...)
}

type stubRenderer struct {
	err error
}

func (r stubRenderer) Render(_ context.Context, m domain.Mom, _ domain.Project, _ domain.User) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF-1.4 " + m.Title), nil
}

type capturingQueue struct {
	mu   sync.Mutex
	jobs []queue.Job
	err  error
}

func (q *capturingQueue) Enqueue(_ context.Context, kind string, payload any) (queue.Job, error) {
	if q.err != nil {
		return queue.Job{}, q.err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return queue.Job{}, err
	}
	job := queue.Job{ID: "job-1", Kind: kind, Payload: raw, Status: queue.StatusQueued}
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()
	return job, nil
}

type testEnv struct {
	app     *App
	store   *store.MemoryStore
	objects *storage.FileStore
	mailer  *recordingMailer
}

type envOption func(*Config)

func newTestEnv(t *testing.T, opts ...envOption) testEnv {
	t.Helper()
	sessions, err := store.NewJWTSessionStore(store.SessionConfig{}, store.NewMemoryTokenRevoker())
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	objects, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	mem := store.NewMemoryStore()
	mailer := &recordingMailer{}
	cfg := Config{
		Store:           mem,
		Sessions:        sessions,
		Objects:         objects,
		Hub:             notify.NewMemoryHub(),
		Mailer:          mailer,
		Renderer:        stubRenderer{},
		DispatchTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(a.Dispatcher().Wait)
	return testEnv{app: a, store: mem, objects: objects, mailer: mailer}
}

func mustUser(t *testing.T, s store.Store, email string, role domain.UserRole) domain.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), domain.User{
		Email:    email,
		Name:     email,
		Role:     role,
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

// projectTeam is a project with one member per workflow role.
type projectTeam struct {
	project  domain.Project
	creator  domain.User
	reviewer domain.User
	approver domain.User
	client   domain.User
	admin    domain.User
}

func newProjectTeam(t *testing.T, env testEnv) projectTeam {
	t.Helper()
	ctx := context.Background()
	team := projectTeam{
		admin:    mustUser(t, env.store, "admin@example.com", domain.RoleSuperAdmin),
		creator:  mustUser(t, env.store, "creator@example.com", domain.RoleUser),
		reviewer: mustUser(t, env.store, "reviewer@example.com", domain.RoleUser),
		approver: mustUser(t, env.store, "approver@example.com", domain.RoleUser),
		client:   mustUser(t, env.store, "client@example.com", domain.RoleUser),
	}
	project, err := env.store.CreateProject(ctx, domain.Project{
		Title:     "Plant upgrade",
		Status:    domain.ProjectOpen,
		CreatorID: team.creator.ID,
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	team.project = project
	for _, r := range []domain.ProjectUserRole{
		{ProjectID: project.ID, UserID: team.reviewer.ID, Role: domain.ProjectReviewer},
		{ProjectID: project.ID, UserID: team.approver.ID, Role: domain.ProjectApprover},
		{ProjectID: project.ID, UserID: team.client.ID, Role: domain.ProjectClient},
	} {
		if err := env.store.AssignProjectRole(ctx, r); err != nil {
			t.Fatalf("assign role: %v", err)
		}
	}
	return team
}

func mustCreateMom(t *testing.T, env testEnv, actor domain.User, projectID uint, title string) domain.Mom {
	t.Helper()
	m, err := env.app.CreateMom(context.Background(), actor, projectID, MomInput{
		Title:      title,
		Place:      "Site office",
		Discussion: []domain.ChecklistItem{{Text: "Budget"}},
	})
	if err != nil {
		t.Fatalf("create mom: %v", err)
	}
	return m
}

func notificationTypes(t *testing.T, s store.Store, userID uint) []string {
	t.Helper()
	items, _, err := s.ListNotifications(context.Background(), userID, store.Page{Size: 100})
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	types := make([]string, 0, len(items))
	for _, n := range items {
		types = append(types, n.Type)
	}
	return types
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func expectErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
