package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"momflow/pkg/domain"
)

// MemoryStore keeps all records in-process. It is meant for tests and local
// single-instance runs; the status compare-and-swap holds only within one process.
type MemoryStore struct {
	mu sync.Mutex

	seq           uint
	users         map[uint]domain.User
	projects      map[uint]domain.Project
	roles         []domain.ProjectUserRole
	moms          map[uint]domain.Mom
	history       []domain.MomHistory
	notifications []domain.Notification
	attachments   map[uint]domain.Attachment
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[uint]domain.User),
		projects:    make(map[uint]domain.Project),
		moms:        make(map[uint]domain.Mom),
		attachments: make(map[uint]domain.Attachment),
	}
}

func (m *MemoryStore) nextID() uint {
	m.seq++
	return m.seq
}

func (m *MemoryStore) CreateUser(_ context.Context, u domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertUserLocked(u)
}

func (m *MemoryStore) RegisterUser(_ context.Context, u domain.User, firstRole domain.UserRole) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.users) == 0 {
		u.Role = firstRole
	}
	return m.insertUserLocked(u)
}

func (m *MemoryStore) insertUserLocked(u domain.User) (domain.User, error) {
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return domain.User{}, fmt.Errorf("%w: email %s", ErrDuplicate, u.Email)
		}
	}
	u.ID = m.nextID()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.UpdatedAt = u.CreatedAt
	m.users[u.ID] = u
	return u, nil
}

func (m *MemoryStore) UpdateUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	for id, other := range m.users {
		if id != u.ID && strings.EqualFold(other.Email, u.Email) {
			return fmt.Errorf("%w: email %s", ErrDuplicate, u.Email)
		}
	}
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	m.users[u.ID] = u
	return nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (m *MemoryStore) GetUserByID(_ context.Context, id uint) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUsersByIDs(_ context.Context, ids []uint) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.User, 0, len(ids))
	seen := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if u, ok := m.users[id]; ok {
			res = append(res, u)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (m *MemoryStore) ListUsers(_ context.Context, page Page) ([]domain.User, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return paginate(all, page), int64(len(all)), nil
}

func (m *MemoryStore) UserCount(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.users)), nil
}

func (m *MemoryStore) CreateProject(_ context.Context, p domain.Project) (domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.nextID()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.UpdatedAt = p.CreatedAt
	m.projects[p.ID] = p
	m.roles = append(m.roles, domain.ProjectUserRole{
		ProjectID: p.ID,
		UserID:    p.CreatorID,
		Role:      domain.ProjectCreator,
		CreatedAt: p.CreatedAt,
	})
	return p, nil
}

func (m *MemoryStore) UpdateProject(_ context.Context, p domain.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.projects[p.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Title = p.Title
	existing.Description = p.Description
	existing.Status = p.Status
	existing.UpdatedAt = time.Now().UTC()
	m.projects[p.ID] = existing
	return nil
}

func (m *MemoryStore) GetProject(_ context.Context, id uint) (domain.Project, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	return p, ok, nil
}

func (m *MemoryStore) ListProjects(_ context.Context, memberID uint, page Page) ([]domain.Project, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]domain.Project, 0, len(m.projects))
	for _, p := range m.projects {
		if memberID > 0 && !m.isMemberLocked(p.ID, memberID) {
			continue
		}
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return paginate(all, page), int64(len(all)), nil
}

func (m *MemoryStore) DeleteProject(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return ErrNotFound
	}
	for momID, mom := range m.moms {
		if mom.ProjectID == id {
			m.deleteMomLocked(momID)
		}
	}
	roles := m.roles[:0]
	for _, r := range m.roles {
		if r.ProjectID != id {
			roles = append(roles, r)
		}
	}
	m.roles = roles
	notifications := m.notifications[:0]
	for _, n := range m.notifications {
		if n.ProjectID != id {
			notifications = append(notifications, n)
		}
	}
	m.notifications = notifications
	delete(m.projects, id)
	return nil
}

func (m *MemoryStore) AssignProjectRole(_ context.Context, r domain.ProjectUserRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if existing.ProjectID == r.ProjectID && existing.UserID == r.UserID && existing.Role == r.Role {
			return nil
		}
	}
	r.CreatedAt = time.Now().UTC()
	m.roles = append(m.roles, r)
	return nil
}

func (m *MemoryStore) RemoveProjectRole(_ context.Context, projectID, userID uint, role domain.ProjectRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.roles {
		if r.ProjectID == projectID && r.UserID == userID && r.Role == role {
			m.roles = append(m.roles[:i], m.roles[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) ListProjectRoles(_ context.Context, projectID uint) ([]domain.ProjectUserRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.ProjectUserRole, 0)
	for _, r := range m.roles {
		if r.ProjectID == projectID {
			res = append(res, r)
		}
	}
	return res, nil
}

func (m *MemoryStore) CreateMom(_ context.Context, mom domain.Mom) (domain.Mom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mom.MomNumber != nil {
		for _, existing := range m.moms {
			if existing.ProjectID == mom.ProjectID && existing.MomNumber != nil && *existing.MomNumber == *mom.MomNumber {
				return domain.Mom{}, fmt.Errorf("%w: mom number %s already taken", ErrConflict, *mom.MomNumber)
			}
		}
	}
	mom.ID = m.nextID()
	now := time.Now().UTC()
	mom.CreatedAt = now
	mom.UpdatedAt = now
	mom = cloneMom(mom)
	m.moms[mom.ID] = mom
	return cloneMom(mom), nil
}

func (m *MemoryStore) GetMom(_ context.Context, id uint) (domain.Mom, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mom, ok := m.moms[id]
	if !ok {
		return domain.Mom{}, false, nil
	}
	return cloneMom(mom), true, nil
}

func (m *MemoryStore) ListMoms(_ context.Context, filter MomFilter, page Page) ([]domain.Mom, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]domain.Mom, 0, len(m.moms))
	for _, mom := range m.moms {
		if filter.ProjectID > 0 && mom.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Status != "" && mom.Status != filter.Status {
			continue
		}
		if filter.MemberID > 0 && !m.isMemberLocked(mom.ProjectID, filter.MemberID) {
			continue
		}
		all = append(all, cloneMom(mom))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return paginate(all, page), int64(len(all)), nil
}

func (m *MemoryStore) UpdateMomContent(_ context.Context, mom domain.Mom, expected domain.MomStatus) (domain.Mom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.moms[mom.ID]
	if !ok {
		return domain.Mom{}, ErrNotFound
	}
	if existing.Status != expected {
		return domain.Mom{}, ErrConflict
	}
	existing.Title = mom.Title
	existing.Place = mom.Place
	existing.CompletionDate = mom.CompletionDate
	existing.Discussion = mom.Discussion
	existing.OpenIssues = mom.OpenIssues
	existing.Updates = mom.Updates
	existing.Notes = mom.Notes
	existing.UpdatedAt = time.Now().UTC()
	existing = cloneMom(existing)
	m.moms[mom.ID] = existing
	return cloneMom(existing), nil
}

func (m *MemoryStore) UpdateMomStatus(_ context.Context, id uint, expected, next domain.MomStatus, fields MomStatusFields) (domain.Mom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mom, ok := m.moms[id]
	if !ok {
		return domain.Mom{}, ErrNotFound
	}
	if mom.Status != expected {
		return domain.Mom{}, ErrConflict
	}
	now := time.Now().UTC()
	mom.Status = next
	mom.UpdatedAt = now
	if fields.RejectionComment != nil {
		mom.RejectionComment = *fields.RejectionComment
	}
	m.moms[id] = mom
	m.history = append(m.history, domain.MomHistory{
		ID:         m.nextID(),
		MomID:      id,
		Action:     fields.Action,
		FromStatus: expected,
		ToStatus:   next,
		ActorID:    fields.ActorID,
		Comment:    fields.Comment,
		CreatedAt:  now,
	})
	return cloneMom(mom), nil
}

func (m *MemoryStore) LatestMomNumber(_ context.Context, projectID uint) (*string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.Mom
	for id := range m.moms {
		mom := m.moms[id]
		if mom.ProjectID != projectID || mom.MomNumber == nil {
			continue
		}
		if latest == nil || mom.ID > latest.ID {
			latest = &mom
		}
	}
	if latest == nil {
		return nil, nil
	}
	number := *latest.MomNumber
	return &number, nil
}

func (m *MemoryStore) DeleteMom(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.moms[id]; !ok {
		return ErrNotFound
	}
	m.deleteMomLocked(id)
	return nil
}

func (m *MemoryStore) deleteMomLocked(id uint) {
	delete(m.moms, id)
	history := m.history[:0]
	for _, h := range m.history {
		if h.MomID != id {
			history = append(history, h)
		}
	}
	m.history = history
	for attID, a := range m.attachments {
		if a.MomID == id {
			delete(m.attachments, attID)
		}
	}
}

func (m *MemoryStore) ListMomHistory(_ context.Context, momID uint) ([]domain.MomHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.MomHistory, 0)
	for _, h := range m.history {
		if h.MomID == momID {
			res = append(res, h)
		}
	}
	return res, nil
}

func (m *MemoryStore) CreateNotifications(_ context.Context, items []domain.Notification) ([]domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.Notification, 0, len(items))
	for _, n := range items {
		n.ID = m.nextID()
		if n.CreatedAt.IsZero() {
			n.CreatedAt = time.Now().UTC()
		}
		m.notifications = append(m.notifications, n)
		res = append(res, n)
	}
	return res, nil
}

func (m *MemoryStore) ListNotifications(_ context.Context, userID uint, page Page) ([]domain.Notification, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]domain.Notification, 0)
	for i := len(m.notifications) - 1; i >= 0; i-- {
		if m.notifications[i].UserID == userID {
			all = append(all, m.notifications[i])
		}
	}
	return paginate(all, page), int64(len(all)), nil
}

func (m *MemoryStore) MarkNotificationRead(_ context.Context, id, userID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notifications {
		if m.notifications[i].ID == id && m.notifications[i].UserID == userID {
			m.notifications[i].Read = true
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) CreateAttachment(_ context.Context, a domain.Attachment) (domain.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = m.nextID()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.attachments[a.ID] = a
	return a, nil
}

func (m *MemoryStore) GetAttachment(_ context.Context, id uint) (domain.Attachment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attachments[id]
	return a, ok, nil
}

func (m *MemoryStore) ListAttachments(_ context.Context, momID uint) ([]domain.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.Attachment, 0)
	for _, a := range m.attachments {
		if a.MomID == momID {
			res = append(res, a)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (m *MemoryStore) isMemberLocked(projectID, userID uint) bool {
	for _, r := range m.roles {
		if r.ProjectID == projectID && r.UserID == userID {
			return true
		}
	}
	return false
}

func cloneMom(mom domain.Mom) domain.Mom {
	mom.Discussion = cloneItems(mom.Discussion)
	mom.OpenIssues = cloneItems(mom.OpenIssues)
	mom.Updates = cloneItems(mom.Updates)
	mom.Notes = cloneItems(mom.Notes)
	return mom
}

func cloneItems(items []domain.ChecklistItem) []domain.ChecklistItem {
	out := make([]domain.ChecklistItem, len(items))
	copy(out, items)
	return out
}

func paginate[T any](items []T, page Page) []T {
	page = page.Normalize()
	start := page.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + page.Size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
