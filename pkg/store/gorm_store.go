package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"momflow/pkg/domain"
)

const (
	migrateLockID  int64 = 61661001
	registerLockID int64 = 61661002
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the Postgres DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	return OpenGormStore(postgres.Open(dsn))
}

// OpenGormStore opens a store over any GORM dialector. Migrations run under a
// Postgres advisory lock when the dialector is Postgres.
func OpenGormStore(dialector gorm.Dialector) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{},
			&ProjectModel{},
			&ProjectRoleModel{},
			&MomModel{},
			&MomHistoryModel{},
			&NotificationModel{},
			&AttachmentModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if dialector.Name() == "postgres" {
		err = withMigrationLock(db, migrate)
	} else {
		err = migrate(db)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateUser inserts a user; a taken email yields ErrDuplicate.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	model := userToModel(u)
	model.ID = 0
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.User{}, translateError(err)
	}
	return userFromModel(model), nil
}

// RegisterUser counts and inserts in one transaction. On Postgres a
// transaction-scoped advisory lock serializes concurrent registrations.
func (s *GormStore) RegisterUser(ctx context.Context, u domain.User, firstRole domain.UserRole) (domain.User, error) {
	model := userToModel(u)
	model.ID = 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", registerLockID).Error; err != nil {
				return fmt.Errorf("acquire register lock: %w", err)
			}
		}
		var count int64
		if err := tx.Model(&UserModel{}).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			model.Role = string(firstRole)
		}
		return tx.Create(&model).Error
	})
	if err != nil {
		return domain.User{}, translateError(err)
	}
	return userFromModel(model), nil
}

// UpdateUser writes profile, role and activation fields.
func (s *GormStore) UpdateUser(ctx context.Context, u domain.User) error {
	res := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ?", u.ID).
		Updates(map[string]any{
			"email":            u.Email,
			"name":             u.Name,
			"password_hash":    u.PasswordHash,
			"role":             string(u.Role),
			"is_active":        u.IsActive,
			"profile_complete": u.ProfileComplete,
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id uint) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUsersByIDs returns the users that exist among ids, ordered by id.
func (s *GormStore) GetUsersByIDs(ctx context.Context, ids []uint) ([]domain.User, error) {
	if len(ids) == 0 {
		return []domain.User{}, nil
	}
	var models []UserModel
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// ListUsers returns a page of users ordered by id.
func (s *GormStore) ListUsers(ctx context.Context, page Page) ([]domain.User, int64, error) {
	page = page.Normalize()
	var total int64
	if err := s.db.WithContext(ctx).Model(&UserModel{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []UserModel
	if err := s.db.WithContext(ctx).Order("id ASC").Offset(page.Offset()).Limit(page.Size).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, total, nil
}

// UserCount returns number of users.
func (s *GormStore) UserCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// CreateProject inserts a project and gives its creator the CREATOR role.
func (s *GormStore) CreateProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	model := projectToModel(p)
	model.ID = 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		role := ProjectRoleModel{
			ProjectID: model.ID,
			UserID:    model.CreatorID,
			Role:      string(domain.ProjectCreator),
			CreatedAt: model.CreatedAt,
		}
		return tx.Create(&role).Error
	})
	if err != nil {
		return domain.Project{}, translateError(err)
	}
	return projectFromModel(model), nil
}

// UpdateProject writes title, description and status.
func (s *GormStore) UpdateProject(ctx context.Context, p domain.Project) error {
	res := s.db.WithContext(ctx).Model(&ProjectModel{}).
		Where("id = ?", p.ID).
		Updates(map[string]any{
			"title":       p.Title,
			"description": p.Description,
			"status":      string(p.Status),
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetProject retrieves a project.
func (s *GormStore) GetProject(ctx context.Context, id uint) (domain.Project, bool, error) {
	var model ProjectModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Project{}, false, nil
		}
		return domain.Project{}, false, err
	}
	return projectFromModel(model), true, nil
}

// ListProjects returns a page of projects; memberID > 0 limits the result to
// projects where that user holds a role.
func (s *GormStore) ListProjects(ctx context.Context, memberID uint, page Page) ([]domain.Project, int64, error) {
	page = page.Normalize()
	scope := func(tx *gorm.DB) *gorm.DB {
		if memberID > 0 {
			sub := s.db.Model(&ProjectRoleModel{}).Select("project_id").Where("user_id = ?", memberID)
			tx = tx.Where("id IN (?)", sub)
		}
		return tx
	}
	var total int64
	if err := s.db.WithContext(ctx).Model(&ProjectModel{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []ProjectModel
	if err := s.db.WithContext(ctx).Scopes(scope).
		Order("id DESC").
		Offset(page.Offset()).
		Limit(page.Size).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}
	res := make([]domain.Project, 0, len(models))
	for _, m := range models {
		res = append(res, projectFromModel(m))
	}
	return res, total, nil
}

// DeleteProject removes the project with its roles, MoMs and their records.
func (s *GormStore) DeleteProject(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		momIDs := func() *gorm.DB {
			return tx.Model(&MomModel{}).Select("id").Where("project_id = ?", id)
		}
		if err := tx.Where("mom_id IN (?)", momIDs()).Delete(&MomHistoryModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("mom_id IN (?)", momIDs()).Delete(&AttachmentModel{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&MomModel{}, "project_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ProjectRoleModel{}, "project_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&NotificationModel{}, "project_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&ProjectModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// AssignProjectRole adds a role row; assigning an existing triple is a no-op.
func (s *GormStore) AssignProjectRole(ctx context.Context, r domain.ProjectUserRole) error {
	model := ProjectRoleModel{
		ProjectID: r.ProjectID,
		UserID:    r.UserID,
		Role:      string(r.Role),
		CreatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "user_id"}, {Name: "role"}},
		DoNothing: true,
	}).Create(&model).Error
}

// RemoveProjectRole deletes one role row.
func (s *GormStore) RemoveProjectRole(ctx context.Context, projectID, userID uint, role domain.ProjectRole) error {
	res := s.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ? AND role = ?", projectID, userID, string(role)).
		Delete(&ProjectRoleModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListProjectRoles returns every (user, role) pair of a project.
func (s *GormStore) ListProjectRoles(ctx context.Context, projectID uint) ([]domain.ProjectUserRole, error) {
	var models []ProjectRoleModel
	if err := s.db.WithContext(ctx).Where("project_id = ?", projectID).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ProjectUserRole, 0, len(models))
	for _, m := range models {
		res = append(res, roleFromModel(m))
	}
	return res, nil
}

// CreateMom inserts a MoM. A mom_number already used in the project yields ErrConflict.
func (s *GormStore) CreateMom(ctx context.Context, m domain.Mom) (domain.Mom, error) {
	model := momToModel(m)
	model.ID = 0
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if err = translateError(err); errors.Is(err, ErrDuplicate) {
			return domain.Mom{}, fmt.Errorf("%w: mom number %v already taken", ErrConflict, derefString(m.MomNumber))
		}
		return domain.Mom{}, err
	}
	return momFromModel(model), nil
}

// GetMom retrieves a MoM.
func (s *GormStore) GetMom(ctx context.Context, id uint) (domain.Mom, bool, error) {
	var model MomModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Mom{}, false, nil
		}
		return domain.Mom{}, false, err
	}
	return momFromModel(model), true, nil
}

// ListMoms returns a page of MoMs, newest first.
func (s *GormStore) ListMoms(ctx context.Context, filter MomFilter, page Page) ([]domain.Mom, int64, error) {
	page = page.Normalize()
	scope := func(tx *gorm.DB) *gorm.DB {
		if filter.ProjectID > 0 {
			tx = tx.Where("project_id = ?", filter.ProjectID)
		}
		if filter.Status != "" {
			tx = tx.Where("status = ?", string(filter.Status))
		}
		if filter.MemberID > 0 {
			sub := s.db.Model(&ProjectRoleModel{}).Select("project_id").Where("user_id = ?", filter.MemberID)
			tx = tx.Where("project_id IN (?)", sub)
		}
		return tx
	}
	var total int64
	if err := s.db.WithContext(ctx).Model(&MomModel{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []MomModel
	if err := s.db.WithContext(ctx).Scopes(scope).
		Order("id DESC").
		Offset(page.Offset()).
		Limit(page.Size).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}
	res := make([]domain.Mom, 0, len(models))
	for _, m := range models {
		res = append(res, momFromModel(m))
	}
	return res, total, nil
}

// UpdateMomContent writes the editable fields while the MoM is still in the
// expected status. Status and mom_number are never written here.
func (s *GormStore) UpdateMomContent(ctx context.Context, m domain.Mom, expected domain.MomStatus) (domain.Mom, error) {
	model := momToModel(m)
	var out MomModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&MomModel{}).
			Where("id = ? AND status = ?", m.ID, string(expected)).
			Updates(map[string]any{
				"title":           model.Title,
				"place":           model.Place,
				"completion_date": model.CompletionDate,
				"discussion":      model.Discussion,
				"open_issues":     model.OpenIssues,
				"updates":         model.Updates,
				"notes":           model.Notes,
				"updated_at":      time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return missingOrConflict(tx, m.ID)
		}
		return tx.First(&out, "id = ?", m.ID).Error
	})
	if err != nil {
		return domain.Mom{}, err
	}
	return momFromModel(out), nil
}

// UpdateMomStatus moves a MoM from expected to next and records the history
// row in the same transaction. If the stored status is no longer expected the
// update is not applied and ErrConflict is returned.
func (s *GormStore) UpdateMomStatus(ctx context.Context, id uint, expected, next domain.MomStatus, fields MomStatusFields) (domain.Mom, error) {
	now := time.Now().UTC()
	var out MomModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"status":     string(next),
			"updated_at": now,
		}
		if fields.RejectionComment != nil {
			updates["rejection_comment"] = *fields.RejectionComment
		}
		res := tx.Model(&MomModel{}).
			Where("id = ? AND status = ?", id, string(expected)).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return missingOrConflict(tx, id)
		}
		history := MomHistoryModel{
			MomID:      id,
			Action:     fields.Action,
			FromStatus: string(expected),
			ToStatus:   string(next),
			ActorID:    fields.ActorID,
			Comment:    fields.Comment,
			CreatedAt:  now,
		}
		if err := tx.Create(&history).Error; err != nil {
			return err
		}
		return tx.First(&out, "id = ?", id).Error
	})
	if err != nil {
		return domain.Mom{}, err
	}
	return momFromModel(out), nil
}

func missingOrConflict(tx *gorm.DB, id uint) error {
	var count int64
	if err := tx.Model(&MomModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

// LatestMomNumber returns the mom_number of the most recent numbered MoM of a
// project, or nil when none is numbered yet.
func (s *GormStore) LatestMomNumber(ctx context.Context, projectID uint) (*string, error) {
	var model MomModel
	err := s.db.WithContext(ctx).
		Select("id", "mom_number").
		Where("project_id = ? AND mom_number IS NOT NULL", projectID).
		Order("id DESC").
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return model.MomNumber, nil
}

// DeleteMom removes a MoM with its history and attachment rows.
func (s *GormStore) DeleteMom(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&MomHistoryModel{}, "mom_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&AttachmentModel{}, "mom_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&MomModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListMomHistory returns transitions of a MoM in the order they happened.
func (s *GormStore) ListMomHistory(ctx context.Context, momID uint) ([]domain.MomHistory, error) {
	var models []MomHistoryModel
	if err := s.db.WithContext(ctx).Where("mom_id = ?", momID).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.MomHistory, 0, len(models))
	for _, m := range models {
		res = append(res, historyFromModel(m))
	}
	return res, nil
}

// CreateNotifications inserts notification rows in one batch.
func (s *GormStore) CreateNotifications(ctx context.Context, items []domain.Notification) ([]domain.Notification, error) {
	if len(items) == 0 {
		return []domain.Notification{}, nil
	}
	models := make([]NotificationModel, 0, len(items))
	for _, n := range items {
		model := notificationToModel(n)
		model.ID = 0
		models = append(models, model)
	}
	if err := s.db.WithContext(ctx).CreateInBatches(&models, 200).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Notification, 0, len(models))
	for _, m := range models {
		res = append(res, notificationFromModel(m))
	}
	return res, nil
}

// ListNotifications returns a page of a user's notifications, newest first.
func (s *GormStore) ListNotifications(ctx context.Context, userID uint, page Page) ([]domain.Notification, int64, error) {
	page = page.Normalize()
	var total int64
	if err := s.db.WithContext(ctx).Model(&NotificationModel{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []NotificationModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("id DESC").
		Offset(page.Offset()).
		Limit(page.Size).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}
	res := make([]domain.Notification, 0, len(models))
	for _, m := range models {
		res = append(res, notificationFromModel(m))
	}
	return res, total, nil
}

// MarkNotificationRead flags a notification owned by userID as read.
func (s *GormStore) MarkNotificationRead(ctx context.Context, id, userID uint) error {
	res := s.db.WithContext(ctx).Model(&NotificationModel{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateAttachment records uploaded file metadata.
func (s *GormStore) CreateAttachment(ctx context.Context, a domain.Attachment) (domain.Attachment, error) {
	model := attachmentToModel(a)
	model.ID = 0
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Attachment{}, err
	}
	return attachmentFromModel(model), nil
}

// GetAttachment retrieves attachment metadata.
func (s *GormStore) GetAttachment(ctx context.Context, id uint) (domain.Attachment, bool, error) {
	var model AttachmentModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Attachment{}, false, nil
		}
		return domain.Attachment{}, false, err
	}
	return attachmentFromModel(model), true, nil
}

// ListAttachments returns a MoM's attachments in upload order.
func (s *GormStore) ListAttachments(ctx context.Context, momID uint) ([]domain.Attachment, error) {
	var models []AttachmentModel
	if err := s.db.WithContext(ctx).Where("mom_id = ?", momID).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Attachment, 0, len(models))
	for _, m := range models {
		res = append(res, attachmentFromModel(m))
	}
	return res, nil
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key") {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
