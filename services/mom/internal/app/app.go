package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"momflow/pkg/auth"
	"momflow/pkg/domain"
	"momflow/pkg/mail"
	"momflow/pkg/notify"
	"momflow/pkg/pdf"
	"momflow/pkg/queue"
	"momflow/pkg/storage"
	"momflow/pkg/store"
)

const defaultMaxAttachmentBytes int64 = 25 << 20

// PDFRenderer turns a MoM into a PDF document.
type PDFRenderer interface {
	Render(ctx context.Context, m domain.Mom, project domain.Project, creator domain.User) ([]byte, error)
}

// JobQueue hands work to background consumers.
type JobQueue interface {
	Enqueue(ctx context.Context, kind string, payload any) (queue.Job, error)
}

// Config holds the collaborators of the application.
type Config struct {
	Store    store.Store
	Sessions store.SessionStore
	Objects  storage.ObjectStore
	Hub      notify.Hub
	Mailer   mail.Mailer
	Renderer PDFRenderer
	// Queue is optional; without it transition effects run in-process.
	Queue              JobQueue
	DispatchTimeout    time.Duration
	MaxAttachmentBytes int64
	Logger             *slog.Logger
}

// App is the MoM application service wiring storage, sessions and the
// approval workflow together.
type App struct {
	store      store.Store
	sessions   store.SessionStore
	objects    storage.ObjectStore
	hub        notify.Hub
	renderer   PDFRenderer
	notifier   *Notifier
	dispatcher *Dispatcher
	maxUpload  int64
	logger     *slog.Logger
}

// New constructs the application. Store, Sessions and Objects are required.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session store required")
	}
	if cfg.Objects == nil {
		return nil, fmt.Errorf("object store required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := cfg.Hub
	if hub == nil {
		hub = notify.NewMemoryHub()
	}
	mailer := cfg.Mailer
	if mailer == nil {
		mailer = mail.NewLogMailer(logger)
	}
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = pdf.NewRenderer(pdf.DefaultTimeout)
	}
	maxUpload := cfg.MaxAttachmentBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxAttachmentBytes
	}

	notifier := NewNotifier(cfg.Store, hub, logger)
	dispatcher := NewDispatcher(DispatcherConfig{
		Store:    cfg.Store,
		Notifier: notifier,
		Mailer:   mailer,
		Renderer: renderer,
		Objects:  cfg.Objects,
		Queue:    cfg.Queue,
		Timeout:  cfg.DispatchTimeout,
		Logger:   logger,
	})

	return &App{
		store:      cfg.Store,
		sessions:   cfg.Sessions,
		objects:    cfg.Objects,
		hub:        hub,
		renderer:   renderer,
		notifier:   notifier,
		dispatcher: dispatcher,
		maxUpload:  maxUpload,
		logger:     logger,
	}, nil
}

// Dispatcher exposes the side-effect dispatcher for queue wiring and shutdown.
func (a *App) Dispatcher() *Dispatcher {
	return a.dispatcher
}

// SignUp registers a user and issues a session token. The first account
// becomes SUPER_ADMIN.
func (a *App) SignUp(ctx context.Context, email, name, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return domain.User{}, "", ErrEmailAndPasswordRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", classify(err)
	}
	_, exists, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", ErrEmailAlreadyExists
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	name = strings.TrimSpace(name)
	user, err := a.store.RegisterUser(ctx, domain.User{
		Email:           email,
		Name:            name,
		PasswordHash:    passwordHash,
		Role:            domain.RoleUser,
		IsActive:        true,
		ProfileComplete: name != "",
	}, domain.RoleSuperAdmin)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.User{}, "", ErrEmailAlreadyExists
		}
		return domain.User{}, "", fmt.Errorf("create user: %w", err)
	}
	token, err := a.issueToken(user)
	if err != nil {
		return domain.User{}, "", err
	}
	return user, token, nil
}

// Login validates credentials and issues a session token.
func (a *App) Login(ctx context.Context, email, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !user.IsActive {
		return domain.User{}, "", ErrInvalidCredentials
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.issueToken(user)
	if err != nil {
		return domain.User{}, "", err
	}
	return user, token, nil
}

func (a *App) issueToken(user domain.User) (string, error) {
	token, err := a.sessions.NewSession(formatUserID(user.ID))
	if err != nil {
		return "", fmt.Errorf("issue session token: %w", err)
	}
	return token, nil
}

// Logout invalidates the session token.
func (a *App) Logout(token string) error {
	return a.sessions.DeleteSession(token)
}

// UserFromToken resolves an active user from a session token.
func (a *App) UserFromToken(ctx context.Context, token string) (domain.User, bool) {
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	id, err := strconv.ParseUint(uid, 10, 64)
	if err != nil {
		return domain.User{}, false
	}
	user, found, err := a.store.GetUserByID(ctx, uint(id))
	if err != nil || !found || !user.IsActive {
		return domain.User{}, false
	}
	return user, true
}

// UpdateProfile sets the display name of the current user.
func (a *App) UpdateProfile(ctx context.Context, user domain.User, name string) (domain.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.User{}, fmt.Errorf("%w: name required", ErrValidation)
	}
	user.Name = name
	user.ProfileComplete = true
	user.UpdatedAt = time.Now().UTC()
	if err := a.store.UpdateUser(ctx, user); err != nil {
		return domain.User{}, fmt.Errorf("update user: %w", classify(err))
	}
	return user, nil
}

// ChangePassword updates the password after verifying the current one and
// revokes every session issued before the change.
func (a *App) ChangePassword(ctx context.Context, user domain.User, currentPassword, newPassword string) error {
	if strings.TrimSpace(newPassword) == "" {
		return fmt.Errorf("%w: new password required", ErrValidation)
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return classify(err)
	}
	stored, ok, err := a.store.GetUserByID(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !stored.IsActive {
		return ErrUnauthorized
	}
	if !auth.CheckPassword(currentPassword, stored.PasswordHash) {
		return ErrInvalidCredentials
	}
	if currentPassword == newPassword {
		return fmt.Errorf("%w: new password must differ from current password", ErrValidation)
	}
	passwordHash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	revokeSince := time.Now().UTC()
	stored.PasswordHash = passwordHash
	stored.UpdatedAt = revokeSince
	if err := a.store.UpdateUser(ctx, stored); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := a.revokeUserSessions(stored.ID, revokeSince); err != nil {
		return fmt.Errorf("revoke user tokens: %w", err)
	}
	return nil
}

// ListUsers returns a page of accounts (admin use only).
func (a *App) ListUsers(ctx context.Context, page store.Page) ([]domain.User, int64, error) {
	return a.store.ListUsers(ctx, page)
}

// AdminUpdateUser changes the global role or active flag of an account.
func (a *App) AdminUpdateUser(ctx context.Context, admin domain.User, userID uint, role *domain.UserRole, active *bool) (domain.User, error) {
	if !admin.IsSuperAdmin() {
		return domain.User{}, ErrForbidden
	}
	target, ok, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, fmt.Errorf("%w: user", ErrNotFound)
	}
	if role != nil && *role != domain.RoleUser && *role != domain.RoleSuperAdmin {
		return domain.User{}, fmt.Errorf("%w: invalid role %q", ErrValidation, *role)
	}
	if target.ID == admin.ID {
		if role != nil && *role != admin.Role {
			return domain.User{}, fmt.Errorf("%w: cannot change own role", ErrValidation)
		}
		if active != nil && !*active {
			return domain.User{}, fmt.Errorf("%w: cannot disable self", ErrValidation)
		}
	}
	if role != nil {
		target.Role = *role
	}
	if active != nil {
		target.IsActive = *active
	}
	target.UpdatedAt = time.Now().UTC()
	if err := a.store.UpdateUser(ctx, target); err != nil {
		return domain.User{}, fmt.Errorf("update user: %w", classify(err))
	}
	if active != nil && !*active {
		if err := a.revokeUserSessions(target.ID, target.UpdatedAt); err != nil {
			return domain.User{}, fmt.Errorf("revoke disabled user tokens: %w", err)
		}
	}
	return target, nil
}

func (a *App) revokeUserSessions(userID uint, since time.Time) error {
	revoker, ok := a.sessions.(store.UserSessionRevoker)
	if !ok {
		return nil
	}
	return revoker.RevokeUserSessions(formatUserID(userID), since)
}

// JWKS returns public signing keys when the session store supports it.
func (a *App) JWKS() []store.JWK {
	provider, ok := a.sessions.(store.JWKSProvider)
	if !ok {
		return nil
	}
	return provider.JWKS()
}

func formatUserID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
