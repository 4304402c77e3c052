package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"momflow/internal/util"
	"momflow/pkg/domain"
	"momflow/pkg/mail"
	"momflow/pkg/pdf"
	"momflow/pkg/queue"
	"momflow/pkg/storage"
	"momflow/pkg/store"
	"momflow/pkg/workflow"
)

const (
	// JobKindTransition is the queue job kind carrying a TransitionEvent.
	JobKindTransition = "mom.transition"

	DefaultDispatchTimeout = 30 * time.Second
	enqueueTimeout         = 5 * time.Second
)

// TransitionEvent is a committed status change whose effects are owed.
type TransitionEvent struct {
	MomID   uint             `json:"momId"`
	Action  string           `json:"action"`
	From    domain.MomStatus `json:"from,omitempty"`
	To      domain.MomStatus `json:"to"`
	ActorID uint             `json:"actorId"`
	Comment string           `json:"comment,omitempty"`
	// RequestID correlates effect logs with the HTTP request that committed
	// the transition.
	RequestID string `json:"requestId,omitempty"`
}

type DispatcherConfig struct {
	Store    store.Store
	Notifier *Notifier
	Mailer   mail.Mailer
	Renderer PDFRenderer
	Objects  storage.ObjectStore
	Queue    JobQueue
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Dispatcher runs the effects of committed transitions: notifications, mail
// and the approved PDF. Effects run after the commit, bounded by a timeout,
// and their failures are logged rather than returned to the caller.
type Dispatcher struct {
	store    store.Store
	notifier *Notifier
	mailer   mail.Mailer
	renderer PDFRenderer
	objects  storage.ObjectStore
	queue    JobQueue
	timeout  time.Duration
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:    cfg.Store,
		notifier: cfg.Notifier,
		mailer:   cfg.Mailer,
		renderer: cfg.Renderer,
		objects:  cfg.Objects,
		queue:    cfg.Queue,
		timeout:  timeout,
		logger:   logger.With("component", "dispatcher"),
	}
}

// Dispatch schedules the effects of ev without blocking. With a queue the
// event is enqueued; if that fails, or without a queue, it runs in-process.
func (d *Dispatcher) Dispatch(ev TransitionEvent) {
	if workflow.EffectsFor(ev.To).Notify == workflow.AudienceNone {
		return
	}
	if d.queue != nil {
		ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
		_, err := d.queue.Enqueue(ctx, JobKindTransition, ev)
		cancel()
		if err == nil {
			return
		}
		d.logger.Warn("transition_enqueue_failed", "mom_id", ev.MomID, "action", ev.Action, "err", err)
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(util.ContextWithRequestID(context.Background(), ev.RequestID), d.timeout)
		defer cancel()
		if err := d.process(ctx, ev); err != nil {
			d.logFailure(ctx, ev, err)
		}
	}()
}

// HandleJob is the queue handler for JobKindTransition jobs. Only failures
// before any effect ran are returned, so a retry never repeats an effect.
func (d *Dispatcher) HandleJob(ctx context.Context, job queue.Job) error {
	if job.Kind != JobKindTransition {
		return fmt.Errorf("unexpected job kind %q", job.Kind)
	}
	var ev TransitionEvent
	if err := job.Decode(&ev); err != nil {
		return fmt.Errorf("decode transition event: %w", err)
	}
	ctx, cancel := context.WithTimeout(util.ContextWithRequestID(ctx, ev.RequestID), d.timeout)
	defer cancel()
	target, err := d.load(ctx, ev)
	if err != nil {
		return err
	}
	if err := d.run(ctx, ev, target); err != nil {
		d.logFailure(ctx, ev, err)
	}
	return nil
}

// Wait blocks until in-process dispatches have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

type effectTarget struct {
	mom     domain.Mom
	project domain.Project
	roles   []domain.ProjectUserRole
	creator domain.User
}

func (d *Dispatcher) process(ctx context.Context, ev TransitionEvent) error {
	target, err := d.load(ctx, ev)
	if err != nil {
		return err
	}
	return d.run(ctx, ev, target)
}

func (d *Dispatcher) load(ctx context.Context, ev TransitionEvent) (effectTarget, error) {
	mom, ok, err := d.store.GetMom(ctx, ev.MomID)
	if err != nil {
		return effectTarget{}, dependencyError("store", err)
	}
	if !ok {
		return effectTarget{}, dependencyError("store", fmt.Errorf("mom %d no longer exists", ev.MomID))
	}
	project, ok, err := d.store.GetProject(ctx, mom.ProjectID)
	if err != nil {
		return effectTarget{}, dependencyError("store", err)
	}
	if !ok {
		return effectTarget{}, dependencyError("store", fmt.Errorf("project %d no longer exists", mom.ProjectID))
	}
	roles, err := d.store.ListProjectRoles(ctx, mom.ProjectID)
	if err != nil {
		return effectTarget{}, dependencyError("store", err)
	}
	creator, ok, err := d.store.GetUserByID(ctx, mom.CreatorID)
	if err != nil {
		return effectTarget{}, dependencyError("store", err)
	}
	if !ok {
		return effectTarget{}, dependencyError("store", fmt.Errorf("creator %d of mom %d no longer exists", mom.CreatorID, mom.ID))
	}
	return effectTarget{mom: mom, project: project, roles: roles, creator: creator}, nil
}

// run performs the effects owed for entering ev.To. The PDF is archived even
// when nobody is left to notify. Notification and mail run concurrently; each
// failure is logged and all of them are returned joined.
func (d *Dispatcher) run(ctx context.Context, ev TransitionEvent, t effectTarget) error {
	eff := workflow.EffectsFor(ev.To)
	recipients := audienceOf(eff.Notify, t.roles, t.mom)

	var attachments []mail.Attachment
	var pdfErr error
	if eff.AttachPDF {
		doc, err := d.renderer.Render(ctx, t.mom, t.project, t.creator)
		if err != nil {
			pdfErr = dependencyError("pdf", err)
			d.logFailure(ctx, ev, pdfErr)
		} else {
			name := pdf.Filename(t.mom)
			attachments = append(attachments, mail.Attachment{Filename: name, ContentType: "application/pdf", Data: doc})
			if d.objects != nil {
				key := fmt.Sprintf("moms/%d/%s", t.mom.ID, name)
				if err := d.objects.Put(ctx, key, bytes.NewReader(doc), int64(len(doc)), "application/pdf"); err != nil {
					pdfErr = dependencyError("pdf archive", err)
					d.logFailure(ctx, ev, pdfErr)
				}
			}
		}
	}

	if len(recipients) == 0 {
		return pdfErr
	}
	message := effectMessage(ev, t.mom)

	var notifyErr, mailErr error
	var g errgroup.Group
	g.Go(func() error {
		momID := t.mom.ID
		if err := d.notifier.Notify(ctx, recipients, message, t.mom.ProjectID, &momID, eff.NotificationType); err != nil {
			notifyErr = dependencyError("notification", err)
			d.logFailure(ctx, ev, notifyErr)
		}
		return nil
	})
	if eff.Mail {
		g.Go(func() error {
			if err := d.sendMail(ctx, recipients, message, t.mom, attachments); err != nil {
				mailErr = dependencyError("mail", err)
				d.logFailure(ctx, ev, mailErr)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(pdfErr, notifyErr, mailErr)
}

func (d *Dispatcher) sendMail(ctx context.Context, userIDs []uint, message string, mom domain.Mom, attachments []mail.Attachment) error {
	users, err := d.store.GetUsersByIDs(ctx, userIDs)
	if err != nil {
		return fmt.Errorf("fetch recipients: %w", err)
	}
	to := make([]string, 0, len(users))
	for _, u := range users {
		if u.IsActive {
			to = append(to, u.Email)
		}
	}
	if len(to) == 0 {
		return nil
	}
	return d.mailer.Send(ctx, mail.Message{
		To:          to,
		Subject:     fmt.Sprintf("[MoM] %s", mom.Title),
		Body:        message,
		Attachments: attachments,
	})
}

func (d *Dispatcher) logFailure(ctx context.Context, ev TransitionEvent, err error) {
	attrs := []any{
		"mom_id", ev.MomID,
		"action", ev.Action,
		"to_status", ev.To,
		"transition_committed", true,
		"err", err,
	}
	if ev.RequestID != "" {
		attrs = append(attrs, "request_id", ev.RequestID)
	}
	var depErr *DependencyError
	if errors.As(err, &depErr) {
		attrs = append(attrs, "dependency", depErr.Dependency)
	}
	d.logger.ErrorContext(ctx, "transition_effect_failed", attrs...)
}

// audienceOf resolves the users an audience names on the MoM's project.
func audienceOf(aud workflow.Audience, roles []domain.ProjectUserRole, mom domain.Mom) []uint {
	var ids []uint
	switch aud {
	case workflow.AudienceCreator:
		ids = []uint{mom.CreatorID}
	case workflow.AudienceReviewers:
		ids = usersWithRole(roles, domain.ProjectReviewer)
	case workflow.AudienceApprovers:
		ids = usersWithRole(roles, domain.ProjectApprover)
	case workflow.AudienceMembers:
		for _, r := range roles {
			ids = append(ids, r.UserID)
		}
	}
	return uniqueIDs(ids)
}

func usersWithRole(roles []domain.ProjectUserRole, role domain.ProjectRole) []uint {
	var ids []uint
	for _, r := range roles {
		if r.Role == role {
			ids = append(ids, r.UserID)
		}
	}
	return ids
}

func effectMessage(ev TransitionEvent, mom domain.Mom) string {
	switch ev.To {
	case domain.MomInReview:
		return fmt.Sprintf("MoM %q is ready for review", mom.Title)
	case domain.MomAwaitingApproval:
		return fmt.Sprintf("MoM %q is awaiting approval", mom.Title)
	case domain.MomApproved:
		return fmt.Sprintf("MoM %q was approved", mom.Title)
	case domain.MomNeedsRevision:
		if ev.Comment != "" {
			return fmt.Sprintf("MoM %q needs revision: %s", mom.Title, ev.Comment)
		}
		return fmt.Sprintf("MoM %q needs revision", mom.Title)
	case domain.MomClosed:
		return fmt.Sprintf("MoM %q was closed", mom.Title)
	}
	return fmt.Sprintf("MoM %q is now %s", mom.Title, ev.To)
}
