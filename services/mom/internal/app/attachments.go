package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"momflow/internal/util"
	"momflow/pkg/domain"
	"momflow/pkg/storage"
)

const attachmentLinkExpiry = 15 * time.Minute

// AttachmentUpload describes an uploaded file.
type AttachmentUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadAttachment stores a file on a MoM. Any project member may attach
// files until the MoM is closed.
func (a *App) UploadAttachment(ctx context.Context, actor domain.User, momID uint, up AttachmentUpload) (domain.Attachment, error) {
	mom, _, err := a.loadVisibleMom(ctx, actor, momID)
	if err != nil {
		return domain.Attachment{}, err
	}
	if mom.Status == domain.MomClosed {
		return domain.Attachment{}, fmt.Errorf("%w: MoM is closed", ErrForbidden)
	}
	if up.Size <= 0 {
		return domain.Attachment{}, fmt.Errorf("%w: empty attachment", ErrValidation)
	}
	if up.Size > a.maxUpload {
		return domain.Attachment{}, ErrAttachmentTooLarge
	}
	filename := storage.SafeFilename(up.Filename)
	contentType := strings.TrimSpace(up.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := util.NewObjectKey(filename, "moms", strconv.FormatUint(uint64(momID), 10), "attachments")
	if err := a.objects.Put(ctx, key, io.LimitReader(up.Body, up.Size), up.Size, contentType); err != nil {
		return domain.Attachment{}, dependencyError("object storage", err)
	}
	att, err := a.store.CreateAttachment(ctx, domain.Attachment{
		MomID:       momID,
		UploaderID:  actor.ID,
		Filename:    filename,
		StorageKey:  key,
		ContentType: contentType,
		SizeBytes:   up.Size,
	})
	if err != nil {
		if delErr := a.objects.Delete(ctx, key); delErr != nil {
			a.logger.WarnContext(ctx, "attachment_cleanup_failed", "key", key, "err", delErr)
		}
		return domain.Attachment{}, fmt.Errorf("save attachment: %w", classify(err))
	}
	return att, nil
}

// ListAttachments lists files attached to a MoM.
func (a *App) ListAttachments(ctx context.Context, actor domain.User, momID uint) ([]domain.Attachment, error) {
	if _, _, err := a.loadVisibleMom(ctx, actor, momID); err != nil {
		return nil, err
	}
	return a.store.ListAttachments(ctx, momID)
}

// OpenAttachment returns the attachment metadata and its content. The caller
// closes the reader.
func (a *App) OpenAttachment(ctx context.Context, actor domain.User, momID, attachmentID uint) (domain.Attachment, io.ReadCloser, error) {
	att, err := a.visibleAttachment(ctx, actor, momID, attachmentID)
	if err != nil {
		return domain.Attachment{}, nil, err
	}
	rc, err := a.objects.Get(ctx, att.StorageKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return domain.Attachment{}, nil, fmt.Errorf("%w: attachment content", ErrNotFound)
	}
	if err != nil {
		return domain.Attachment{}, nil, dependencyError("object storage", err)
	}
	return att, rc, nil
}

// AttachmentLink returns a short-lived direct download URL when the object
// store can presign one. ok is false otherwise.
func (a *App) AttachmentLink(ctx context.Context, actor domain.User, momID, attachmentID uint) (string, bool, error) {
	presigner, ok := a.objects.(storage.Presigner)
	if !ok {
		return "", false, nil
	}
	att, err := a.visibleAttachment(ctx, actor, momID, attachmentID)
	if err != nil {
		return "", false, err
	}
	url, err := presigner.PresignGet(ctx, att.StorageKey, att.Filename, attachmentLinkExpiry)
	if err != nil {
		return "", false, dependencyError("object storage", err)
	}
	return url, true, nil
}

func (a *App) visibleAttachment(ctx context.Context, actor domain.User, momID, attachmentID uint) (domain.Attachment, error) {
	if _, _, err := a.loadVisibleMom(ctx, actor, momID); err != nil {
		return domain.Attachment{}, err
	}
	att, ok, err := a.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("fetch attachment: %w", err)
	}
	if !ok || att.MomID != momID {
		return domain.Attachment{}, fmt.Errorf("%w: attachment", ErrNotFound)
	}
	return att, nil
}
