package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"momflow/pkg/domain"
	"momflow/pkg/storage"
	"momflow/pkg/workflow"
	"momflow/services/mom/internal/app"
)

type projectRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
}

type roleRequest struct {
	UserID uint   `json:"userId"`
	Role   string `json:"role"`
}

type momRequest struct {
	Title          string                 `json:"title"`
	Place          string                 `json:"place"`
	CompletionDate string                 `json:"completionDate"`
	Discussion     []domain.ChecklistItem `json:"discussion"`
	OpenIssues     []domain.ChecklistItem `json:"openIssues"`
	Updates        []domain.ChecklistItem `json:"updates"`
	Notes          []domain.ChecklistItem `json:"notes"`
	ReferenceMomID *uint                  `json:"referenceMomId"`
	ProjectID      uint                   `json:"projectId"`
}

type transitionRequest struct {
	Comments string `json:"comments"`
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		page, ok := parsePage(w, r)
		if !ok {
			return
		}
		projects, total, err := s.app.ListProjects(r.Context(), user, page)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeList(w, projects, page, total)
	case http.MethodPost:
		var req projectRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		var title, description string
		if req.Title != nil {
			title = *req.Title
		}
		if req.Description != nil {
			description = *req.Description
		}
		project, err := s.app.CreateProject(r.Context(), user, title, description)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, project)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleProjectByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	parts := pathSegments(r, "/projects/")
	if len(parts) == 0 {
		http.NotFound(w, r)
		return
	}
	id, ok := parseID(parts[0])
	if !ok {
		http.NotFound(w, r)
		return
	}
	switch {
	case len(parts) == 1:
		s.handleProject(w, r, user, id)
	case parts[1] == "roles" && len(parts) == 2:
		s.handleProjectRoles(w, r, user, id)
	case parts[1] == "roles" && len(parts) == 4:
		userID, ok := parseID(parts[2])
		if !ok {
			http.NotFound(w, r)
			return
		}
		s.handleProjectRoleRemoval(w, r, user, id, userID, parts[3])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request, user domain.User, id uint) {
	switch r.Method {
	case http.MethodGet:
		detail, err := s.app.GetProject(r.Context(), user, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	case http.MethodPatch:
		var req projectRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		upd := app.ProjectUpdate{Title: req.Title, Description: req.Description}
		if req.Status != nil {
			status := domain.ProjectStatus(strings.ToUpper(strings.TrimSpace(*req.Status)))
			if status != domain.ProjectOpen && status != domain.ProjectClosed {
				writeError(w, http.StatusBadRequest, "status must be OPEN or CLOSED")
				return
			}
			upd.Status = &status
		}
		project, err := s.app.UpdateProject(r.Context(), user, id, upd)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, project)
	case http.MethodDelete:
		if err := s.app.DeleteProject(r.Context(), user, id); err != nil {
			writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleProjectRoles(w http.ResponseWriter, r *http.Request, user domain.User, projectID uint) {
	switch r.Method {
	case http.MethodGet:
		roles, err := s.app.ListProjectRoles(r.Context(), user, projectID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		if roles == nil {
			roles = []domain.ProjectUserRole{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": roles, "count": len(roles)})
	case http.MethodPost:
		var req roleRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		role := domain.ProjectRole(strings.ToUpper(strings.TrimSpace(req.Role)))
		if req.UserID == 0 || !role.Valid() {
			writeError(w, http.StatusBadRequest, "userId and a valid role are required")
			return
		}
		roles, err := s.app.AssignProjectRole(r.Context(), user, projectID, req.UserID, role)
		if err != nil {
			s.audit(r, "mom.project.role.assign", "fail", "user_id", user.ID, "project_id", projectID, "reason", err.Error())
			writeAppError(w, r, err)
			return
		}
		s.audit(r, "mom.project.role.assign", "success", "user_id", user.ID, "project_id", projectID, "target_id", req.UserID, "role", role)
		writeJSON(w, http.StatusOK, map[string]any{"items": roles, "count": len(roles)})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleProjectRoleRemoval(w http.ResponseWriter, r *http.Request, user domain.User, projectID, userID uint, rawRole string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	role := domain.ProjectRole(strings.ToUpper(rawRole))
	if !role.Valid() {
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}
	if err := s.app.RemoveProjectRole(r.Context(), user, projectID, userID, role); err != nil {
		s.audit(r, "mom.project.role.remove", "fail", "user_id", user.ID, "project_id", projectID, "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "mom.project.role.remove", "success", "user_id", user.ID, "project_id", projectID, "target_id", userID, "role", role)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMoms(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		page, ok := parsePage(w, r)
		if !ok {
			return
		}
		filter := app.MomListFilter{Status: domain.MomStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))}
		if raw := strings.TrimSpace(r.URL.Query().Get("projectId")); raw != "" {
			projectID, ok := parseID(raw)
			if !ok {
				writeError(w, http.StatusBadRequest, "projectId must be a positive integer")
				return
			}
			filter.ProjectID = projectID
		}
		moms, total, err := s.app.ListMoms(r.Context(), user, filter, page)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeList(w, moms, page, total)
	case http.MethodPost:
		var req momRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.ProjectID == 0 {
			writeError(w, http.StatusBadRequest, "projectId is required")
			return
		}
		in, err := req.input()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		mom, err := s.app.CreateMom(r.Context(), user, req.ProjectID, in)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, mom)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleMomByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	parts := pathSegments(r, "/mom/")
	if len(parts) == 0 {
		http.NotFound(w, r)
		return
	}
	id, ok := parseID(parts[0])
	if !ok {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 1 {
		s.handleMom(w, r, user, id)
		return
	}
	switch parts[1] {
	case "history":
		if len(parts) != 2 {
			http.NotFound(w, r)
			return
		}
		s.handleMomHistory(w, r, user, id)
	case "pdf":
		if len(parts) != 2 {
			http.NotFound(w, r)
			return
		}
		s.handleMomPDF(w, r, user, id)
	case "attachments":
		switch len(parts) {
		case 2:
			s.handleAttachments(w, r, user, id)
		case 3:
			attachmentID, ok := parseID(parts[2])
			if !ok {
				http.NotFound(w, r)
				return
			}
			s.handleAttachmentDownload(w, r, user, id, attachmentID)
		default:
			http.NotFound(w, r)
		}
	default:
		action, ok := workflow.ParseAction(parts[1])
		if !ok || len(parts) != 2 {
			http.NotFound(w, r)
			return
		}
		s.handleTransition(w, r, user, id, action)
	}
}

func (s *Server) handleMom(w http.ResponseWriter, r *http.Request, user domain.User, id uint) {
	switch r.Method {
	case http.MethodGet:
		view, err := s.app.GetMom(r.Context(), user, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodPatch:
		var req momRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		in, err := req.input()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		view, err := s.app.UpdateMom(r.Context(), user, id, in)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodDelete:
		if err := s.app.DeleteMom(r.Context(), user, id); err != nil {
			writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, user domain.User, id uint, action workflow.Action) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req transitionRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	view, err := s.app.Transition(r.Context(), user, id, action, req.Comments)
	if err != nil {
		s.audit(r, "mom.transition", "fail", "user_id", user.ID, "mom_id", id, "action", action, "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "mom.transition", "success", "user_id", user.ID, "mom_id", id, "action", action, "status", view.Status)
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleMomHistory(w http.ResponseWriter, r *http.Request, user domain.User, id uint) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	history, err := s.app.MomHistory(r.Context(), user, id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if history == nil {
		history = []domain.MomHistory{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": history, "count": len(history)})
}

func (s *Server) handleMomPDF(w http.ResponseWriter, r *http.Request, user domain.User, id uint) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	data, filename, err := s.app.ExportPDF(r.Context(), user, id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", storage.AttachmentDisposition(filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleAttachments(w http.ResponseWriter, r *http.Request, user domain.User, momID uint) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.app.ListAttachments(r.Context(), user, momID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		if items == nil {
			items = []domain.Attachment{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
	case http.MethodPost:
		s.handleUploadAttachment(w, r, user, momID)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUploadAttachment(w http.ResponseWriter, r *http.Request, user domain.User, momID uint) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "attachment too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	if header.Size > s.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "attachment too large")
		return
	}
	att, err := s.app.UploadAttachment(r.Context(), user, momID, app.AttachmentUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, att)
}

// handleAttachmentDownload redirects to a presigned URL when the object store
// supports it and streams the content otherwise.
func (s *Server) handleAttachmentDownload(w http.ResponseWriter, r *http.Request, user domain.User, momID, attachmentID uint) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	url, ok, err := s.app.AttachmentLink(r.Context(), user, momID, attachmentID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if ok {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}
	att, rc, err := s.app.OpenAttachment(r.Context(), user, momID, attachmentID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", att.ContentType)
	w.Header().Set("Content-Disposition", storage.AttachmentDisposition(att.Filename))
	w.Header().Set("Content-Length", strconv.FormatInt(att.SizeBytes, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.audit(r, "mom.attachment.download", "fail", "user_id", user.ID, "attachment_id", attachmentID, "reason", err.Error())
	}
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	page, ok := parsePage(w, r)
	if !ok {
		return
	}
	items, total, err := s.app.ListNotifications(r.Context(), user, page)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeList(w, items, page, total)
}

func (s *Server) handleNotificationByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	parts := pathSegments(r, "/notifications/")
	if len(parts) != 2 || parts[1] != "read" {
		http.NotFound(w, r)
		return
	}
	id, ok := parseID(parts[0])
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.MarkNotificationRead(r.Context(), user, id); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (req momRequest) input() (app.MomInput, error) {
	in := app.MomInput{
		Title:          req.Title,
		Place:          req.Place,
		Discussion:     req.Discussion,
		OpenIssues:     req.OpenIssues,
		Updates:        req.Updates,
		Notes:          req.Notes,
		ReferenceMomID: req.ReferenceMomID,
	}
	if raw := strings.TrimSpace(req.CompletionDate); raw != "" {
		date, err := parseDate(raw)
		if err != nil {
			return app.MomInput{}, err
		}
		in.CompletionDate = &date
	}
	return in, nil
}

// parseDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, errors.New("completionDate must be YYYY-MM-DD or RFC 3339")
	}
	return t, nil
}
