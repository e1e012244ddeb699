package controllers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/iota-uz/field-registry/modules/importing/domain/aggregates/importpackage"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/conflict"
	"github.com/iota-uz/field-registry/modules/importing/domain/entities/stagingrecord"
	"github.com/iota-uz/field-registry/modules/importing/infrastructure/reportxlsx"
	"github.com/iota-uz/field-registry/modules/importing/presentation/controllers/dtos"
	"github.com/iota-uz/field-registry/modules/importing/presentation/mappers"
	"github.com/iota-uz/field-registry/modules/importing/services"
	"github.com/iota-uz/field-registry/pkg/application"
	"github.com/iota-uz/field-registry/pkg/composables"
	"github.com/iota-uz/field-registry/pkg/httpapi"
	"github.com/iota-uz/field-registry/pkg/middleware"
	"github.com/iota-uz/field-registry/pkg/repo"
)

const uploadFormField = "package"

type ImportAPIController struct {
	packages       *services.PackageService
	conflicts      *services.ConflictService
	maxUploadBytes int64
	basePath       string
}

func NewImportAPIController(app application.Application, maxUploadBytes int64) application.Controller {
	return &ImportAPIController{
		packages:       app.Service(services.PackageService{}).(*services.PackageService),
		conflicts:      app.Service(services.ConflictService{}).(*services.ConflictService),
		maxUploadBytes: maxUploadBytes,
		basePath:       "/import/api",
	}
}

func (c *ImportAPIController) Key() string {
	return c.basePath
}

func (c *ImportAPIController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	read := middleware.WithReadTransaction()

	router.Handle("/packages", read(http.HandlerFunc(c.ListPackages))).Methods(http.MethodGet)
	router.HandleFunc("/packages", c.Upload).Methods(http.MethodPost)
	router.Handle("/packages/{id}", read(http.HandlerFunc(c.GetPackage))).Methods(http.MethodGet)
	router.Handle("/packages/{id}/staging-summary", read(http.HandlerFunc(c.GetStagingSummary))).Methods(http.MethodGet)
	router.Handle("/packages/{id}/records", read(http.HandlerFunc(c.ListRecords))).Methods(http.MethodGet)
	router.Handle("/packages/{id}/commit-report", read(http.HandlerFunc(c.GetCommitReport))).Methods(http.MethodGet)
	router.HandleFunc("/packages/{id}/stage", c.Stage).Methods(http.MethodPost)
	router.HandleFunc("/packages/{id}/validate", c.Validate).Methods(http.MethodPost)
	router.HandleFunc("/packages/{id}/detect-duplicates", c.DetectDuplicates).Methods(http.MethodPost)
	router.HandleFunc("/packages/{id}/approve", c.Approve).Methods(http.MethodPost)
	router.HandleFunc("/packages/{id}/commit", c.Commit).Methods(http.MethodPost)
	router.HandleFunc("/packages/{id}/cancel", c.Cancel).Methods(http.MethodPost)
	router.HandleFunc("/packages/{id}/quarantine", c.Quarantine).Methods(http.MethodPost)
	router.HandleFunc("/packages/{id}/reset", c.Reset).Methods(http.MethodPost)

	router.Handle("/conflicts", read(http.HandlerFunc(c.ListConflicts))).Methods(http.MethodGet)
	router.Handle("/conflicts/summary", read(http.HandlerFunc(c.ConflictSummary))).Methods(http.MethodGet)
	router.Handle("/conflicts/{id}", read(http.HandlerFunc(c.GetConflict))).Methods(http.MethodGet)
	router.HandleFunc("/conflicts/{id}/assign", c.AssignConflict).Methods(http.MethodPost)
	router.HandleFunc("/conflicts/{id}/review-attempts", c.RecordReviewAttempt).Methods(http.MethodPost)
	router.HandleFunc("/conflicts/{id}/notes", c.AddReviewNote).Methods(http.MethodPost)
	router.HandleFunc("/conflicts/{id}/escalate", c.EscalateConflict).Methods(http.MethodPost)
	router.HandleFunc("/conflicts/{id}/resolve", c.ResolveConflict).Methods(http.MethodPost)
}

func (c *ImportAPIController) actor(w http.ResponseWriter, r *http.Request) (services.Actor, bool) {
	id, err := composables.UseActorID(r.Context())
	if err != nil {
		writeAPIError(w, r, http.StatusUnauthorized, services.CodeUnauthenticated, "missing user id")
		return services.Actor{}, false
	}
	return services.Actor{UserID: id}, true
}

// target resolves the acting user and the {id} path variable.
func (c *ImportAPIController) target(w http.ResponseWriter, r *http.Request) (services.Actor, uuid.UUID, bool) {
	actor, ok := c.actor(w, r)
	if !ok {
		return actor, uuid.Nil, false
	}
	id, ok := pathUUID(r, "id")
	if !ok {
		writeAPIError(w, r, http.StatusBadRequest, services.CodeInvalidRequest, "invalid id")
		return actor, uuid.Nil, false
	}
	return actor, id, true
}

func (c *ImportAPIController) writePackage(w http.ResponseWriter, status int, pkg importpackage.ImportPackage) {
	writeJSON(w, status, mappers.PackageToDTO(pkg))
}

// readUpload returns the package bytes from a multipart "package" field or
// the raw request body. Reads stop one byte past the limit so the service
// can reject oversized packages.
func (c *ImportAPIController) readUpload(r *http.Request) ([]byte, error) {
	limit := c.maxUploadBytes + 1
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return io.ReadAll(io.LimitReader(r.Body, limit))
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, httpapi.ErrEmptyBody
			}
			return nil, err
		}
		if part.FormName() != uploadFormField {
			_ = part.Close()
			continue
		}
		defer part.Close()
		return io.ReadAll(io.LimitReader(part, limit))
	}
}

func (c *ImportAPIController) Upload(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	raw, err := c.readUpload(r)
	if err != nil {
		writeAPIError(w, r, http.StatusBadRequest, services.CodeInvalidRequest, "cannot read package: "+err.Error())
		return
	}
	if len(raw) == 0 {
		writeAPIError(w, r, http.StatusBadRequest, services.CodeInvalidRequest, "package body is empty")
		return
	}
	pkg, err := c.packages.Upload(r.Context(), actor, raw)
	if err != nil {
		writeServiceError(w, r, "upload package", err)
		return
	}
	c.writePackage(w, http.StatusCreated, pkg)
}

func (c *ImportAPIController) Stage(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := c.target(w, r)
	if !ok {
		return
	}
	pkg, err := c.packages.Stage(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, r, "stage package", err)
		return
	}
	c.writePackage(w, http.StatusOK, pkg)
}

func (c *ImportAPIController) ListPackages(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.actor(w, r); !ok {
		return
	}
	q, err := composables.UseQuery(&dtos.PackageListQuery{}, r)
	if err != nil {
		writeAPIError(w, r, http.StatusBadRequest, services.CodeInvalidRequest, "invalid query parameters")
		return
	}
	limit, offset := pageOf(q.Page, q.PageSize)
	params := &importpackage.FindParams{
		Statuses: q.Statuses(),
		DeviceID: strings.TrimSpace(q.DeviceID),
		SortBy:   strings.TrimSpace(q.Sort),
		SortDesc: repo.ParseSortDirection(q.Order) == repo.SortDesc,
		Limit:    limit,
		Offset:   offset,
	}
	if raw := strings.TrimSpace(q.UploadedBy); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeAPIError(w, r, http.StatusBadRequest, services.CodeInvalidRequest, "invalid uploaded_by")
			return
		}
		params.UploadedBy = &id
	}
	if params.From, err = parseDay(q.From, false); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, services.CodeInvalidRequest, "invalid from date")
		return
	}
	if params.To, err = parseDay(q.To, true); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, services.CodeInvalidRequest, "invalid to date")
		return
	}

	items, total, err := c.packages.ListPackages(r.Context(), params)
	if err != nil {
		writeServiceError(w, r, "list packages", err)
		return
	}
	out := make([]mappers.PackageDTO, 0, len(items))
	for _, p := range items {
		out = append(out, mappers.PackageToDTO(p))
	}
	writeJSON(w, http.StatusOK, httpapi.ListEnvelope[mappers.PackageDTO]{Items: out, Total: total})
}

func (c *ImportAPIController) GetPackage(w http.ResponseWriter, r *http.Request) {
	_, id, ok := c.target(w, r)
	if !ok {
		return
	}
	pkg, err := c.packages.GetPackage(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, "get package", err)
		return
	}
	c.writePackage(w, http.StatusOK, pkg)
}

func (c *ImportAPIController) GetStagingSummary(w http.ResponseWriter, r *http.Request) {
	_, id, ok := c.target(w, r)
	if !ok {
		return
	}
	summary, err := c.packages.GetStagingSummary(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, "staging summary", err)
		return
	}
	writeJSON(w, http.StatusOK, mappers.StagingSummaryToDTO(summary))
}

func (c *ImportAPIController) ListRecords(w http.ResponseWriter, r *http.Request) {
	_, id, ok := c.target(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, offset := pageParams(r)
	params := &stagingrecord.FindParams{
		PackageID:  id,
		EntityType: stagingrecord.EntityType(strings.TrimSpace(q.Get("entity_type"))),
		Outcome:    stagingrecord.Outcome(strings.TrimSpace(q.Get("outcome"))),
		Limit:      limit,
		Offset:     offset,
	}
	approved, err := queryBool(r, "approved")
	if err != nil {
		writeAPIError(w, r, http.StatusBadRequest, services.CodeInvalidRequest, "invalid approved flag")
		return
	}
	params.Approved = approved
	if v := strings.TrimSpace(q.Get("commit_status")); v != "" {
		status := stagingrecord.CommitStatus(v)
		params.CommitStatus = &status
	}
	items, total, err := c.packages.ListStagingRecords(r.Context(), params)
	if err != nil {
		writeServiceError(w, r, "list staging records", err)
		return
	}
	out := make([]mappers.StagingRecordDTO, 0, len(items))
	for _, rec := range items {
		out = append(out, mappers.StagingRecordToDTO(rec))
	}
	writeJSON(w, http.StatusOK, httpapi.ListEnvelope[mappers.StagingRecordDTO]{Items: out, Total: total})
}

func (c *ImportAPIController) Validate(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := c.target(w, r)
	if !ok {
		return
	}
	pkg, err := c.packages.Validate(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, r, "validate package", err)
		return
	}
	c.writePackage(w, http.StatusOK, pkg)
}

func (c *ImportAPIController) DetectDuplicates(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := c.target(w, r)
	if !ok {
		return
	}
	res, err := c.packages.DetectDuplicates(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, r, "detect duplicates", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"package":           mappers.PackageToDTO(res.Package),
		"conflicts_created": res.ConflictsCreated,
		"auto_resolved":     res.AutoResolved,
		"pending":           res.Pending,
	})
}

func (c *ImportAPIController) Approve(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := c.target(w, r)
	if !ok {
		return
	}
	var dto dtos.ApproveDTO
	if !decodeBody(w, r, &dto, false) {
		return
	}
	pkg, err := c.packages.ApproveForCommit(r.Context(), actor, id, dto.ToParams())
	if err != nil {
		writeServiceError(w, r, "approve records", err)
		return
	}
	c.writePackage(w, http.StatusOK, pkg)
}

func (c *ImportAPIController) Commit(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := c.target(w, r)
	if !ok {
		return
	}
	var dto dtos.CommitDTO
	if !decodeBody(w, r, &dto, true) {
		return
	}
	report, err := c.packages.Commit(r.Context(), actor, id, services.CommitParams{CleanupStaging: dto.CleanupStaging})
	if err != nil {
		writeServiceError(w, r, "commit package", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (c *ImportAPIController) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := c.target(w, r)
	if !ok {
		return
	}
	var dto dtos.CancelDTO
	if !decodeBody(w, r, &dto, true) {
		return
	}
	pkg, err := c.packages.Cancel(r.Context(), actor, id, dto.Reason, dto.CleanupStaging)
	if err != nil {
		writeServiceError(w, r, "cancel package", err)
		return
	}
	c.writePackage(w, http.StatusOK, pkg)
}

func (c *ImportAPIController) Quarantine(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := c.target(w, r)
	if !ok {
		return
	}
	var dto dtos.QuarantineDTO
	if !decodeBody(w, r, &dto, false) {
		return
	}
	pkg, err := c.packages.Quarantine(r.Context(), actor, id, dto.Reason)
	if err != nil {
		writeServiceError(w, r, "quarantine package", err)
		return
	}
	c.writePackage(w, http.StatusOK, pkg)
}

func (c *ImportAPIController) Reset(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := c.target(w, r)
	if !ok {
		return
	}
	pkg, err := c.packages.ResetFailedCommit(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, r, "reset failed commit", err)
		return
	}
	c.writePackage(w, http.StatusOK, pkg)
}

// GetCommitReport serves JSON, or a workbook when format=xlsx.
func (c *ImportAPIController) GetCommitReport(w http.ResponseWriter, r *http.Request) {
	_, id, ok := c.target(w, r)
	if !ok {
		return
	}
	report, err := c.packages.GetCommitReport(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, "commit report", err)
		return
	}
	if !strings.EqualFold(r.URL.Query().Get("format"), "xlsx") {
		writeJSON(w, http.StatusOK, report)
		return
	}
	w.Header().Set("Content-Type", reportxlsx.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="commit-report-`+report.ExternalID+`.xlsx"`)
	if err := reportxlsx.Write(w, report); err != nil {
		composables.UseLogger(r.Context()).WithError(err).Error("write commit report workbook")
	}
}

func (c *ImportAPIController) conflictParams(w http.ResponseWriter, r *http.Request) (*conflict.FindParams, bool) {
	q := r.URL.Query()
	limit, offset := pageParams(r)
	params := &conflict.FindParams{
		EntityType: strings.TrimSpace(q.Get("entity_type")),
		Type:       conflict.Type(strings.TrimSpace(q.Get("type"))),
		Status:     conflict.Status(strings.TrimSpace(q.Get("status"))),
		Priority:   conflict.Priority(strings.TrimSpace(q.Get("priority"))),
		Page:       offset/limit + 1,
		PageSize:   limit,
		SortBy:     conflict.SortField(strings.TrimSpace(q.Get("sort"))),
		SortDesc:   strings.EqualFold(q.Get("order"), "desc"),
	}
	var err error
	if params.PackageID, err = queryUUID(r, "package_id"); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, services.CodeInvalidRequest, "invalid package_id")
		return nil, false
	}
	if params.AssignedTo, err = queryUUID(r, "assigned_to"); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, services.CodeInvalidRequest, "invalid assigned_to")
		return nil, false
	}
	if params.Escalated, err = queryBool(r, "escalated"); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, services.CodeInvalidRequest, "invalid escalated flag")
		return nil, false
	}
	if params.Overdue, err = queryBool(r, "overdue"); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, services.CodeInvalidRequest, "invalid overdue flag")
		return nil, false
	}
	return params, true
}

func (c *ImportAPIController) ListConflicts(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.actor(w, r); !ok {
		return
	}
	params, ok := c.conflictParams(w, r)
	if !ok {
		return
	}
	items, total, err := c.conflicts.GetConflictQueue(r.Context(), params)
	if err != nil {
		writeServiceError(w, r, "conflict queue", err)
		return
	}
	now := c.conflicts.Now()
	out := make([]mappers.ConflictDTO, 0, len(items))
	for _, item := range items {
		out = append(out, mappers.ConflictToDTO(item, now))
	}
	writeJSON(w, http.StatusOK, httpapi.ListEnvelope[mappers.ConflictDTO]{Items: out, Total: total})
}

func (c *ImportAPIController) ConflictSummary(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.actor(w, r); !ok {
		return
	}
	params, ok := c.conflictParams(w, r)
	if !ok {
		return
	}
	summary, err := c.conflicts.Summary(r.Context(), params)
	if err != nil {
		writeServiceError(w, r, "conflict summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (c *ImportAPIController) writeConflict(w http.ResponseWriter, item *conflict.Conflict) {
	writeJSON(w, http.StatusOK, mappers.ConflictToDTO(item, c.conflicts.Now()))
}

func (c *ImportAPIController) GetConflict(w http.ResponseWriter, r *http.Request) {
	_, id, ok := c.target(w, r)
	if !ok {
		return
	}
	item, err := c.conflicts.GetConflict(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, "get conflict", err)
		return
	}
	c.writeConflict(w, item)
}

func (c *ImportAPIController) AssignConflict(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := c.target(w, r)
	if !ok {
		return
	}
	var dto dtos.AssignDTO
	if !decodeBody(w, r, &dto, false) {
		return
	}
	item, err := c.conflicts.Assign(r.Context(), actor, id, dto.AssigneeID)
	if err != nil {
		writeServiceError(w, r, "assign conflict", err)
		return
	}
	c.writeConflict(w, item)
}

func (c *ImportAPIController) RecordReviewAttempt(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := c.target(w, r)
	if !ok {
		return
	}
	var dto dtos.NoteDTO
	if !decodeBody(w, r, &dto, false) {
		return
	}
	item, err := c.conflicts.RecordReviewAttempt(r.Context(), actor, id, dto.Note)
	if err != nil {
		writeServiceError(w, r, "record review attempt", err)
		return
	}
	c.writeConflict(w, item)
}

func (c *ImportAPIController) AddReviewNote(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := c.target(w, r)
	if !ok {
		return
	}
	var dto dtos.NoteDTO
	if !decodeBody(w, r, &dto, false) {
		return
	}
	item, err := c.conflicts.AddReviewNote(r.Context(), actor, id, dto.Note)
	if err != nil {
		writeServiceError(w, r, "add review note", err)
		return
	}
	c.writeConflict(w, item)
}

func (c *ImportAPIController) EscalateConflict(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := c.target(w, r)
	if !ok {
		return
	}
	var dto dtos.EscalateDTO
	if !decodeBody(w, r, &dto, false) {
		return
	}
	item, err := c.conflicts.Escalate(r.Context(), actor, id, dto.Reason)
	if err != nil {
		writeServiceError(w, r, "escalate conflict", err)
		return
	}
	c.writeConflict(w, item)
}

func (c *ImportAPIController) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := c.target(w, r)
	if !ok {
		return
	}
	var dto dtos.ResolveDTO
	if !decodeBody(w, r, &dto, false) {
		return
	}
	item, err := c.conflicts.Resolve(r.Context(), actor, id, dto.ToParams())
	if err != nil {
		writeServiceError(w, r, "resolve conflict", err)
		return
	}
	c.writeConflict(w, item)
}
