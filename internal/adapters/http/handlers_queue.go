package httpadapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/oapi-codegen/runtime"

	"github.com/kirillkom/docvault/internal/core/domain"
)

// multipartMemory is how much of an upload is buffered before spilling to disk.
const multipartMemory = 8 << 20

func (rt *Router) uploadQueueItem(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.opts.UploadMaxBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error:     fmt.Sprintf("file exceeds %d bytes", tooLarge.Limit),
				RequestID: requestIDFromContext(r.Context()),
			})
			return
		}
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "parse upload", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "parse upload", errors.New("multipart field 'file' is required")))
		return
	}
	defer file.Close()

	userID := userIDFromContext(r.Context())
	session := rt.svc.Sessions.Load(r.Context(), userID)
	item, err := rt.svc.Ingestor.Upload(r.Context(), session, domain.UploadInput{
		Filename: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Body:     file,
		FolderID: r.FormValue("pasta_id"),
		FileDate: r.FormValue("file_date"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rt.opts.Metrics != nil {
		rt.opts.Metrics.RecordUpload(item.IsDuplicate)
	}
	writeJSON(w, http.StatusAccepted, item)
}

func (rt *Router) listQueue(w http.ResponseWriter, r *http.Request) {
	var raw []string
	if err := runtime.BindQueryParameter("form", true, false, "status", r.URL.Query(), &raw); err != nil {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "bind status filter", err))
		return
	}
	filter := domain.QueueFilter{UserID: userIDFromContext(r.Context())}
	for _, s := range raw {
		status := domain.QueueStatus(s)
		if !status.Valid() {
			writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "bind status filter", fmt.Errorf("unknown status %q", s)))
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	items, err := rt.svc.Queue.ListQueue(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (rt *Router) getQueueItem(w http.ResponseWriter, r *http.Request) {
	item, err := rt.svc.Queue.GetQueueItem(r.Context(), userIDFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (rt *Router) cancelQueueItem(w http.ResponseWriter, r *http.Request) {
	if err := rt.svc.Queue.Cancel(r.Context(), userIDFromContext(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// processQueueItem runs the stage inline. A client disconnect does not abort
// a claimed row; only the processing timeout does.
func (rt *Router) processQueueItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Manual bool `json:"manual"`
	}
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}
	queueID := r.PathValue("id")
	if _, err := rt.svc.Queue.GetQueueItem(r.Context(), userIDFromContext(r.Context()), queueID); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), rt.opts.ProcessTimeout)
	defer cancel()
	result, err := rt.svc.Processor.ProcessByID(ctx, queueID, domain.ProcessOptions{Manual: req.Manual})
	if err != nil {
		if rt.opts.Metrics != nil {
			rt.opts.Metrics.RecordLLMError(err)
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) healthSweep(w http.ResponseWriter, r *http.Request) {
	result, err := rt.svc.Sweeper.Sweep(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
