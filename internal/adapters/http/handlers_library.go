package httpadapter

import (
	"fmt"
	"net/http"

	"github.com/kirillkom/docvault/internal/core/domain"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := rt.svc.Documents.ListDocuments(r.Context(), userIDFromContext(r.Context()), r.URL.Query().Get("pasta_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": docs})
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.svc.Documents.GetDocument(r.Context(), userIDFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := rt.svc.Documents.DeleteDocument(r.Context(), userIDFromContext(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) unlinkEntity(w http.ResponseWriter, r *http.Request) {
	err := rt.svc.Documents.UnlinkEntity(r.Context(), userIDFromContext(r.Context()), r.PathValue("id"), r.PathValue("entityID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) listEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := rt.svc.Entities.ListEntities(r.Context(), userIDFromContext(r.Context()), r.URL.Query().Get("tipo_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entities})
}

func (rt *Router) updateEntity(w http.ResponseWriter, r *http.Request) {
	var in domain.EntityUpdate
	if err := decodeJSON(r, &in, false); err != nil {
		writeError(w, r, err)
		return
	}
	in.EntityID = r.PathValue("id")
	entity, err := rt.svc.Entities.UpdateEntity(r.Context(), userIDFromContext(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

func (rt *Router) listEntityTypes(w http.ResponseWriter, r *http.Request) {
	types, err := rt.svc.Entities.ListEntityTypes(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": types})
}

func (rt *Router) listFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := rt.svc.Folders.ListFolders(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": folders})
}

func (rt *Router) createFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"nome"`
	}
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	session := rt.svc.Sessions.Load(r.Context(), userIDFromContext(r.Context()))
	folder, err := rt.svc.Folders.CreateFolder(r.Context(), session, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, folder)
}

func (rt *Router) analyzeFolder(w http.ResponseWriter, r *http.Request) {
	analysis, err := rt.svc.Folders.AnalyzeFolder(r.Context(), userIDFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		if rt.opts.Metrics != nil {
			rt.opts.Metrics.RecordLLMError(err)
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (rt *Router) renderFolderAnalysis(w http.ResponseWriter, r *http.Request) {
	page, err := rt.svc.Folders.RenderAnalysisHTML(r.Context(), userIDFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
}

func (rt *Router) exportFolder(w http.ResponseWriter, r *http.Request) {
	folderID := r.PathValue("id")
	workbook, err := rt.svc.Folders.ExportFolder(r.Context(), userIDFromContext(r.Context()), folderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="pasta-%s.xlsx"`, folderID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(workbook)
}

func (rt *Router) getSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.svc.Sessions.Load(r.Context(), userIDFromContext(r.Context())))
}

func (rt *Router) setLastFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FolderID string `json:"pasta_id"`
	}
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if err := rt.svc.Sessions.StoreLastFolder(r.Context(), userIDFromContext(r.Context()), req.FolderID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
