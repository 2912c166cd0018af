package httpadapter

import (
	"net/http"

	"github.com/kirillkom/docvault/internal/core/domain"
)

func (rt *Router) getReview(w http.ResponseWriter, r *http.Request) {
	review, err := rt.svc.Review.GetReview(r.Context(), userIDFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

func (rt *Router) revalidateCandidate(w http.ResponseWriter, r *http.Request) {
	var in domain.RevalidateInput
	if err := decodeJSON(r, &in, false); err != nil {
		writeError(w, r, err)
		return
	}
	in.QueueID = r.PathValue("id")
	candidate, err := rt.svc.Review.Revalidate(r.Context(), userIDFromContext(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, candidate)
}

type resolveRequest struct {
	Candidate  domain.CandidateEntity `json:"entidade"`
	EntityID   string                 `json:"entidade_id"`
	Resolution domain.Resolution      `json:"resolucao"`
	Fields     domain.FieldChoices    `json:"campos"`
}

// resolveConflict settles a conflito candidate against one of its matches.
// Nothing is stored; the result is submitted later with the approval.
func (rt *Router) resolveConflict(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := rt.svc.Review.GetReview(r.Context(), userIDFromContext(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	candidate := req.Candidate
	if err := candidate.Resolve(req.Resolution, req.EntityID, req.Fields); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, candidate)
}

func (rt *Router) approveQueueItem(w http.ResponseWriter, r *http.Request) {
	var in domain.ApproveInput
	if err := decodeJSON(r, &in, false); err != nil {
		writeError(w, r, err)
		return
	}
	in.QueueID = r.PathValue("id")

	session := rt.svc.Sessions.Load(r.Context(), userIDFromContext(r.Context()))
	if in.FolderID == "" && session.LastFolderID != nil {
		in.FolderID = *session.LastFolderID
	}
	doc, err := rt.svc.Review.Approve(r.Context(), session, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rt.opts.Metrics != nil {
		rt.opts.Metrics.RecordDecision("approved")
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (rt *Router) rejectQueueItem(w http.ResponseWriter, r *http.Request) {
	if err := rt.svc.Review.Reject(r.Context(), userIDFromContext(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	if rt.opts.Metrics != nil {
		rt.opts.Metrics.RecordDecision("rejected")
	}
	w.WriteHeader(http.StatusNoContent)
}
