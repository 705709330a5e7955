package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/datalift/partstream/internal/api"
	"github.com/datalift/partstream/internal/coordinator"
	"github.com/datalift/partstream/internal/xferr"
)

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.coord.Init(r.Context(), callerIdentity(r), &coordinator.InitRequest{
		Filename:     q.Get("filename"),
		ContentType:  q.Get("contentType"),
		ObjectPrefix: q.Get("objectPrefix"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.InitResponse{
		SessionID:   res.SessionID,
		Bucket:      res.Bucket,
		Key:         res.Key,
		UploadID:    res.UploadID,
		PartSize:    res.PartSize,
		Concurrency: res.Concurrency,
	})
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session"]
	res, err := s.coord.AuthorizeParts(r.Context(), callerIdentity(r), sessionID, r.URL.Query().Get("parts"))
	if err != nil {
		writeError(w, err)
		return
	}
	parts := make([]api.SignedPart, 0, len(res.Parts))
	for _, p := range res.Parts {
		parts = append(parts, api.SignedPart{PartNumber: p.Number, URL: p.URL, Method: p.Method})
	}
	writeJSON(w, http.StatusOK, api.SignResponse{
		SessionID: res.SessionID,
		UploadID:  res.UploadID,
		Parts:     parts,
	})
}

func (s *Server) handleListParts(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session"]
	listed, err := s.coord.ListParts(r.Context(), callerIdentity(r), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	parts := make([]api.ListedPart, 0, len(listed))
	for _, p := range listed {
		parts = append(parts, api.ListedPart{PartNumber: p.Number, ETag: p.ETag, Size: p.Size})
	}
	writeJSON(w, http.StatusOK, api.ListPartsResponse{SessionID: sessionID, Parts: parts})
}

func (s *Server) handleUploadPart(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionID := vars["session"]
	partNumber, err := strconv.Atoi(vars["number"])
	if err != nil {
		writeError(w, xferr.New(xferr.KindInvalidInput, "bad part number %q", vars["number"]))
		return
	}
	totalParts, err := strconv.Atoi(r.URL.Query().Get("totalParts"))
	if err != nil {
		writeError(w, xferr.New(xferr.KindInvalidInput, "totalParts query parameter required"))
		return
	}

	res, err := s.coord.UploadPartDirect(r.Context(), callerIdentity(r), sessionID, partNumber, totalParts, r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.PartsRecorded.Inc()
	if r.ContentLength > 0 {
		s.metrics.ProxiedBytes.Add(float64(r.ContentLength))
	}
	writeJSON(w, http.StatusOK, api.UploadPartResponse{
		PartNumber:    res.Number,
		ETag:          res.ETag,
		RecordedParts: res.RecordedParts,
		TotalParts:    res.TotalParts,
	})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session"]

	var req api.CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xferr.Wrap(xferr.KindInvalidInput, err, "bad complete body"))
		return
	}
	parts := make([]coordinator.PartEntry, 0, len(req.Parts))
	for _, p := range req.Parts {
		parts = append(parts, coordinator.PartEntry{Number: p.PartNumber, ETag: p.ETag})
	}

	res, err := s.coord.Complete(r.Context(), callerIdentity(r), sessionID, parts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.CompleteResponse{Bucket: res.Bucket, Key: res.Key, URL: res.URL})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session"]
	if err := s.coord.Abort(r.Context(), callerIdentity(r), sessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.AbortResponse{OK: true})
}

func writeError(w http.ResponseWriter, err error) {
	kind := xferr.KindOf(err)
	writeJSON(w, kind.HTTPStatus(), errorBody(kind.String(), err.Error()))
}

func errorBody(code, message string) api.ErrorResponse {
	return api.ErrorResponse{Code: code, Message: message}
}
