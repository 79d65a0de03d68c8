package fileservice

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/schwartzmorn/kodiproxy-go/internal/apperror"
)

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	path, name := splitIdentity(chi.URLParam(r, "*"))

	rev, err := s.repo.Get(r.Context(), path, name, true)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	writeRevisionHeaders(w, rev.Version, rev.Timestamp)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rev.Content)
}

func (s *Service) handleHead(w http.ResponseWriter, r *http.Request) {
	path, name := splitIdentity(chi.URLParam(r, "*"))

	rev, err := s.repo.Get(r.Context(), path, name, false)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	writeRevisionHeaders(w, rev.Version, rev.Timestamp)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	w.WriteHeader(http.StatusOK)
}

func (s *Service) handlePut(w http.ResponseWriter, r *http.Request) {
	path, name := splitIdentity(chi.URLParam(r, "*"))

	expected, err := parseETag(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, s.logger, apperror.Wrap(apperror.KindInvalidRequest, err, "reading request body"))
		return
	}

	_ = parseLastModified(r) // informational only, per spec §4.5

	rev, err := s.repo.Save(r.Context(), path, name, body, expected, clientAddress(r), s.now())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	s.publish(path, name, rev.Version)

	writeRevisionHeaders(w, rev.Version, rev.Timestamp)
	w.WriteHeader(http.StatusCreated)
}

func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
	path, name := splitIdentity(chi.URLParam(r, "*"))

	expected, err := requireETag(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	rev, err := s.repo.Delete(r.Context(), path, name, expected, clientAddress(r), s.now())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	s.publish(path, name, rev.Version)

	writeRevisionHeaders(w, rev.Version, rev.Timestamp)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleMove(w http.ResponseWriter, r *http.Request) {
	pathFrom, nameFrom := splitIdentity(chi.URLParam(r, "*"))

	destHeader := r.Header.Get("Destination")
	pathTo, nameTo, ok := parseDestination(destHeader)
	if !ok {
		writeError(w, s.logger, apperror.New(apperror.KindInvalidRequest, "missing or malformed destination header"))
		return
	}

	expected, err := requireETag(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	rev, err := s.repo.MoveTo(r.Context(), pathFrom, nameFrom, expected, pathTo, nameTo, clientAddress(r), s.now())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	s.publish(pathFrom, nameFrom, expected+1)
	s.publish(pathTo, nameTo, rev.Version)

	writeRevisionHeaders(w, rev.Version, rev.Timestamp)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleFileVersions(w http.ResponseWriter, r *http.Request) {
	path, name := splitIdentity(chi.URLParam(r, "*"))

	log, err := s.repo.GetHistory(r.Context(), path, name)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	data, err := log.MarshalJSON()
	if err != nil {
		writeError(w, s.logger, apperror.HandlerErrorf(http.StatusInternalServerError, "encoding history: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
