package api

import (
	"net/http"

	"github.com/eflynch/usufruit/pkg/core"
)

// handleListBooks lists books by title, or runs a hybrid search when the
// search parameter is set.
func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	params, err := listParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.ListBooks(r.Context(), actor(r), r.PathValue("libraryId"), params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.searchResultToResponse(res))
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var in core.CreateBookInput
	if err := s.decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.svc.CreateBook(r.Context(), actor(r), r.PathValue("libraryId"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.bookToResponse(b))
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.GetBook(r.Context(), actor(r), r.PathValue("libraryId"), r.PathValue("bookId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.bookToResponse(b))
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	var in core.UpdateBookInput
	if err := s.decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.svc.UpdateBook(r.Context(), actor(r), r.PathValue("libraryId"), r.PathValue("bookId"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.bookToResponse(b))
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteBook(r.Context(), actor(r), r.PathValue("libraryId"), r.PathValue("bookId")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
