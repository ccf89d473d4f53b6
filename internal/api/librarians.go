package api

import (
	"net/http"
	"strings"

	"github.com/eflynch/usufruit/pkg/apperr"
	"github.com/eflynch/usufruit/pkg/core"
)

func (s *Server) handleListLibrarians(w http.ResponseWriter, r *http.Request) {
	params, err := listParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.svc.ListLibrarians(r.Context(), actor(r), r.PathValue("libraryId"), params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := librarianListResponse{
		Librarians: make([]librarianResponse, len(page.Librarians)),
		Pagination: page.Pagination,
	}
	for i, l := range page.Librarians {
		out.Librarians[i] = librarianToResponse(l)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateLibrarian(w http.ResponseWriter, r *http.Request) {
	var in core.CreateLibrarianInput
	if err := s.decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	l, err := s.svc.CreateLibrarian(r.Context(), actor(r), r.PathValue("libraryId"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, librarianToResponse(l))
}

func (s *Server) handleGetLibrarian(w http.ResponseWriter, r *http.Request) {
	l, err := s.svc.GetLibrarian(r.Context(), actor(r), r.PathValue("libraryId"), r.PathValue("librarianId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, librarianToResponse(l))
}

// handleUpdateLibrarian applies a super status change and a details change
// as one operation.
func (s *Server) handleUpdateLibrarian(w http.ResponseWriter, r *http.Request) {
	var req core.UpdateLibrarianInput
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.IsSuper == nil && req.Name == nil && req.ContactInfo == nil {
		s.writeError(w, r, apperr.Validation("nothing to update"))
		return
	}

	updated, err := s.svc.UpdateLibrarian(r.Context(), actor(r), r.PathValue("libraryId"), r.PathValue("librarianId"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, librarianToResponse(updated))
}

// handleDeleteLibrarian reads the disposition from the query string or a
// JSON body.
func (s *Server) handleDeleteLibrarian(w http.ResponseWriter, r *http.Request) {
	var in core.DeleteLibrarianInput
	if err := s.decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if v := strings.TrimSpace(r.URL.Query().Get("reassignBooksTo")); v != "" {
		in.ReassignBooksTo = v
	}
	cascade, err := queryBool(r, "deleteBooksAndLoans")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in.DeleteBooksAndLoans = in.DeleteBooksAndLoans || cascade

	res, err := s.svc.DeleteLibrarian(r.Context(), actor(r), r.PathValue("libraryId"), r.PathValue("librarianId"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteLibrarianResponse{
		Deleted:         true,
		BooksReassigned: res.BooksReassigned,
		LoansReassigned: res.LoansReassigned,
		BooksDeleted:    res.BooksDeleted,
		LoansDeleted:    res.LoansDeleted,
	})
}
