package api

import (
	"net/http"

	"github.com/eflynch/usufruit/pkg/bearer"
	"github.com/eflynch/usufruit/pkg/core"
)

type loginRequest struct {
	SecretKey string `json:"secretKey"`
}

// handleAuth resolves a secret key to its librarian and library.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	s.login(w, r, "")
}

// handleLibraryLogin additionally requires membership of the path library.
func (s *Server) handleLibraryLogin(w http.ResponseWriter, r *http.Request) {
	s.login(w, r, r.PathValue("libraryId"))
}

func (s *Server) login(w http.ResponseWriter, r *http.Request, libraryID string) {
	var req loginRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.svc.Login(r.Context(), core.LoginRequest{
		SecretKey: req.SecretKey,
		LibraryID: libraryID,
		IP:        bearer.ClientIP(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Librarian: librarianToResponse(sess.Librarian),
		Library:   libraryToResponse(sess.Library),
	})
}

func (s *Server) handleListLibraries(w http.ResponseWriter, r *http.Request) {
	libs, err := s.svc.ListLibraries(r.Context(), actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]libraryResponse, len(libs))
	for i, l := range libs {
		out[i] = libraryToResponse(l)
	}
	writeJSON(w, http.StatusOK, map[string]any{"libraries": out})
}

func (s *Server) handleCreateLibrary(w http.ResponseWriter, r *http.Request) {
	var in core.CreateLibraryInput
	if err := s.decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.svc.CreateLibrary(r.Context(), actor(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := createdLibraryResponse{Library: libraryToResponse(created.Library)}
	if created.FirstLibrarian != nil {
		first := librarianToResponse(created.FirstLibrarian)
		resp.FirstLibrarian = &first
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetLibrary(w http.ResponseWriter, r *http.Request) {
	detail, err := s.svc.GetLibrary(r.Context(), actor(r), r.PathValue("libraryId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, libraryDetailToResponse(detail))
}

func (s *Server) handleUpdateLibrary(w http.ResponseWriter, r *http.Request) {
	var in core.UpdateLibraryInput
	if err := s.decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	lib, err := s.svc.UpdateLibrary(r.Context(), actor(r), r.PathValue("libraryId"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, libraryToResponse(lib))
}
