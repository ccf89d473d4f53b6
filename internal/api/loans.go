package api

import (
	"net/http"

	"github.com/eflynch/usufruit/pkg/apperr"
	"github.com/eflynch/usufruit/pkg/core"
)

func (s *Server) handleLoanHistory(w http.ResponseWriter, r *http.Request) {
	loans, err := s.svc.LoanHistory(r.Context(), actor(r), r.PathValue("libraryId"), r.PathValue("bookId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loans": s.loansToResponse(loans)})
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var in core.BorrowInput
	if err := s.decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	loan, err := s.svc.BorrowBook(r.Context(), actor(r), r.PathValue("libraryId"), r.PathValue("bookId"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.loanToResponse(loan))
}

type loanActionRequest struct {
	Action string `json:"action"`
	LoanID string `json:"loanId"`
}

// handleLoanAction applies an action to one of the book's loans. "return"
// is the only action.
func (s *Server) handleLoanAction(w http.ResponseWriter, r *http.Request) {
	var req loanActionRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Action != "return" {
		s.writeError(w, r, apperr.Validation("action must be \"return\""))
		return
	}
	loan, err := s.svc.ReturnLoan(r.Context(), actor(r), r.PathValue("libraryId"), r.PathValue("bookId"), req.LoanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.loanToResponse(loan))
}

func (s *Server) handleListLoans(w http.ResponseWriter, r *http.Request) {
	active, err := queryBool(r, "active")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loans, err := s.svc.ListLoans(r.Context(), actor(r), r.PathValue("libraryId"), core.LoanFilter{
		ActiveOnly:  active,
		LibrarianID: r.URL.Query().Get("librarianId"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loans": s.loansToResponse(loans)})
}
