package handlers

import (
	"net/http"
)

func (s *Server) CreateFamily(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	family, err := s.Families.CreateFamily(r.Context(), userID(r), req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, family)
}

func (s *Server) JoinFamily(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InviteCode string `json:"invite_code" validate:"required"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	family, err := s.Families.JoinFamily(r.Context(), userID(r), req.InviteCode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, family)
}

func (s *Server) GetCurrentFamily(w http.ResponseWriter, r *http.Request) {
	family, err := s.Families.GetFamily(r.Context(), familyID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, family)
}
