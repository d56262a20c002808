package handlers

import (
	"net/http"

	"family-shopping/backend/internal/models"
	"family-shopping/backend/internal/shopping"
	"family-shopping/backend/internal/websocket"

	"github.com/shopspring/decimal"
)

// itemRequest is the body of add and update. Quantity defaults to 1 when omitted.
type itemRequest struct {
	Name     string              `json:"name"`
	Quantity *decimal.Decimal    `json:"quantity"`
	Unit     models.MeasureUnit  `json:"unit"`
	Price    decimal.NullDecimal `json:"price"`
	ImageURL *string             `json:"image_url"`
}

func (req itemRequest) input() shopping.ItemInput {
	in := shopping.ItemInput{
		Name:     req.Name,
		Quantity: decimal.NewFromInt(1),
		Unit:     req.Unit,
		Price:    req.Price,
		ImageURL: req.ImageURL,
	}
	if req.Quantity != nil {
		in.Quantity = *req.Quantity
	}
	return in
}

func (s *Server) GetCurrentList(w http.ResponseWriter, r *http.Request) {
	list, err := s.Shopping.GetCurrentList(r.Context(), familyID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) UpdateListName(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name *string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.Shopping.UpdateListName(r.Context(), familyID(r), req.Name); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) AddItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	item, err := s.Shopping.AddItem(r.Context(), familyID(r), req.input())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	item, err := s.Shopping.UpdateItem(r.Context(), familyID(r), r.PathValue("id"), req.input())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := s.Shopping.DeleteItem(r.Context(), familyID(r), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ToggleItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.Shopping.ToggleItemChecked(r.Context(), familyID(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) FinishShopping(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       *string          `json:"name"`
		TotalValue *decimal.Decimal `json:"total_value"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	record, err := s.Shopping.FinishShopping(r.Context(), familyID(r), shopping.FinishOptions{
		Name:       req.Name,
		TotalValue: req.TotalValue,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.Hub != nil {
		s.Hub.Notify(record.FamilyID, websocket.TypeShoppingFinished, record)
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.Shopping.GetHistory(r.Context(), familyID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) CloneHistoryList(w http.ResponseWriter, r *http.Request) {
	list, err := s.Shopping.CloneHistoryList(r.Context(), familyID(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	summary, err := s.Analytics.Summary(r.Context(), familyID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ListUnits serves the measure units a client can offer, in display order.
func (s *Server) ListUnits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.Units())
}

func (s *Server) ServeWs(w http.ResponseWriter, r *http.Request) {
	s.Hub.ServeWs(w, r, familyID(r))
}
