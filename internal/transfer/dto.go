package transfer

import (
	"github.com/odyssey-erp/stocksync/internal/catalog"
	"github.com/odyssey-erp/stocksync/internal/shared"
)

type commitRequest struct {
	Token       string              `json:"token" validate:"omitempty,max=128"`
	Origin      string              `json:"origin" validate:"required,max=64"`
	Destination string              `json:"destination" validate:"required,max=64"`
	Lines       []catalog.ScanInput `json:"lines" validate:"required,min=1,dive"`
	Note        string              `json:"note" validate:"max=500"`
}

type draftRequest struct {
	Origin      string              `json:"origin" validate:"required,max=64"`
	Destination string              `json:"destination" validate:"required,max=64"`
	Lines       []catalog.ScanInput `json:"lines" validate:"dive"`
	Note        string              `json:"note" validate:"max=500"`
}

type linesRequest struct {
	Lines []catalog.ScanInput `json:"lines" validate:"dive"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type adjustRequest struct {
	Key      string         `json:"key" validate:"omitempty,max=128"`
	Location string         `json:"location" validate:"required,max=64"`
	Deltas   map[string]int `json:"deltas" validate:"required,min=1"`
	Negate   bool           `json:"negate"`
	Reason   string         `json:"reason" validate:"omitempty,max=64"`
}

type listResponse struct {
	Transfers  []Transfer        `json:"transfers"`
	Pagination shared.Pagination `json:"pagination"`
}

type insufficientDetails struct {
	Insufficient any `json:"insufficient"`
}
