package web

import (
	"fmt"
	"net/http"

	"flowdistributor/internal/app"

	"github.com/go-chi/chi/v5"
)

type lineBody struct {
	Product     string `json:"product"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	UnitCost    string `json:"unit_cost"`
	UnitFreight string `json:"unit_freight"`
}

func parseLines(lines []lineBody) ([]app.LineInput, error) {
	out := make([]app.LineInput, 0, len(lines))
	for i, l := range lines {
		var (
			in  = app.LineInput{Product: l.Product}
			err error
		)
		prefix := fmt.Sprintf("line %d", i+1)
		if in.Quantity, err = parseAmount(prefix+" quantity", l.Quantity); err != nil {
			return nil, err
		}
		if in.UnitPrice, err = parseAmount(prefix+" unit_price", l.UnitPrice); err != nil {
			return nil, err
		}
		if in.UnitCost, err = parseAmount(prefix+" unit_cost", l.UnitCost); err != nil {
			return nil, err
		}
		if in.UnitFreight, err = parseAmount(prefix+" unit_freight", l.UnitFreight); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, err.Error(), "BAD_REQUEST", http.StatusBadRequest)
}

// apiCreateSale handles POST /api/sales.
func (h *Handler) apiCreateSale(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IdempotencyKey string     `json:"idempotency_key"`
		ClientID       string     `json:"client_id"`
		ClientName     string     `json:"client_name"`
		Notes          string     `json:"notes"`
		Lines          []lineBody `json:"lines"`
		InitialPayment string     `json:"initial_payment"`
		PayInFull      bool       `json:"pay_in_full"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.ClientID == "" && body.ClientName == "" {
		writeError(w, r, "client_id or client_name is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	if len(body.Lines) == 0 {
		writeError(w, r, "at least one line is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	lines, err := parseLines(body.Lines)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	initial, err := parseAmount("initial_payment", body.InitialPayment)
	if err != nil {
		badRequest(w, r, err)
		return
	}

	rc, err := h.svc.CreateSale(r.Context(), app.CreateSaleRequest{
		IdempotencyKey: idempotencyKey(r, body.IdempotencyKey),
		ClientID:       body.ClientID,
		ClientName:     body.ClientName,
		Lines:          lines,
		Notes:          body.Notes,
		InitialPayment: initial,
		PayInFull:      body.PayInFull,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeCreated(w, rc)
}

// apiCreatePurchaseOrder handles POST /api/purchase-orders.
func (h *Handler) apiCreatePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IdempotencyKey  string     `json:"idempotency_key"`
		DistributorID   string     `json:"distributor_id"`
		DistributorName string     `json:"distributor_name"`
		Notes           string     `json:"notes"`
		Lines           []lineBody `json:"lines"`
		InitialPayment  string     `json:"initial_payment"`
		SourceBucket    string     `json:"source_bucket"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.DistributorID == "" && body.DistributorName == "" {
		writeError(w, r, "distributor_id or distributor_name is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	if len(body.Lines) == 0 {
		writeError(w, r, "at least one line is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	lines, err := parseLines(body.Lines)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	initial, err := parseAmount("initial_payment", body.InitialPayment)
	if err != nil {
		badRequest(w, r, err)
		return
	}

	rc, err := h.svc.CreatePurchaseOrder(r.Context(), app.CreatePurchaseOrderRequest{
		IdempotencyKey:  idempotencyKey(r, body.IdempotencyKey),
		DistributorID:   body.DistributorID,
		DistributorName: body.DistributorName,
		Lines:           lines,
		Notes:           body.Notes,
		InitialPayment:  initial,
		SourceBucket:    body.SourceBucket,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeCreated(w, rc)
}

type paymentBody struct {
	IdempotencyKey string `json:"idempotency_key"`
	Amount         string `json:"amount"`
	Note           string `json:"note"`
	SourceBucket   string `json:"source_bucket"`
	RecordID       string `json:"record_id"`
}

func (h *Handler) decodePayment(w http.ResponseWriter, r *http.Request) (paymentBody, bool) {
	var body paymentBody
	if !decodeJSON(w, r, &body) {
		return body, false
	}
	if body.Amount == "" {
		writeError(w, r, "amount is required", "BAD_REQUEST", http.StatusBadRequest)
		return body, false
	}
	return body, true
}

// apiPaySale handles POST /api/sales/{id}/payments.
func (h *Handler) apiPaySale(w http.ResponseWriter, r *http.Request) {
	body, ok := h.decodePayment(w, r)
	if !ok {
		return
	}
	amount, err := parseAmount("amount", body.Amount)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	rc, err := h.svc.PaySale(r.Context(), app.PaySaleRequest{
		IdempotencyKey: idempotencyKey(r, body.IdempotencyKey),
		RecordID:       chi.URLParam(r, "id"),
		Amount:         amount,
		Note:           body.Note,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeCreated(w, rc)
}

// apiPayClient handles POST /api/clients/{id}/payments.
func (h *Handler) apiPayClient(w http.ResponseWriter, r *http.Request) {
	body, ok := h.decodePayment(w, r)
	if !ok {
		return
	}
	amount, err := parseAmount("amount", body.Amount)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	rc, err := h.svc.PayClient(r.Context(), app.PayClientRequest{
		IdempotencyKey: idempotencyKey(r, body.IdempotencyKey),
		ClientID:       chi.URLParam(r, "id"),
		Amount:         amount,
		Note:           body.Note,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeCreated(w, rc)
}

// apiPayDistributor handles POST /api/distributors/{id}/payments.
func (h *Handler) apiPayDistributor(w http.ResponseWriter, r *http.Request) {
	body, ok := h.decodePayment(w, r)
	if !ok {
		return
	}
	if body.SourceBucket == "" {
		writeError(w, r, "source_bucket is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	amount, err := parseAmount("amount", body.Amount)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	rc, err := h.svc.PayDistributor(r.Context(), app.PayDistributorRequest{
		IdempotencyKey: idempotencyKey(r, body.IdempotencyKey),
		DistributorID:  chi.URLParam(r, "id"),
		RecordID:       body.RecordID,
		SourceBucket:   body.SourceBucket,
		Amount:         amount,
		Note:           body.Note,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeCreated(w, rc)
}

type movementBody struct {
	IdempotencyKey string `json:"idempotency_key"`
	Bucket         string `json:"bucket"`
	From           string `json:"from"`
	To             string `json:"to"`
	Amount         string `json:"amount"`
	Note           string `json:"note"`
}

func (h *Handler) decodeMovement(w http.ResponseWriter, r *http.Request) (movementBody, bool) {
	var body movementBody
	if !decodeJSON(w, r, &body) {
		return body, false
	}
	if body.Amount == "" {
		writeError(w, r, "amount is required", "BAD_REQUEST", http.StatusBadRequest)
		return body, false
	}
	return body, true
}

// apiExpense handles POST /api/expenses.
func (h *Handler) apiExpense(w http.ResponseWriter, r *http.Request) {
	body, ok := h.decodeMovement(w, r)
	if !ok {
		return
	}
	amount, err := parseAmount("amount", body.Amount)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	rc, err := h.svc.RecordExpense(r.Context(), app.ExpenseRequest{
		IdempotencyKey: idempotencyKey(r, body.IdempotencyKey),
		BucketID:       body.Bucket,
		Amount:         amount,
		Note:           body.Note,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeCreated(w, rc)
}

// apiIncome handles POST /api/incomes.
func (h *Handler) apiIncome(w http.ResponseWriter, r *http.Request) {
	body, ok := h.decodeMovement(w, r)
	if !ok {
		return
	}
	amount, err := parseAmount("amount", body.Amount)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	rc, err := h.svc.RecordIncome(r.Context(), app.IncomeRequest{
		IdempotencyKey: idempotencyKey(r, body.IdempotencyKey),
		BucketID:       body.Bucket,
		Amount:         amount,
		Note:           body.Note,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeCreated(w, rc)
}

// apiTransfer handles POST /api/transfers.
func (h *Handler) apiTransfer(w http.ResponseWriter, r *http.Request) {
	body, ok := h.decodeMovement(w, r)
	if !ok {
		return
	}
	amount, err := parseAmount("amount", body.Amount)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	rc, err := h.svc.RecordTransfer(r.Context(), app.TransferRequest{
		IdempotencyKey: idempotencyKey(r, body.IdempotencyKey),
		From:           body.From,
		To:             body.To,
		Amount:         amount,
		Note:           body.Note,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeCreated(w, rc)
}
