package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dealflow/auth"
	"dealflow/closing"
	"dealflow/document"
	"dealflow/esign"
	"dealflow/offer"
	"dealflow/property"
	"dealflow/transaction"
	"dealflow/underwriting"
)

type stubAuthService struct {
	user     *auth.User
	loginRes auth.LoginResult
	err      error

	verifyUserID string
	verifyRole   auth.Role
	verifyErr    error
}

func (s *stubAuthService) Register(_ context.Context, _ auth.RegisterRequest) (*auth.User, error) {
	return s.user, s.err
}

func (s *stubAuthService) Login(_ context.Context, _ auth.LoginRequest) (auth.LoginResult, error) {
	return s.loginRes, s.err
}

func (s *stubAuthService) GetUserByID(_ context.Context, _ string) (*auth.User, error) {
	return s.user, s.err
}

func (s *stubAuthService) VerifyToken(_ string) (string, auth.Role, error) {
	return s.verifyUserID, s.verifyRole, s.verifyErr
}

type stubPropertyService struct {
	listing property.Listing
	list    property.ListResult
	err     error
}

func (s *stubPropertyService) Create(_ context.Context, _ property.CreateParams) (property.Listing, error) {
	return s.listing, s.err
}

func (s *stubPropertyService) GetByID(_ context.Context, _ string) (property.Listing, error) {
	return s.listing, s.err
}

func (s *stubPropertyService) List(_ context.Context, _ property.Filters) (property.ListResult, error) {
	return s.list, s.err
}

type stubOfferService struct {
	offer      offer.Offer
	offers     []offer.Offer
	respondRes offer.RespondResult
	err        error
}

func (s *stubOfferService) Submit(_ context.Context, _ offer.SubmitParams) (offer.Offer, error) {
	return s.offer, s.err
}

func (s *stubOfferService) GetByID(_ context.Context, _ string) (offer.Offer, error) {
	return s.offer, s.err
}

func (s *stubOfferService) ListForProperty(_ context.Context, _, _ string) ([]offer.Offer, error) {
	return s.offers, s.err
}

func (s *stubOfferService) ListForBuyer(_ context.Context, _ string) ([]offer.Offer, error) {
	return s.offers, s.err
}

func (s *stubOfferService) Respond(_ context.Context, _ offer.RespondParams) (offer.RespondResult, error) {
	return s.respondRes, s.err
}

func (s *stubOfferService) Withdraw(_ context.Context, _, _ string) (offer.Offer, error) {
	return s.offer, s.err
}

type stubTransactionService struct {
	record  transaction.Record
	records []transaction.Record
	detail  transaction.Detail
	result  transaction.PhaseResult
	err     error
}

func (s *stubTransactionService) ListMine(_ context.Context, _ transaction.Actor) ([]transaction.Record, error) {
	return s.records, s.err
}

func (s *stubTransactionService) GetDetail(_ context.Context, _ transaction.Actor, _ string) (transaction.Detail, error) {
	return s.detail, s.err
}

func (s *stubTransactionService) UpdateStatus(_ context.Context, _ transaction.Actor, _ string, _ transaction.UpdateStatusParams) (transaction.Record, error) {
	return s.record, s.err
}

func (s *stubTransactionService) CompleteStep(_ context.Context, _ transaction.Actor, _, _ string) (transaction.PhaseResult, error) {
	return s.result, s.err
}

func (s *stubTransactionService) Cancel(_ context.Context, _ transaction.Actor, _, _ string) (transaction.Record, error) {
	return s.record, s.err
}

func (s *stubTransactionService) RegressPhase(_ context.Context, _ transaction.Actor, _ string, _ transaction.Phase, _ string) (transaction.Record, error) {
	return s.record, s.err
}

type stubEsignService struct {
	req esign.CompletionRequest
	err error
}

func (s *stubEsignService) HandleCompletionWebhook(_ context.Context, req esign.CompletionRequest) error {
	s.req = req
	return s.err
}

func authedServer(svc *Server, userID string, role auth.Role) *Server {
	svc.authService = &stubAuthService{verifyUserID: userID, verifyRole: role}
	return svc
}

func doRequest(t *testing.T, server *Server, method, target, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	server.routes().ServeHTTP(rec, req)
	return rec
}

func TestProtectedRoute_RequiresToken(t *testing.T) {
	server := authedServer(&Server{}, "", auth.RoleBuyer)
	server.authService.(*stubAuthService).verifyErr = errors.New("bad token")

	rec := doRequest(t, server, http.MethodGet, "/api/transactions", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doRequest(t, server, http.MethodGet, "/api/transactions", "", "garbage")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}

	var payload struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if payload.Error.Kind != "unauthorized" {
		t.Fatalf("expected kind unauthorized, got %q", payload.Error.Kind)
	}
}

func TestHandleGetProperty_Success(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	server := &Server{
		propertyService: &stubPropertyService{
			listing: property.Listing{
				ID:           "prop-1",
				SellerID:     "seller-1",
				Address:      "12 Maple Ave",
				Region:       "midwest",
				PropertyType: "single_family",
				ListPrice:    450000,
				MinimumOffer: 400000,
				Status:       property.StatusActive,
				CreatedAt:    now,
			},
		},
	}

	rec := doRequest(t, server, http.MethodGet, "/api/properties/prop-1", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp listingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "prop-1" || resp.ListPrice != 450000 || resp.Status != "active" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
	if resp.CreatedAt != now.Format(time.RFC3339) {
		t.Fatalf("expected createdAt %s, got %s", now.Format(time.RFC3339), resp.CreatedAt)
	}
}

func TestHandleGetProperty_NotFound(t *testing.T) {
	server := &Server{
		propertyService: &stubPropertyService{err: property.ErrNotFound},
	}

	rec := doRequest(t, server, http.MethodGet, "/api/properties/missing", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleRegister_DuplicateEmail(t *testing.T) {
	server := &Server{
		authService: &stubAuthService{err: auth.ErrDuplicateEmail},
	}

	body := `{"email":"dup@example.com","password":"longenough","fullName":"Dup","role":"buyer"}`
	rec := doRequest(t, server, http.MethodPost, "/api/auth/register", body, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleSubmitOffer_BelowMinimum(t *testing.T) {
	server := authedServer(&Server{
		offerService: &stubOfferService{err: offer.ErrBelowMinimum},
	}, "buyer-1", auth.RoleBuyer)

	body := `{"propertyId":"prop-1","offerAmount":100}`
	rec := doRequest(t, server, http.MethodPost, "/api/offers", body, "token")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var payload struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if payload.Error.Kind != "validation" {
		t.Fatalf("expected kind validation, got %q", payload.Error.Kind)
	}
}

func TestHandleRespondOffer_NotSeller(t *testing.T) {
	server := authedServer(&Server{
		offerService: &stubOfferService{err: offer.ErrNotSeller},
	}, "intruder", auth.RoleBuyer)

	rec := doRequest(t, server, http.MethodPost, "/api/offers/offer-1/respond", `{"action":"accept"}`, "token")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleRespondOffer_AcceptReturnsTransaction(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	accepted := offer.Offer{
		ID:          "offer-1",
		PropertyID:  "prop-1",
		BuyerID:     "buyer-1",
		Amount:      425000,
		Status:      offer.StatusAccepted,
		SubmittedAt: now,
	}
	txn := transaction.Record{
		ID:            "txn-1",
		ReferenceCode: "DF-AB12CD34",
		PropertyID:    "prop-1",
		OfferID:       "offer-1",
		BuyerID:       "buyer-1",
		SellerID:      "seller-1",
		Price:         425000,
		Status:        transaction.StatusActive,
		Phase:         transaction.PhasePreContract,
		CreatedAt:     now,
	}
	server := authedServer(&Server{
		offerService: &stubOfferService{
			respondRes: offer.RespondResult{Offer: accepted, Transaction: &txn},
		},
	}, "seller-1", auth.RoleSeller)

	rec := doRequest(t, server, http.MethodPost, "/api/offers/offer-1/respond", `{"action":"accept"}`, "token")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload struct {
		Offer       offerResponse       `json:"offer"`
		Transaction transactionResponse `json:"transaction"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Offer.Status != "accepted" {
		t.Fatalf("expected accepted offer, got %+v", payload.Offer)
	}
	if payload.Transaction.ReferenceCode != "DF-AB12CD34" || payload.Transaction.Phase != "pre_contract" {
		t.Fatalf("unexpected transaction payload: %+v", payload.Transaction)
	}
}

func TestHandleTransactionDetail_Success(t *testing.T) {
	now := time.Now().UTC()
	server := authedServer(&Server{
		transactionService: &stubTransactionService{
			detail: transaction.Detail{
				Record: transaction.Record{
					ID:         "txn-1",
					PropertyID: "prop-1",
					BuyerID:    "buyer-1",
					SellerID:   "seller-1",
					Status:     transaction.StatusActive,
					Phase:      transaction.PhaseFinancing,
					Progress:   27,
					CreatedAt:  now,
				},
				Tasks: []transaction.TaskValue{
					{Name: transaction.TaskEarnestMoney, Title: "Deposit earnest money", Ordinal: 1, Status: transaction.TaskCompleted},
				},
				Summary: transaction.Summary{Completed: 3, Total: 11, Percentage: 27},
			},
		},
	}, "buyer-1", auth.RoleBuyer)

	rec := doRequest(t, server, http.MethodGet, "/api/transactions/txn-1", "", "token")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload transactionDetailResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Transaction.ID != "txn-1" || payload.Transaction.Phase != "financing" {
		t.Fatalf("unexpected transaction: %+v", payload.Transaction)
	}
	if len(payload.Tasks) != 1 || payload.Tasks[0].Status != "completed" {
		t.Fatalf("unexpected tasks: %+v", payload.Tasks)
	}
	if payload.Summary.Percentage != 27 {
		t.Fatalf("unexpected summary: %+v", payload.Summary)
	}
}

func TestHandleTransactionDetail_Forbidden(t *testing.T) {
	server := authedServer(&Server{
		transactionService: &stubTransactionService{err: transaction.ErrForbidden},
	}, "stranger", auth.RoleBuyer)

	rec := doRequest(t, server, http.MethodGet, "/api/transactions/txn-1", "", "token")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleUpdateTransaction_Terminal(t *testing.T) {
	server := authedServer(&Server{
		transactionService: &stubTransactionService{err: transaction.ErrTerminal},
	}, "buyer-1", auth.RoleBuyer)

	rec := doRequest(t, server, http.MethodPatch, "/api/transactions/txn-1", `{"status":"active"}`, "token")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var payload struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if payload.Error.Kind != "invalid_state" {
		t.Fatalf("expected kind invalid_state, got %q", payload.Error.Kind)
	}
}

func TestHandleCompleteTask_UnknownTask(t *testing.T) {
	server := authedServer(&Server{
		transactionService: &stubTransactionService{err: transaction.ErrUnknownTask},
	}, "buyer-1", auth.RoleBuyer)

	rec := doRequest(t, server, http.MethodPost, "/api/transactions/txn-1/tasks/bogus/complete", "", "token")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleEsignWebhook_Success(t *testing.T) {
	stub := &stubEsignService{}
	server := &Server{esignService: stub}

	body := `{"transactionId":"txn-1","envelopeId":"env-1","envelopeKind":"purchase_agreement","eventId":"evt-1"}`
	rec := doRequest(t, server, http.MethodPost, "/api/webhooks/esign", body, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if stub.req.TransactionID != "txn-1" || stub.req.IdempotencyKey != "evt-1" {
		t.Fatalf("webhook fields not forwarded: %+v", stub.req)
	}
	if stub.req.EnvelopeKind != esign.EnvelopePurchaseAgreement {
		t.Fatalf("unexpected envelope kind %q", stub.req.EnvelopeKind)
	}
}

func TestHandleEsignWebhook_UnknownKind(t *testing.T) {
	server := &Server{
		esignService: &stubEsignService{err: esign.ErrUnknownEnvelopeKind},
	}

	body := `{"transactionId":"txn-1","envelopeId":"env-1","envelopeKind":"lease","eventId":"evt-1"}`
	rec := doRequest(t, server, http.MethodPost, "/api/webhooks/esign", body, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleSubmitOffer_MissingPropertyID(t *testing.T) {
	server := authedServer(&Server{
		offerService: &stubOfferService{err: fmt.Errorf("%w: property id required", offer.ErrValidation)},
	}, "buyer-1", auth.RoleBuyer)

	rec := doRequest(t, server, http.MethodPost, "/api/offers", `{"offerAmount":100000}`, "token")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var payload struct {
		Error struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if payload.Error.Kind != "validation" {
		t.Fatalf("expected kind validation, got %q", payload.Error.Kind)
	}
	if !strings.Contains(payload.Error.Message, "property id required") {
		t.Fatalf("expected message to carry the field, got %q", payload.Error.Message)
	}
}

func TestWriteServiceError_ValidationSentinels(t *testing.T) {
	wrapped := []error{
		fmt.Errorf("%w: property id required", offer.ErrValidation),
		fmt.Errorf("%w: address required", property.ErrValidation),
		fmt.Errorf("%w: unknown phase %q", transaction.ErrValidation, "escrow"),
		fmt.Errorf("%w: document name required", underwriting.ErrValidation),
		fmt.Errorf("%w: invalid filename", closing.ErrValidation),
		fmt.Errorf("%w: creator id required", document.ErrValidation),
		fmt.Errorf("%w: missing idempotency key", esign.ErrValidation),
		fmt.Errorf("%w: email and full_name are required", auth.ErrValidation),
	}

	for _, err := range wrapped {
		rec := httptest.NewRecorder()
		writeServiceError(rec, err)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%v: expected 400, got %d", err, rec.Code)
		}

		var payload struct {
			Error struct {
				Kind    string `json:"kind"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if derr := json.Unmarshal(rec.Body.Bytes(), &payload); derr != nil {
			t.Fatalf("decode error envelope: %v", derr)
		}
		if payload.Error.Kind != "validation" {
			t.Errorf("%v: expected kind validation, got %q", err, payload.Error.Kind)
		}
		if payload.Error.Message != err.Error() {
			t.Errorf("%v: message not surfaced, got %q", err, payload.Error.Message)
		}
	}
}

func TestWriteServiceError_UnexpectedIs500(t *testing.T) {
	server := authedServer(&Server{
		transactionService: &stubTransactionService{err: errors.New("boom")},
	}, "buyer-1", auth.RoleBuyer)

	rec := doRequest(t, server, http.MethodGet, "/api/transactions", "", "token")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	if strings.Contains(rec.Body.String(), "boom") {
		t.Fatalf("internal error details must not leak: %s", rec.Body.String())
	}
}
