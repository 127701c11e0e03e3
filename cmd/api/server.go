package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"dealflow/auth"
	"dealflow/closing"
	"dealflow/document"
	"dealflow/esign"
	"dealflow/offer"
	"dealflow/property"
	"dealflow/transaction"
	"dealflow/underwriting"
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	GetUserByID(ctx context.Context, userID string) (*auth.User, error)
	VerifyToken(token string) (string, auth.Role, error)
}

type propertyService interface {
	Create(ctx context.Context, params property.CreateParams) (property.Listing, error)
	GetByID(ctx context.Context, id string) (property.Listing, error)
	List(ctx context.Context, filters property.Filters) (property.ListResult, error)
}

type offerService interface {
	Submit(ctx context.Context, params offer.SubmitParams) (offer.Offer, error)
	GetByID(ctx context.Context, id string) (offer.Offer, error)
	ListForProperty(ctx context.Context, actorID, propertyID string) ([]offer.Offer, error)
	ListForBuyer(ctx context.Context, buyerID string) ([]offer.Offer, error)
	Respond(ctx context.Context, params offer.RespondParams) (offer.RespondResult, error)
	Withdraw(ctx context.Context, offerID, actorID string) (offer.Offer, error)
}

type transactionService interface {
	ListMine(ctx context.Context, actor transaction.Actor) ([]transaction.Record, error)
	GetDetail(ctx context.Context, actor transaction.Actor, id string) (transaction.Detail, error)
	UpdateStatus(ctx context.Context, actor transaction.Actor, id string, params transaction.UpdateStatusParams) (transaction.Record, error)
	CompleteStep(ctx context.Context, actor transaction.Actor, id, taskName string) (transaction.PhaseResult, error)
	Cancel(ctx context.Context, actor transaction.Actor, id, reason string) (transaction.Record, error)
	RegressPhase(ctx context.Context, actor transaction.Actor, id string, target transaction.Phase, reason string) (transaction.Record, error)
}

type underwritingService interface {
	SubmitApplication(ctx context.Context, transactionID, actorID string) (underwriting.StatusRecord, error)
	GetStatus(ctx context.Context, transactionID string) (underwriting.StatusRecord, error)
	ListConditions(ctx context.Context, transactionID string) ([]underwriting.Condition, error)
	AddCondition(ctx context.Context, transactionID, actorID string, params underwriting.ConditionParams) (underwriting.Condition, underwriting.StatusRecord, error)
	SubmitDocuments(ctx context.Context, transactionID, actorID string, docs []underwriting.DocumentInput) (underwriting.EvaluationResult, error)
	EvaluateClearToClose(ctx context.Context, transactionID, actorID string) (underwriting.EvaluationResult, error)
}

type esignService interface {
	HandleCompletionWebhook(ctx context.Context, req esign.CompletionRequest) error
}

type closingService interface {
	GetDisclosure(ctx context.Context, transactionID string) (closing.DisclosurePacket, error)
	UploadDocument(ctx context.Context, transactionID, actorID, filename string, content io.Reader) (closing.Disclosure, error)
	FlagDiscrepancy(ctx context.Context, transactionID, actorID string, params closing.DiscrepancyParams) (closing.Fee, error)
	Acknowledge(ctx context.Context, transactionID, actorID string) (closing.Disclosure, error)
	UpdateFunding(ctx context.Context, transactionID, actorID string, params closing.FundingParams) (closing.Disbursement, error)
	InitiateRecording(ctx context.Context, transactionID, actorID, countyReference string) (closing.RecordingLog, error)
	CompleteRecording(ctx context.Context, transactionID, actorID string) (closing.RecordingLog, error)
	UpdateWalkThrough(ctx context.Context, transactionID, actorID string, params closing.WalkThroughParams) (closing.WalkThrough, error)
	UpdateMoving(ctx context.Context, transactionID, actorID string, params closing.MovingParams) (closing.MovingPreparation, error)
}

type loiService interface {
	Create(ctx context.Context, params document.CreateParams) (document.LOI, error)
	Get(ctx context.Context, id string) (document.LOI, error)
	ListForProperty(ctx context.Context, propertyID string) ([]document.LOI, error)
	MarkViewed(ctx context.Context, id string) (document.LOI, error)
	MarkSigned(ctx context.Context, id string, signer document.Signer) (document.LOI, error)
}

// Server wires the HTTP surface to the domain services.
type Server struct {
	authService         authService
	propertyService     propertyService
	offerService        offerService
	transactionService  transactionService
	underwritingService underwritingService
	esignService        esignService
	closingService      closingService
	loiService          loiService
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/api/auth/register", s.handleRegister)
	r.Post("/api/auth/login", s.handleLogin)
	r.Post("/api/webhooks/esign", s.handleEsignWebhook)
	r.Get("/api/properties", s.handleListProperties)
	r.Get("/api/properties/{propertyID}", s.handleGetProperty)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth(s.authService))

		r.Get("/api/auth/me", s.handleMe)

		r.Post("/api/properties", s.handleCreateProperty)
		r.Get("/api/properties/{propertyID}/offers", s.handlePropertyOffers)
		r.Get("/api/properties/{propertyID}/lois", s.handlePropertyLOIs)

		r.Post("/api/offers", s.handleSubmitOffer)
		r.Get("/api/offers", s.handleMyOffers)
		r.Get("/api/offers/{offerID}", s.handleGetOffer)
		r.Post("/api/offers/{offerID}/respond", s.handleRespondOffer)
		r.Post("/api/offers/{offerID}/withdraw", s.handleWithdrawOffer)

		r.Get("/api/transactions", s.handleMyTransactions)
		r.Get("/api/transactions/{transactionID}", s.handleTransactionDetail)
		r.Patch("/api/transactions/{transactionID}", s.handleUpdateTransaction)
		r.Post("/api/transactions/{transactionID}/cancel", s.handleCancelTransaction)
		r.Post("/api/transactions/{transactionID}/regress", s.handleRegressTransaction)
		r.Post("/api/transactions/{transactionID}/tasks/{taskName}/complete", s.handleCompleteTask)

		r.Post("/api/transactions/{transactionID}/underwriting", s.handleSubmitApplication)
		r.Get("/api/transactions/{transactionID}/underwriting", s.handleUnderwritingStatus)
		r.Post("/api/transactions/{transactionID}/underwriting/conditions", s.handleAddCondition)
		r.Post("/api/transactions/{transactionID}/underwriting/documents", s.handleSubmitDocuments)
		r.Post("/api/transactions/{transactionID}/underwriting/evaluate", s.handleEvaluateClearToClose)

		r.Get("/api/transactions/{transactionID}/disclosure", s.handleGetDisclosure)
		r.Post("/api/transactions/{transactionID}/disclosure/document", s.handleUploadDisclosure)
		r.Post("/api/transactions/{transactionID}/disclosure/discrepancies", s.handleFlagDiscrepancy)
		r.Post("/api/transactions/{transactionID}/disclosure/acknowledge", s.handleAcknowledgeDisclosure)
		r.Patch("/api/transactions/{transactionID}/funding", s.handleUpdateFunding)
		r.Post("/api/transactions/{transactionID}/recording", s.handleInitiateRecording)
		r.Post("/api/transactions/{transactionID}/recording/complete", s.handleCompleteRecording)
		r.Patch("/api/transactions/{transactionID}/walkthrough", s.handleUpdateWalkThrough)
		r.Patch("/api/transactions/{transactionID}/moving", s.handleUpdateMoving)

		r.Post("/api/lois", s.handleCreateLOI)
		r.Get("/api/lois/{loiID}", s.handleGetLOI)
		r.Post("/api/lois/{loiID}/viewed", s.handleMarkLOIViewed)
		r.Post("/api/lois/{loiID}/sign", s.handleSignLOI)
	})

	return r
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}

	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}

	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user":  toUserResponse(result.User),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := actorFrom(r)
	user, err := s.authService.GetUserByID(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(*user))
}

func (s *Server) handleCreateProperty(w http.ResponseWriter, r *http.Request) {
	userID, _ := actorFrom(r)

	var req struct {
		Address      string `json:"address"`
		Region       string `json:"region"`
		PropertyType string `json:"propertyType"`
		ListPrice    int64  `json:"listPrice"`
		MinimumOffer int64  `json:"minimumOffer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}

	listing, err := s.propertyService.Create(r.Context(), property.CreateParams{
		SellerID:     userID,
		Address:      req.Address,
		Region:       req.Region,
		PropertyType: req.PropertyType,
		ListPrice:    req.ListPrice,
		MinimumOffer: req.MinimumOffer,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toListingResponse(listing))
}

func (s *Server) handleListProperties(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := property.Filters{
		Region:       q.Get("region"),
		PropertyType: q.Get("propertyType"),
		Status:       property.Status(q.Get("status")),
		SortKey:      q.Get("sort"),
		SortOrder:    q.Get("order"),
	}
	filters.PriceMin, _ = strconv.ParseInt(q.Get("priceMin"), 10, 64)
	filters.PriceMax, _ = strconv.ParseInt(q.Get("priceMax"), 10, 64)
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PageSize, _ = strconv.Atoi(q.Get("pageSize"))

	result, err := s.propertyService.List(r.Context(), filters)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items := make([]listingResponse, 0, len(result.Items))
	for _, l := range result.Items {
		items = append(items, toListingResponse(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": result.Total})
}

func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	listing, err := s.propertyService.GetByID(r.Context(), chi.URLParam(r, "propertyID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingResponse(listing))
}

func (s *Server) handlePropertyOffers(w http.ResponseWriter, r *http.Request) {
	userID, _ := actorFrom(r)
	offers, err := s.offerService.ListForProperty(r.Context(), userID, chi.URLParam(r, "propertyID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	items := make([]offerResponse, 0, len(offers))
	for _, o := range offers {
		items = append(items, toOfferResponse(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handlePropertyLOIs(w http.ResponseWriter, r *http.Request) {
	docs, err := s.loiService.ListForProperty(r.Context(), chi.URLParam(r, "propertyID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	items := make([]loiResponse, 0, len(docs))
	for _, doc := range docs {
		items = append(items, toLOIResponse(doc))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleSubmitOffer(w http.ResponseWriter, r *http.Request) {
	userID, _ := actorFrom(r)

	var req struct {
		PropertyID    string   `json:"propertyId"`
		Amount        int64    `json:"offerAmount"`
		EarnestMoney  int64    `json:"earnestMoney"`
		FinancingType string   `json:"financingType"`
		Contingencies []string `json:"contingencies"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}

	o, err := s.offerService.Submit(r.Context(), offer.SubmitParams{
		PropertyID:    req.PropertyID,
		BuyerID:       userID,
		Amount:        req.Amount,
		EarnestMoney:  req.EarnestMoney,
		FinancingType: req.FinancingType,
		Contingencies: req.Contingencies,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOfferResponse(o))
}

func (s *Server) handleMyOffers(w http.ResponseWriter, r *http.Request) {
	userID, _ := actorFrom(r)
	offers, err := s.offerService.ListForBuyer(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	items := make([]offerResponse, 0, len(offers))
	for _, o := range offers {
		items = append(items, toOfferResponse(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	o, err := s.offerService.GetByID(r.Context(), chi.URLParam(r, "offerID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferResponse(o))
}

func (s *Server) handleRespondOffer(w http.ResponseWriter, r *http.Request) {
	userID, _ := actorFrom(r)

	var req struct {
		Action         string  `json:"action"`
		CounterAmount  *int64  `json:"counterAmount"`
		SellerResponse *string `json:"sellerResponse"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}

	result, err := s.offerService.Respond(r.Context(), offer.RespondParams{
		OfferID:        chi.URLParam(r, "offerID"),
		ActorID:        userID,
		Action:         offer.Action(req.Action),
		CounterAmount:  req.CounterAmount,
		SellerResponse: req.SellerResponse,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	payload := map[string]any{"offer": toOfferResponse(result.Offer)}
	if result.Transaction != nil {
		payload["transaction"] = toTransactionResponse(*result.Transaction)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleWithdrawOffer(w http.ResponseWriter, r *http.Request) {
	userID, _ := actorFrom(r)
	o, err := s.offerService.Withdraw(r.Context(), chi.URLParam(r, "offerID"), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferResponse(o))
}

func (s *Server) transactionActor(r *http.Request) transaction.Actor {
	userID, role := actorFrom(r)
	return transaction.Actor{UserID: userID, Role: role}
}

func (s *Server) handleMyTransactions(w http.ResponseWriter, r *http.Request) {
	records, err := s.transactionService.ListMine(r.Context(), s.transactionActor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	items := make([]transactionResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, toTransactionResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleTransactionDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.transactionService.GetDetail(r.Context(), s.transactionActor(r), chi.URLParam(r, "transactionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDetailResponse(detail))
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status      *string `json:"status"`
		Phase       *string `json:"phase"`
		ClosingDate *string `json:"closingDate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}

	var params transaction.UpdateStatusParams
	if req.Status != nil {
		status := transaction.Status(*req.Status)
		params.Status = &status
	}
	if req.Phase != nil {
		phase := transaction.Phase(*req.Phase)
		params.Phase = &phase
	}
	if req.ClosingDate != nil {
		closingDate, err := time.Parse(time.RFC3339, *req.ClosingDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation", "closingDate must be RFC 3339")
			return
		}
		params.ClosingDate = &closingDate
	}

	rec, err := s.transactionService.UpdateStatus(r.Context(), s.transactionActor(r), chi.URLParam(r, "transactionID"), params)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(rec))
}

func (s *Server) handleCancelTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	rec, err := s.transactionService.Cancel(r.Context(), s.transactionActor(r), chi.URLParam(r, "transactionID"), req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(rec))
}

func (s *Server) handleRegressTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phase  string `json:"phase"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}

	rec, err := s.transactionService.RegressPhase(r.Context(), s.transactionActor(r), chi.URLParam(r, "transactionID"), transaction.Phase(req.Phase), req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(rec))
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	result, err := s.transactionService.CompleteStep(r.Context(), s.transactionActor(r), chi.URLParam(r, "transactionID"), chi.URLParam(r, "taskName"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"phase":    result.Phase,
		"status":   result.Status,
		"advanced": result.Advanced,
	})
}

func (s *Server) handleSubmitApplication(w http.ResponseWriter, r *http.Request) {
	userID, _ := actorFrom(r)
	rec, err := s.underwritingService.SubmitApplication(r.Context(), chi.URLParam(r, "transactionID"), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUnderwritingResponse(rec))
}

func (s *Server) handleUnderwritingStatus(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionID")
	rec, err := s.underwritingService.GetStatus(r.Context(), transactionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	conditions, err := s.underwritingService.ListConditions(r.Context(), transactionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	items := make([]conditionResponse, 0, len(conditions))
	for _, c := range conditions {
		items = append(items, toConditionResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     toUnderwritingResponse(rec),
		"conditions": items,
	})
}

func (s *Server) handleAddCondition(w http.ResponseWriter, r *http.Request) {
	userID, _ := actorFrom(r)

	var req struct {
		Title        string `json:"title"`
		Description  string `json:"description"`
		DocumentType string `json:"documentType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}

	cond, rec, err := s.underwritingService.AddCondition(r.Context(), chi.URLParam(r, "transactionID"), userID, underwriting.ConditionParams{
		Title:        req.Title,
		Description:  req.Description,
		DocumentType: req.DocumentType,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"condition": toConditionResponse(cond),
		"status":    toUnderwritingResponse(rec),
	})
}

func (s *Server) handleSubmitDocuments(w http.ResponseWriter, r *http.Request) {
	userID, _ := actorFrom(r)

	var req struct {
		Documents []struct {
			Name        string  `json:"name"`
			ConditionID *string `json:"conditionId"`
		} `json:"documents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}

	docs := make([]underwriting.DocumentInput, 0, len(req.Documents))
	for _, d := range req.Documents {
		docs = append(docs, underwriting.DocumentInput{Name: d.Name, ConditionID: d.ConditionID})
	}

	result, err := s.underwritingService.SubmitDocuments(r.Context(), chi.URLParam(r, "transactionID"), userID, docs)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEvaluationResponse(result))
}

func (s *Server) handleEvaluateClearToClose(w http.ResponseWriter, r *http.Request) {
	userID, _ := actorFrom(r)
	result, err := s.underwritingService.EvaluateClearToClose(r.Context(), chi.URLParam(r, "transactionID"), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEvaluationResponse(result))
}

func (s *Server) handleEsignWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionID string  `json:"transactionId"`
		EnvelopeID    string  `json:"envelopeId"`
		EnvelopeKind  string  `json:"envelopeKind"`
		EventID       string  `json:"eventId"`
		ActorID       *string `json:"actorId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}

	err := s.esignService.HandleCompletionWebhook(r.Context(), esign.CompletionRequest{
		TransactionID:  req.TransactionID,
		EnvelopeID:     req.EnvelopeID,
		EnvelopeKind:   esign.EnvelopeKind(req.EnvelopeKind),
		IdempotencyKey: req.EventID,
		ActorID:        req.ActorID,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

func (s *Server) handleGetDisclosure(w http.ResponseWriter, r *http.Request) {
	packet, err := s.closingService.GetDisclosure(r.Context(), chi.URLParam(r, "transactionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisclosureResponse(packet))
}

func (s *Server) handleUploadDisclosure(w http.ResponseWriter, r *http.Request) {
	userID, _ := actorFrom(r)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "expected multipart form")
		return
	}
	file, header, err := r.FormFile("document")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "document file is required")
		return
	}
	defer file.Close()

	d, err := s.closingService.UploadDocument(r.Context(), chi.URLParam(r, "transactionID"), userID, header.Filename, file)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"status":       d.Status,
		"documentPath": d.DocumentPath,
	})
}

func (s *Server) handleFlagDiscrepancy(w http.ResponseWriter, r *http.Request) {
	userID, _ := actorFrom(r)

	var req struct {
		FeeItem         string `json:"feeItem"`
		EstimatedAmount int64  `json:"estimatedAmount"`
		ActualAmount    int64  `json:"actualAmount"`
		Notes           string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}

	fee, err := s.closingService.FlagDiscrepancy(r.Context(), chi.URLParam(r, "transactionID"), userID, closing.DiscrepancyParams{
		FeeItem:         req.FeeItem,
		EstimatedAmount: req.EstimatedAmount,
		ActualAmount:    req.ActualAmount,
		Notes:           req.Notes,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, feeResponse{
		FeeItem:         fee.FeeItem,
		EstimatedAmount: fee.EstimatedAmount,
		ActualAmount:    fee.ActualAmount,
		Discrepancy:     fee.Discrepancy,
		Notes:           fee.Notes,
	})
}

func (s *Server) handleAcknowledgeDisclosure(w http.ResponseWriter, r *http.Request) {
	userID, _ := actorFrom(r)
	d, err := s.closingService.Acknowledge(r.Context(), chi.URLParam(r, "transactionID"), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         d.Status,
		"acknowledgedAt": formatTimePtr(d.AcknowledgedAt),
	})
}

func (s *Server) handleUpdateFunding(w http.ResponseWriter, r *http.Request) {
	userID, _ := actorFrom(r)

	var req struct {
		Status             *string `json:"status"`
		KeysDelivered      *bool   `json:"keys_delivered"`
		DocumentsDelivered *bool   `json:"documents_delivered"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}

	var params closing.FundingParams
	if req.Status != nil {
		status := closing.DisbursementStatus(*req.Status)
		params.Status = &status
	}
	params.KeysDelivered = req.KeysDelivered
	params.DocumentsDelivered = req.DocumentsDelivered

	d, err := s.closingService.UpdateFunding(r.Context(), chi.URLParam(r, "transactionID"), userID, params)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisbursementResponse(d))
}

func (s *Server) handleInitiateRecording(w http.ResponseWriter, r *http.Request) {
	userID, _ := actorFrom(r)

	var req struct {
		CountyReference string `json:"county_reference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}

	rec, err := s.closingService.InitiateRecording(r.Context(), chi.URLParam(r, "transactionID"), userID, req.CountyReference)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordingResponse(rec))
}

func (s *Server) handleCompleteRecording(w http.ResponseWriter, r *http.Request) {
	userID, _ := actorFrom(r)
	rec, err := s.closingService.CompleteRecording(r.Context(), chi.URLParam(r, "transactionID"), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordingResponse(rec))
}

func (s *Server) handleUpdateWalkThrough(w http.ResponseWriter, r *http.Request) {
	userID, _ := actorFrom(r)

	var req struct {
		ScheduledAt *string `json:"scheduledAt"`
		Completed   *bool   `json:"completed"`
		Notes       *string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}

	var params closing.WalkThroughParams
	if req.ScheduledAt != nil {
		scheduled, err := time.Parse(time.RFC3339, *req.ScheduledAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation", "scheduledAt must be RFC 3339")
			return
		}
		params.ScheduledAt = &scheduled
	}
	params.Completed = req.Completed
	params.Notes = req.Notes

	wt, err := s.closingService.UpdateWalkThrough(r.Context(), chi.URLParam(r, "transactionID"), userID, params)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scheduledAt": formatTimePtr(wt.ScheduledAt),
		"completed":   wt.Completed,
		"notes":       wt.Notes,
	})
}

func (s *Server) handleUpdateMoving(w http.ResponseWriter, r *http.Request) {
	userID, _ := actorFrom(r)

	var req struct {
		UtilitiesTransferred *bool `json:"utilitiesTransferred"`
		AddressChangeFiled   *bool `json:"addressChangeFiled"`
		MoversBooked         *bool `json:"moversBooked"`
		Completed            *bool `json:"completed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}

	m, err := s.closingService.UpdateMoving(r.Context(), chi.URLParam(r, "transactionID"), userID, closing.MovingParams{
		UtilitiesTransferred: req.UtilitiesTransferred,
		AddressChangeFiled:   req.AddressChangeFiled,
		MoversBooked:         req.MoversBooked,
		Completed:            req.Completed,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"utilitiesTransferred": m.UtilitiesTransferred,
		"addressChangeFiled":   m.AddressChangeFiled,
		"moversBooked":         m.MoversBooked,
		"completed":            m.Completed,
	})
}

func (s *Server) handleCreateLOI(w http.ResponseWriter, r *http.Request) {
	userID, _ := actorFrom(r)

	var req struct {
		PropertyID string           `json:"propertyId"`
		Body       document.LOIBody `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}

	doc, err := s.loiService.Create(r.Context(), document.CreateParams{
		PropertyID: req.PropertyID,
		CreatedBy:  userID,
		Body:       req.Body,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLOIResponse(doc))
}

func (s *Server) handleGetLOI(w http.ResponseWriter, r *http.Request) {
	doc, err := s.loiService.Get(r.Context(), chi.URLParam(r, "loiID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLOIResponse(doc))
}

func (s *Server) handleMarkLOIViewed(w http.ResponseWriter, r *http.Request) {
	doc, err := s.loiService.MarkViewed(r.Context(), chi.URLParam(r, "loiID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLOIResponse(doc))
}

func (s *Server) handleSignLOI(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Signer string `json:"signer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}

	doc, err := s.loiService.MarkSigned(r.Context(), chi.URLParam(r, "loiID"), document.Signer(req.Signer))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLOIResponse(doc))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"kind": kind, "message": message},
	})
}

// writeServiceError maps domain sentinels onto the error taxonomy: a
// machine-checkable kind plus a human-readable message, never internals.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, offer.ErrValidation),
		errors.Is(err, offer.ErrBelowMinimum),
		errors.Is(err, offer.ErrInvalidAction),
		errors.Is(err, offer.ErrMissingCounterAmount),
		errors.Is(err, property.ErrValidation),
		errors.Is(err, transaction.ErrValidation),
		errors.Is(err, transaction.ErrUnknownTask),
		errors.Is(err, underwriting.ErrValidation),
		errors.Is(err, underwriting.ErrTitleRequired),
		errors.Is(err, underwriting.ErrNoDocuments),
		errors.Is(err, closing.ErrValidation),
		errors.Is(err, closing.ErrFeeItemRequired),
		errors.Is(err, closing.ErrEmptyDocument),
		errors.Is(err, document.ErrValidation),
		errors.Is(err, document.ErrUnknownSigner),
		errors.Is(err, esign.ErrValidation),
		errors.Is(err, esign.ErrUnknownEnvelopeKind),
		errors.Is(err, auth.ErrValidation),
		errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "validation", err.Error())

	case errors.Is(err, offer.ErrInvalidTransition),
		errors.Is(err, transaction.ErrTerminal),
		errors.Is(err, transaction.ErrPhaseRegression),
		errors.Is(err, document.ErrAlreadySigned):
		writeError(w, http.StatusBadRequest, "invalid_state", err.Error())

	case errors.Is(err, offer.ErrNotFound),
		errors.Is(err, offer.ErrPropertyNotFound),
		errors.Is(err, property.ErrNotFound),
		errors.Is(err, transaction.ErrNotFound),
		errors.Is(err, underwriting.ErrNotFound),
		errors.Is(err, underwriting.ErrConditionNotFound),
		errors.Is(err, closing.ErrNotFound),
		errors.Is(err, document.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())

	case errors.Is(err, offer.ErrSelfOffer),
		errors.Is(err, offer.ErrNotSeller),
		errors.Is(err, offer.ErrNotBuyer),
		errors.Is(err, transaction.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())

	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())

	case errors.Is(err, offer.ErrPropertyUnavailable),
		errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "conflict", err.Error())

	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}
