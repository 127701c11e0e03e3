package main

import (
	"time"

	"dealflow/auth"
	"dealflow/closing"
	"dealflow/document"
	"dealflow/offer"
	"dealflow/property"
	"dealflow/transaction"
	"dealflow/underwriting"
)

type userResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, FullName: u.FullName, Role: string(u.Role)}
}

type listingResponse struct {
	ID           string `json:"id"`
	SellerID     string `json:"sellerId"`
	Address      string `json:"address"`
	Region       string `json:"region"`
	PropertyType string `json:"propertyType"`
	ListPrice    int64  `json:"listPrice"`
	MinimumOffer int64  `json:"minimumOffer"`
	Status       string `json:"status"`
	CreatedAt    string `json:"createdAt"`
}

func toListingResponse(l property.Listing) listingResponse {
	return listingResponse{
		ID:           l.ID,
		SellerID:     l.SellerID,
		Address:      l.Address,
		Region:       l.Region,
		PropertyType: l.PropertyType,
		ListPrice:    l.ListPrice,
		MinimumOffer: l.MinimumOffer,
		Status:       string(l.Status),
		CreatedAt:    l.CreatedAt.Format(time.RFC3339),
	}
}

type offerResponse struct {
	ID             string   `json:"id"`
	PropertyID     string   `json:"propertyId"`
	BuyerID        string   `json:"buyerId"`
	Amount         int64    `json:"amount"`
	EarnestMoney   int64    `json:"earnestMoney"`
	FinancingType  string   `json:"financingType"`
	Contingencies  []string `json:"contingencies"`
	Status         string   `json:"status"`
	CounterAmount  *int64   `json:"counterAmount,omitempty"`
	SellerResponse *string  `json:"sellerResponse,omitempty"`
	SubmittedAt    string   `json:"submittedAt"`
	RespondedAt    *string  `json:"respondedAt,omitempty"`
	AcceptedAt     *string  `json:"acceptedAt,omitempty"`
}

func toOfferResponse(o offer.Offer) offerResponse {
	return offerResponse{
		ID:             o.ID,
		PropertyID:     o.PropertyID,
		BuyerID:        o.BuyerID,
		Amount:         o.Amount,
		EarnestMoney:   o.EarnestMoney,
		FinancingType:  o.FinancingType,
		Contingencies:  o.Contingencies,
		Status:         string(o.Status),
		CounterAmount:  o.CounterAmount,
		SellerResponse: o.SellerResponse,
		SubmittedAt:    o.SubmittedAt.Format(time.RFC3339),
		RespondedAt:    formatTimePtr(o.RespondedAt),
		AcceptedAt:     formatTimePtr(o.AcceptedAt),
	}
}

type transactionResponse struct {
	ID            string  `json:"id"`
	ReferenceCode string  `json:"referenceCode"`
	PropertyID    string  `json:"propertyId"`
	OfferID       string  `json:"offerId"`
	BuyerID       string  `json:"buyerId"`
	SellerID      string  `json:"sellerId"`
	AgentID       *string `json:"agentId,omitempty"`
	Price         int64   `json:"price"`
	Status        string  `json:"status"`
	Phase         string  `json:"phase"`
	Progress      int     `json:"progress"`
	ClosingDate   *string `json:"closingDate,omitempty"`
	CreatedAt     string  `json:"createdAt"`
}

func toTransactionResponse(rec transaction.Record) transactionResponse {
	return transactionResponse{
		ID:            rec.ID,
		ReferenceCode: rec.ReferenceCode,
		PropertyID:    rec.PropertyID,
		OfferID:       rec.OfferID,
		BuyerID:       rec.BuyerID,
		SellerID:      rec.SellerID,
		AgentID:       rec.AgentID,
		Price:         rec.Price,
		Status:        string(rec.Status),
		Phase:         string(rec.Phase),
		Progress:      rec.Progress,
		ClosingDate:   formatTimePtr(rec.ClosingDate),
		CreatedAt:     rec.CreatedAt.Format(time.RFC3339),
	}
}

type taskValueResponse struct {
	Name    string `json:"name"`
	Title   string `json:"title"`
	Ordinal int    `json:"ordinal"`
	Status  string `json:"status"`
}

type summaryResponse struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

type transactionDetailResponse struct {
	Transaction transactionResponse `json:"transaction"`
	Tasks       []taskValueResponse `json:"tasks"`
	Summary     summaryResponse     `json:"summary"`
}

func toDetailResponse(d transaction.Detail) transactionDetailResponse {
	tasks := make([]taskValueResponse, 0, len(d.Tasks))
	for _, tv := range d.Tasks {
		tasks = append(tasks, taskValueResponse{
			Name:    tv.Name,
			Title:   tv.Title,
			Ordinal: tv.Ordinal,
			Status:  string(tv.Status),
		})
	}
	return transactionDetailResponse{
		Transaction: toTransactionResponse(d.Record),
		Tasks:       tasks,
		Summary: summaryResponse{
			Completed:  d.Summary.Completed,
			Total:      d.Summary.Total,
			Percentage: d.Summary.Percentage,
		},
	}
}

type underwritingResponse struct {
	TransactionID    string  `json:"transactionId"`
	Status           string  `json:"status"`
	PendingDocuments int     `json:"pendingDocuments"`
	ClearToCloseDate *string `json:"clearToCloseDate,omitempty"`
	LoanApprovalDate *string `json:"loanApprovalDate,omitempty"`
}

func toUnderwritingResponse(rec underwriting.StatusRecord) underwritingResponse {
	return underwritingResponse{
		TransactionID:    rec.TransactionID,
		Status:           string(rec.Status),
		PendingDocuments: rec.PendingDocuments,
		ClearToCloseDate: formatTimePtr(rec.ClearToCloseDate),
		LoanApprovalDate: formatTimePtr(rec.LoanApprovalDate),
	}
}

type evaluationResponse struct {
	Status            string  `json:"status"`
	Advanced          bool    `json:"advanced"`
	ClearToClose      bool    `json:"clearToClose"`
	LoanApproved      bool    `json:"loanApproved"`
	PendingConditions int     `json:"pendingConditions"`
	PendingDocuments  int     `json:"pendingDocuments"`
	ClearToCloseDate  *string `json:"clearToCloseDate,omitempty"`
	LoanApprovalDate  *string `json:"loanApprovalDate,omitempty"`
}

func toEvaluationResponse(r underwriting.EvaluationResult) evaluationResponse {
	return evaluationResponse{
		Status:            string(r.Status),
		Advanced:          r.Advanced,
		ClearToClose:      r.ClearToClose,
		LoanApproved:      r.LoanApproved,
		PendingConditions: r.PendingConditions,
		PendingDocuments:  r.PendingDocuments,
		ClearToCloseDate:  formatTimePtr(r.ClearToCloseDate),
		LoanApprovalDate:  formatTimePtr(r.LoanApprovalDate),
	}
}

type conditionResponse struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	DocumentType string  `json:"documentType"`
	Status       string  `json:"status"`
	SatisfiedAt  *string `json:"satisfiedAt,omitempty"`
}

func toConditionResponse(c underwriting.Condition) conditionResponse {
	return conditionResponse{
		ID:           c.ID,
		Title:        c.Title,
		Description:  c.Description,
		DocumentType: c.DocumentType,
		Status:       string(c.Status),
		SatisfiedAt:  formatTimePtr(c.SatisfiedAt),
	}
}

type feeResponse struct {
	FeeItem         string `json:"feeItem"`
	EstimatedAmount int64  `json:"estimatedAmount"`
	ActualAmount    int64  `json:"actualAmount"`
	Discrepancy     int64  `json:"discrepancy"`
	Notes           string `json:"notes,omitempty"`
}

type disclosureResponse struct {
	TransactionID  string        `json:"transactionId"`
	Status         string        `json:"status"`
	DocumentPath   *string       `json:"documentPath,omitempty"`
	WireBank       string        `json:"wireBank"`
	WireRouting    string        `json:"wireRouting"`
	WireAccount    string        `json:"wireAccount"`
	AcknowledgedAt *string       `json:"acknowledgedAt,omitempty"`
	Fees           []feeResponse `json:"fees"`
	LoanEstimate   any           `json:"loanEstimate,omitempty"`
}

func toDisclosureResponse(p closing.DisclosurePacket) disclosureResponse {
	fees := make([]feeResponse, 0, len(p.Fees))
	for _, f := range p.Fees {
		fees = append(fees, feeResponse{
			FeeItem:         f.FeeItem,
			EstimatedAmount: f.EstimatedAmount,
			ActualAmount:    f.ActualAmount,
			Discrepancy:     f.Discrepancy,
			Notes:           f.Notes,
		})
	}
	resp := disclosureResponse{
		TransactionID:  p.Disclosure.TransactionID,
		Status:         string(p.Disclosure.Status),
		DocumentPath:   p.Disclosure.DocumentPath,
		WireBank:       p.Disclosure.WireBank,
		WireRouting:    p.Disclosure.WireRouting,
		WireAccount:    p.Disclosure.WireAccount,
		AcknowledgedAt: formatTimePtr(p.Disclosure.AcknowledgedAt),
		Fees:           fees,
	}
	if p.LoanEstimate != nil {
		resp.LoanEstimate = map[string]any{
			"loanAmount":     p.LoanEstimate.LoanAmount,
			"interestRate":   p.LoanEstimate.InterestRate,
			"monthlyPayment": p.LoanEstimate.MonthlyPayment,
			"cashToClose":    p.LoanEstimate.CashToClose,
		}
	}
	return resp
}

type disbursementResponse struct {
	Status             string  `json:"status"`
	KeysDelivered      bool    `json:"keysDelivered"`
	DocumentsDelivered bool    `json:"documentsDelivered"`
	FundedAt           *string `json:"fundedAt,omitempty"`
}

func toDisbursementResponse(d closing.Disbursement) disbursementResponse {
	return disbursementResponse{
		Status:             string(d.Status),
		KeysDelivered:      d.KeysDelivered,
		DocumentsDelivered: d.DocumentsDelivered,
		FundedAt:           formatTimePtr(d.FundedAt),
	}
}

type recordingResponse struct {
	CountyReference string  `json:"countyReference"`
	Status          string  `json:"status"`
	InitiatedAt     string  `json:"initiatedAt"`
	RecordedAt      *string `json:"recordedAt,omitempty"`
}

func toRecordingResponse(rec closing.RecordingLog) recordingResponse {
	return recordingResponse{
		CountyReference: rec.CountyReference,
		Status:          string(rec.Status),
		InitiatedAt:     rec.InitiatedAt.Format(time.RFC3339),
		RecordedAt:      formatTimePtr(rec.RecordedAt),
	}
}

type loiResponse struct {
	ID         string           `json:"id"`
	PropertyID string           `json:"propertyId"`
	CreatedBy  string           `json:"createdBy"`
	Status     string           `json:"status"`
	Body       document.LOIBody `json:"body"`
	CreatedAt  string           `json:"createdAt"`
}

func toLOIResponse(doc document.LOI) loiResponse {
	return loiResponse{
		ID:         doc.ID,
		PropertyID: doc.PropertyID,
		CreatedBy:  doc.CreatedBy,
		Status:     string(doc.Status),
		Body:       doc.Body,
		CreatedAt:  doc.CreatedAt.Format(time.RFC3339),
	}
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
