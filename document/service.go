package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrValidation marks malformed document input.
	ErrValidation = errors.New("document: invalid input")
	// ErrAlreadySigned signals the party has already signed.
	ErrAlreadySigned = errors.New("document: party already signed")
	// ErrUnknownSigner signals a signer other than buyer or seller.
	ErrUnknownSigner = errors.New("document: unknown signer")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Service struct {
	pool TxBeginner
	repo Repository
	now  func() time.Time
}

func NewService(pool TxBeginner, repo Repository) *Service {
	return &Service{pool: pool, repo: repo, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Create(ctx context.Context, params CreateParams) (LOI, error) {
	if params.PropertyID == "" {
		return LOI{}, fmt.Errorf("%w: property id required", ErrValidation)
	}
	if params.CreatedBy == "" {
		return LOI{}, fmt.Errorf("%w: creator id required", ErrValidation)
	}
	if params.Body.Terms.OfferAmount <= 0 {
		return LOI{}, fmt.Errorf("%w: offer amount must be positive", ErrValidation)
	}
	return s.repo.Create(ctx, params)
}

func (s *Service) Get(ctx context.Context, id string) (LOI, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListForProperty(ctx context.Context, propertyID string) ([]LOI, error) {
	return s.repo.ListForProperty(ctx, propertyID)
}

// MarkViewed stamps first-view once; replays return the stored document.
func (s *Service) MarkViewed(ctx context.Context, id string) (LOI, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return LOI{}, fmt.Errorf("document: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	doc, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return LOI{}, err
	}
	if doc.Body.Signatures.ViewedAt != nil {
		return doc, nil
	}

	viewed := s.now().UTC()
	doc.Body.Signatures.ViewedAt = &viewed
	if doc.Status == LOIDraft {
		doc.Status = LOIViewed
	}

	saved, err := s.repo.Save(ctx, tx, doc)
	if err != nil {
		return LOI{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return LOI{}, fmt.Errorf("document: commit viewed: %w", err)
	}
	return saved, nil
}

// MarkSigned records one party's signature; the document turns signed once
// both parties have signed.
func (s *Service) MarkSigned(ctx context.Context, id string, signer Signer) (LOI, error) {
	if signer != SignerBuyer && signer != SignerSeller {
		return LOI{}, ErrUnknownSigner
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return LOI{}, fmt.Errorf("document: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	doc, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return LOI{}, err
	}

	signedAt := s.now().UTC()
	switch signer {
	case SignerBuyer:
		if doc.Body.Signatures.BuyerSignedAt != nil {
			return LOI{}, ErrAlreadySigned
		}
		doc.Body.Signatures.BuyerSignedAt = &signedAt
	case SignerSeller:
		if doc.Body.Signatures.SellerSignedAt != nil {
			return LOI{}, ErrAlreadySigned
		}
		doc.Body.Signatures.SellerSignedAt = &signedAt
	}

	if doc.Body.Signatures.BuyerSignedAt != nil && doc.Body.Signatures.SellerSignedAt != nil {
		doc.Status = LOISigned
	}

	saved, err := s.repo.Save(ctx, tx, doc)
	if err != nil {
		return LOI{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return LOI{}, fmt.Errorf("document: commit signature: %w", err)
	}
	return saved, nil
}
