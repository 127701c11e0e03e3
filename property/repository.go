package property

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested listing does not exist.
var ErrNotFound = errors.New("property: not found")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const listingColumns = `id, seller_id, address, region, property_type, list_price, minimum_offer, status, created_at, updated_at`

type CreateParams struct {
	SellerID     string
	Address      string
	Region       string
	PropertyType string
	ListPrice    int64
	MinimumOffer int64
}

func (r *Repository) Create(ctx context.Context, params CreateParams) (Listing, error) {
	const query = `
		INSERT INTO properties (seller_id, address, region, property_type, list_price, minimum_offer, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'active')
		RETURNING ` + listingColumns

	row := r.pool.QueryRow(ctx, query,
		params.SellerID,
		params.Address,
		params.Region,
		params.PropertyType,
		params.ListPrice,
		params.MinimumOffer,
	)
	listing, err := scanListing(row)
	if err != nil {
		return Listing{}, fmt.Errorf("property: create: %w", err)
	}
	return listing, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (Listing, error) {
	const query = `SELECT ` + listingColumns + ` FROM properties WHERE id = $1`

	listing, err := scanListing(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Listing{}, ErrNotFound
		}
		return Listing{}, fmt.Errorf("property: get by id: %w", err)
	}
	return listing, nil
}

func (r *Repository) List(ctx context.Context, filters Filters) ([]Listing, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	base := `SELECT ` + listingColumns + ` FROM properties`
	where := []string{"1=1"}
	args := []any{}

	if filters.Region != "" {
		where = append(where, fmt.Sprintf("region=$%d", len(args)+1))
		args = append(args, filters.Region)
	}
	if filters.PropertyType != "" {
		where = append(where, fmt.Sprintf("property_type=$%d", len(args)+1))
		args = append(args, filters.PropertyType)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d", len(args)+1))
		args = append(args, filters.Status)
	}
	if filters.PriceMin > 0 {
		where = append(where, fmt.Sprintf("list_price >= $%d", len(args)+1))
		args = append(args, filters.PriceMin)
	}
	if filters.PriceMax > 0 {
		where = append(where, fmt.Sprintf("list_price <= $%d", len(args)+1))
		args = append(args, filters.PriceMax)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	sortKey := mapSortKey(filters.SortKey)
	sortOrder := strings.ToUpper(filters.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`%s%s ORDER BY %s %s LIMIT %d OFFSET %d`, base, whereClause, sortKey, sortOrder, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("property: query list: %w", err)
	}
	defer rows.Close()

	list := []Listing{}
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, listing)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("property: iterate list: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM properties%s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("property: count list: %w", err)
	}

	return list, total, nil
}

func scanListing(row pgx.Row) (Listing, error) {
	var l Listing
	return l, row.Scan(
		&l.ID,
		&l.SellerID,
		&l.Address,
		&l.Region,
		&l.PropertyType,
		&l.ListPrice,
		&l.MinimumOffer,
		&l.Status,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
}

func mapSortKey(key string) string {
	switch key {
	case "listPrice":
		return "list_price"
	case "region":
		return "region"
	case "propertyType":
		return "property_type"
	case "status":
		return "status"
	case "updatedAt":
		return "updated_at"
	case "createdAt":
		fallthrough
	default:
		return "created_at"
	}
}
