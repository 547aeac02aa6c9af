package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"catalog-api/internal/domain"
	"catalog-api/internal/pagination"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrProductNotFound      = errors.New("product not found")
	ErrProductAlreadyExists = errors.New("product with this code or name already exists")
)

// pgUniqueViolation is the SQLSTATE for unique constraint violations
const pgUniqueViolation = "23505"

// ProductRepository defines the interface for product data access.
// It owns the transaction boundary for the creation workflow: everything
// written inside InTransaction commits or rolls back as one unit.
type ProductRepository interface {
	FindByCodeOrName(ctx context.Context, productCode, name string) (*domain.Product, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	List(ctx context.Context, opts pagination.Options) ([]*domain.Product, int, error)
	InTransaction(ctx context.Context, fn func(tx ProductTx) error) error
}

// ProductTx is the write surface available inside an open transaction
type ProductTx interface {
	CreateProduct(ctx context.Context, product *domain.Product) error
	CreateImages(ctx context.Context, images []domain.ProductImage) error
}

type productRepository struct {
	db *sql.DB
}

// NewProductRepository creates a new instance of ProductRepository
func NewProductRepository(db *sql.DB) ProductRepository {
	return &productRepository{db: db}
}

// FindByCodeOrName retrieves a product whose code or name matches the given
// values. Returns ErrProductNotFound when neither matches.
func (r *productRepository) FindByCodeOrName(ctx context.Context, productCode, name string) (*domain.Product, error) {
	query := `
		SELECT id, product_code, name, description, price, stock, created_at, updated_at
		FROM products
		WHERE product_code = $1 OR name = $2
		LIMIT 1
	`

	product := &domain.Product{}
	err := r.db.QueryRowContext(ctx, query, productCode, name).Scan(
		&product.ID,
		&product.ProductCode,
		&product.Name,
		&product.Description,
		&product.Price,
		&product.Stock,
		&product.CreatedAt,
		&product.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to find product by code or name: %w", err)
	}

	return product, nil
}

// FindByID retrieves a product by ID with its images attached
func (r *productRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	query := `
		SELECT id, product_code, name, description, price, stock, created_at, updated_at
		FROM products
		WHERE id = $1
	`

	product := &domain.Product{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&product.ID,
		&product.ProductCode,
		&product.Name,
		&product.Description,
		&product.Price,
		&product.Stock,
		&product.CreatedAt,
		&product.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to find product by ID: %w", err)
	}

	imagesByProduct, err := r.loadImages(ctx, []uuid.UUID{product.ID})
	if err != nil {
		return nil, err
	}
	product.Images = imagesByProduct[product.ID]
	if product.Images == nil {
		product.Images = []domain.ProductImage{}
	}

	return product, nil
}

// List retrieves one page of products ordered by id, with their images
// eagerly attached, plus the total product count.
func (r *productRepository) List(ctx context.Context, opts pagination.Options) ([]*domain.Product, int, error) {
	// Only the two known constants may be interpolated into the query
	order := opts.Order
	if order != pagination.SortOrderAsc && order != pagination.SortOrderDesc {
		order = pagination.SortOrderAsc
	}

	countQuery := `SELECT COUNT(*) FROM products`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, product_code, name, description, price, stock, created_at, updated_at
		FROM products
		ORDER BY id %s
		LIMIT $1 OFFSET $2
	`, order)

	rows, err := r.db.QueryContext(ctx, query, opts.Take, opts.Skip)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	products := []*domain.Product{}
	ids := []uuid.UUID{}
	for rows.Next() {
		product := &domain.Product{Images: []domain.ProductImage{}}
		err := rows.Scan(
			&product.ID,
			&product.ProductCode,
			&product.Name,
			&product.Description,
			&product.Price,
			&product.Stock,
			&product.CreatedAt,
			&product.UpdatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, product)
		ids = append(ids, product.ID)
	}

	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating products: %w", err)
	}

	if len(ids) > 0 {
		imagesByProduct, err := r.loadImages(ctx, ids)
		if err != nil {
			return nil, 0, err
		}
		for _, product := range products {
			if images, ok := imagesByProduct[product.ID]; ok {
				product.Images = images
			}
		}
	}

	return products, total, nil
}

// loadImages fetches image rows for the given product ids, grouped by owner
func (r *productRepository) loadImages(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID][]domain.ProductImage, error) {
	placeholders := make([]string, len(productIDs))
	args := make([]interface{}, len(productIDs))
	for i, id := range productIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT id, product_id, url, position, created_at
		FROM product_images
		WHERE product_id IN (%s)
		ORDER BY product_id, position ASC
	`, strings.Join(placeholders, ", "))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load product images: %w", err)
	}
	defer rows.Close()

	images := map[uuid.UUID][]domain.ProductImage{}
	for rows.Next() {
		image := domain.ProductImage{}
		err := rows.Scan(
			&image.ID,
			&image.ProductID,
			&image.URL,
			&image.Position,
			&image.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product image: %w", err)
		}
		images[image.ProductID] = append(images[image.ProductID], image)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating product images: %w", err)
	}

	return images, nil
}

// InTransaction runs fn inside a database transaction. Any error from fn, or
// from commit, rolls back every write made through the transaction's
// ProductTx. Unique constraint violations on the products table surface as
// ErrProductAlreadyExists so callers see the same error as the pre-check.
func (r *productRepository) InTransaction(ctx context.Context, fn func(tx ProductTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&productTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return ErrProductAlreadyExists
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

type productTx struct {
	tx *sql.Tx
}

// CreateProduct inserts the product row and one association row per resolved
// category, all inside the open transaction.
func (t *productTx) CreateProduct(ctx context.Context, product *domain.Product) error {
	query := `
		INSERT INTO products (id, product_code, name, description, price, stock, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := t.tx.ExecContext(
		ctx,
		query,
		product.ID,
		product.ProductCode,
		product.Name,
		product.Description,
		product.Price,
		product.Stock,
		product.CreatedAt,
		product.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrProductAlreadyExists
		}
		return fmt.Errorf("failed to create product: %w", err)
	}

	for _, category := range product.Categories {
		_, err := t.tx.ExecContext(
			ctx,
			`INSERT INTO product_categories (product_id, category_id) VALUES ($1, $2)`,
			product.ID,
			category.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to create category association: %w", err)
		}
	}

	return nil
}

// CreateImages inserts image rows referencing an already-persisted product
func (t *productTx) CreateImages(ctx context.Context, images []domain.ProductImage) error {
	query := `
		INSERT INTO product_images (id, product_id, url, position, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	for _, image := range images {
		_, err := t.tx.ExecContext(
			ctx,
			query,
			image.ID,
			image.ProductID,
			image.URL,
			image.Position,
			image.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create product image: %w", err)
		}
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
