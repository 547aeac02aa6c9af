package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"catalog-api/internal/domain"
	"catalog-api/internal/pagination"
	"catalog-api/internal/repository"
	"catalog-api/internal/upload"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrProductConflict    = errors.New("product code or name already exists")
	ErrCategoriesNotFound = errors.New("one or more categories not found")
	ErrProductNotFound    = errors.New("product not found")
)

// CreateProductInput carries the already-validated fields for a new product
// plus the category ids it should be associated with
type CreateProductInput struct {
	ProductCode string
	Name        string
	Description string
	Price       float64
	Stock       int
	CategoryIDs []uuid.UUID
}

// CatalogService defines the catalog business logic: paginated listing and
// the transactional product creation workflow.
type CatalogService interface {
	ListProducts(ctx context.Context, opts pagination.Options) (*pagination.Page[*domain.Product], error)
	GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	ListCategories(ctx context.Context) ([]*domain.Category, error)
	CreateProduct(ctx context.Context, input CreateProductInput, files []upload.File) (*domain.Product, error)
}

type catalogService struct {
	productRepo  repository.ProductRepository
	categoryRepo repository.CategoryRepository
	uploader     upload.Gateway
	logger       *zap.Logger
}

// NewCatalogService creates a new instance of CatalogService
func NewCatalogService(
	productRepo repository.ProductRepository,
	categoryRepo repository.CategoryRepository,
	uploader upload.Gateway,
	logger *zap.Logger,
) CatalogService {
	return &catalogService{
		productRepo:  productRepo,
		categoryRepo: categoryRepo,
		uploader:     uploader,
		logger:       logger,
	}
}

// ListProducts returns one page of products with images attached
func (s *catalogService) ListProducts(ctx context.Context, opts pagination.Options) (*pagination.Page[*domain.Product], error) {
	opts = opts.Normalize()

	products, total, err := s.productRepo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	page := pagination.New(products, total, opts)
	return &page, nil
}

// GetProduct returns one product with its images attached
func (s *catalogService) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	product, err := s.productRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return product, nil
}

// ListCategories returns all categories
func (s *catalogService) ListCategories(ctx context.Context) ([]*domain.Category, error) {
	categories, err := s.categoryRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return categories, nil
}

// CreateProduct runs the creation workflow: uniqueness pre-check, category
// resolution, then a single transaction covering the product row, its
// category associations, the batch upload, and the image rows. Validation
// failures return before any mutation or upload cost is incurred; any
// failure after the transaction opens rolls back every write.
func (s *catalogService) CreateProduct(ctx context.Context, input CreateProductInput, files []upload.File) (*domain.Product, error) {
	existing, err := s.productRepo.FindByCodeOrName(ctx, input.ProductCode, input.Name)
	if err != nil && err != repository.ErrProductNotFound {
		return nil, fmt.Errorf("failed to check existing product: %w", err)
	}
	if existing != nil {
		return nil, ErrProductConflict
	}

	// Missing ids resolve silently to the subset that exists; only a fully
	// empty resolution is an error.
	categories, err := s.categoryRepo.FindByIDs(ctx, input.CategoryIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve categories: %w", err)
	}
	if len(categories) == 0 {
		return nil, ErrCategoriesNotFound
	}

	now := time.Now()
	product := &domain.Product{
		ID:          uuid.New(),
		ProductCode: input.ProductCode,
		Name:        input.Name,
		Description: input.Description,
		Price:       input.Price,
		Stock:       input.Stock,
		Categories:  categories,
		Images:      []domain.ProductImage{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.productRepo.InTransaction(ctx, func(tx repository.ProductTx) error {
		if err := tx.CreateProduct(ctx, product); err != nil {
			return err
		}

		// The upload happens after the insert so image rows can reference a
		// real product identity, at the cost of holding the transaction open
		// across the external call.
		results, err := s.uploader.UploadFiles(ctx, files)
		if err != nil {
			return fmt.Errorf("failed to upload files: %w", err)
		}

		images := []domain.ProductImage{}
		for i, result := range results {
			if result.Err != nil || result.URL == "" {
				s.logger.Warn("Dropping failed upload",
					zap.String("product_id", product.ID.String()),
					zap.Int("file_index", i),
					zap.Error(result.Err),
				)
				continue
			}
			images = append(images, domain.ProductImage{
				ID:        uuid.New(),
				ProductID: product.ID,
				URL:       result.URL,
				Position:  len(images),
				CreatedAt: now,
			})
		}

		if len(images) == 0 {
			// A product with no images is valid
			return nil
		}

		if err := tx.CreateImages(ctx, images); err != nil {
			return err
		}

		product.Images = images
		return nil
	})

	if err != nil {
		if errors.Is(err, repository.ErrProductAlreadyExists) {
			// Lost the race past the pre-check; the unique constraint is the
			// authoritative enforcement point.
			return nil, ErrProductConflict
		}
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.logger.Info("Product created",
		zap.String("product_id", product.ID.String()),
		zap.String("product_code", product.ProductCode),
		zap.Int("categories", len(product.Categories)),
		zap.Int("images", len(product.Images)),
	)

	return product, nil
}
