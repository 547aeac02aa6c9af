package transport

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"catalog-api/internal/middleware"
	"catalog-api/internal/pagination"
	"catalog-api/internal/service"
	"catalog-api/internal/upload"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxUploadBytes caps the multipart form kept in memory
const maxUploadBytes = 32 << 20

// CreateProductRequest represents the product creation form fields
type CreateProductRequest struct {
	ProductCode string  `validate:"required,max=64"`
	Name        string  `validate:"required,max=255"`
	Description string  `validate:"max=2000"`
	Price       float64 `validate:"gte=0"`
	Stock       int     `validate:"gte=0"`
}

// ProductHandler handles HTTP requests for catalog operations
type ProductHandler struct {
	catalog service.CatalogService
	logger  *zap.Logger
}

// NewProductHandler creates a new ProductHandler
func NewProductHandler(catalog service.CatalogService, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{
		catalog: catalog,
		logger:  logger,
	}
}

// RegisterRoutes registers all catalog routes
func (h *ProductHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/products", func(r chi.Router) {
		r.Get("/", h.ListProducts)
		r.Post("/", h.CreateProduct)
		r.Get("/{id}", h.GetProduct)
	})
	r.Get("/api/categories", h.ListCategories)
}

// ListProducts handles paginated product listing
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	opts := parsePageOptions(r)

	page, err := h.catalog.ListProducts(r.Context(), opts)
	if err != nil {
		h.logger.Error("Failed to list products", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to list products")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, page)
}

// GetProduct returns a single product with its images. The creation response
// may omit images that were still being linked; this is the re-fetch path.
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	product, err := h.catalog.GetProduct(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrProductNotFound) {
			middleware.RespondWithError(w, http.StatusNotFound, service.ErrProductNotFound.Error())
			return
		}
		h.logger.Error("Failed to get product", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to get product")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, product)
}

// ListCategories handles category listing
func (h *ProductHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalog.ListCategories(r.Context())
	if err != nil {
		h.logger.Error("Failed to list categories", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, categories)
}

// CreateProduct handles product creation from a multipart form carrying the
// product fields, category ids, and zero or more image files
func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.logger.Debug("Multipart parse failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	req := CreateProductRequest{
		ProductCode: r.FormValue("product_code"),
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
	}
	if v := r.FormValue("price"); v != "" {
		price, err := strconv.ParseFloat(v, 64)
		if err != nil {
			middleware.RespondWithError(w, http.StatusBadRequest, "invalid price")
			return
		}
		req.Price = price
	}
	if v := r.FormValue("stock"); v != "" {
		stock, err := strconv.Atoi(v)
		if err != nil {
			middleware.RespondWithError(w, http.StatusBadRequest, "invalid stock")
			return
		}
		req.Stock = stock
	}

	if err := middleware.ValidateRequest(&req); err != nil {
		h.logger.Debug("Product validation failed", zap.Error(err))
		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request")
		return
	}

	categoryIDs, err := parseCategoryIDs(r.Form["categories"])
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid category id")
		return
	}
	if len(categoryIDs) == 0 {
		middleware.RespondWithError(w, http.StatusBadRequest, "at least one category is required")
		return
	}

	files, err := readFiles(r)
	if err != nil {
		h.logger.Debug("Reading upload files failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid file upload")
		return
	}

	input := service.CreateProductInput{
		ProductCode: req.ProductCode,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
		CategoryIDs: categoryIDs,
	}

	product, err := h.catalog.CreateProduct(r.Context(), input, files)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrProductConflict):
			middleware.RespondWithError(w, http.StatusConflict, service.ErrProductConflict.Error())
		case errors.Is(err, service.ErrCategoriesNotFound):
			middleware.RespondWithError(w, http.StatusNotFound, service.ErrCategoriesNotFound.Error())
		default:
			h.logger.Error("Product creation failed", zap.Error(err))
			middleware.RespondWithError(w, http.StatusInternalServerError, "failed to create product")
		}
		return
	}

	h.logger.Info("Product created", zap.String("product_id", product.ID.String()))
	middleware.RespondWithJSON(w, http.StatusCreated, product)
}

// parsePageOptions reads pagination parameters from the query string
func parsePageOptions(r *http.Request) pagination.Options {
	opts := pagination.Options{}

	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		opts.Page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("take")); err == nil {
		opts.Take = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("skip")); err == nil {
		opts.Skip = v
	}
	if strings.EqualFold(r.URL.Query().Get("order"), "desc") {
		opts.Order = pagination.SortOrderDesc
	}

	return opts.Normalize()
}

// parseCategoryIDs accepts repeated form values and comma-separated lists
func parseCategoryIDs(values []string) ([]uuid.UUID, error) {
	ids := []uuid.UUID{}
	for _, value := range values {
		for _, raw := range strings.Split(value, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			id, err := uuid.Parse(raw)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// readFiles materializes the uploaded file parts in form order
func readFiles(r *http.Request) ([]upload.File, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}

	files := []upload.File{}
	for _, header := range r.MultipartForm.File["files"] {
		part, err := header.Open()
		if err != nil {
			return nil, err
		}

		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, err
		}

		files = append(files, upload.File{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	return files, nil
}
