package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"testing"
	"time"

	"catalog-api/internal/domain"
	"catalog-api/internal/pagination"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var testDB *sql.DB

func setupTestDB() (func(context.Context, ...testcontainers.TerminateOption) error, error) {
	var (
		dbName = "testdb"
		dbPwd  = "password"
		dbUser = "user"
	)

	dbContainer, err := postgres.Run(
		context.Background(),
		"postgres:15",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPwd),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second)),
	)
	if err != nil {
		return nil, err
	}

	dbHost, err := dbContainer.Host(context.Background())
	if err != nil {
		return dbContainer.Terminate, err
	}

	dbPort, err := dbContainer.MappedPort(context.Background(), "5432/tcp")
	if err != nil {
		return dbContainer.Terminate, err
	}

	connStr := "postgres://" + dbUser + ":" + dbPwd + "@" + dbHost + ":" + dbPort.Port() + "/" + dbName + "?sslmode=disable"
	testDB, err = sql.Open("pgx", connStr)
	if err != nil {
		return dbContainer.Terminate, err
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS categories (
			id UUID PRIMARY KEY,
			name VARCHAR(255) UNIQUE NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			id UUID PRIMARY KEY,
			product_code VARCHAR(64) UNIQUE NOT NULL,
			name VARCHAR(255) UNIQUE NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price NUMERIC(12, 2) NOT NULL DEFAULT 0,
			stock INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS product_categories (
			product_id UUID NOT NULL REFERENCES products (id) ON DELETE CASCADE,
			category_id UUID NOT NULL REFERENCES categories (id) ON DELETE CASCADE,
			PRIMARY KEY (product_id, category_id)
		)`,
		`CREATE TABLE IF NOT EXISTS product_images (
			id UUID PRIMARY KEY,
			product_id UUID NOT NULL REFERENCES products (id) ON DELETE CASCADE,
			url TEXT NOT NULL,
			position INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range schema {
		if _, err := testDB.Exec(stmt); err != nil {
			return dbContainer.Terminate, err
		}
	}

	return dbContainer.Terminate, nil
}

func TestMain(m *testing.M) {
	teardown, err := setupTestDB()
	if err != nil {
		log.Fatalf("could not start postgres container: %v", err)
	}

	m.Run()

	if teardown != nil {
		if err := teardown(context.Background()); err != nil {
			log.Fatalf("could not teardown postgres container: %v", err)
		}
	}
}

func cleanTables(t *testing.T) {
	t.Helper()
	for _, table := range []string{"product_images", "product_categories", "products", "categories"} {
		if _, err := testDB.Exec("DELETE FROM " + table); err != nil {
			t.Fatalf("failed to clean table %s: %v", table, err)
		}
	}
}

func seedCategory(t *testing.T, name string) *domain.Category {
	t.Helper()
	category := &domain.Category{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: time.Now(),
	}
	_, err := testDB.Exec(
		`INSERT INTO categories (id, name, description, created_at) VALUES ($1, $2, $3, $4)`,
		category.ID, category.Name, category.Description, category.CreatedAt,
	)
	if err != nil {
		t.Fatalf("failed to seed category: %v", err)
	}
	return category
}

func newProduct(code, name string, categories ...*domain.Category) *domain.Product {
	now := time.Now()
	return &domain.Product{
		ID:          uuid.New(),
		ProductCode: code,
		Name:        name,
		Description: "test product",
		Price:       9.99,
		Stock:       5,
		Categories:  categories,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func createProduct(t *testing.T, repo ProductRepository, product *domain.Product, images ...domain.ProductImage) {
	t.Helper()
	err := repo.InTransaction(context.Background(), func(tx ProductTx) error {
		if err := tx.CreateProduct(context.Background(), product); err != nil {
			return err
		}
		if len(images) == 0 {
			return nil
		}
		return tx.CreateImages(context.Background(), images)
	})
	if err != nil {
		t.Fatalf("failed to create product: %v", err)
	}
}

func TestCreateAndFindProduct(t *testing.T) {
	cleanTables(t)
	repo := NewProductRepository(testDB)
	category := seedCategory(t, "electronics")

	product := newProduct("SKU-001", "Margherita", category)
	images := []domain.ProductImage{
		{ID: uuid.New(), ProductID: product.ID, URL: "https://store.example/1.jpg", Position: 0, CreatedAt: time.Now()},
		{ID: uuid.New(), ProductID: product.ID, URL: "https://store.example/2.jpg", Position: 1, CreatedAt: time.Now()},
	}
	createProduct(t, repo, product, images...)

	found, err := repo.FindByID(context.Background(), product.ID)
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if found.ProductCode != "SKU-001" || found.Name != "Margherita" {
		t.Errorf("found product = %s/%s, want SKU-001/Margherita", found.ProductCode, found.Name)
	}
	if len(found.Images) != 2 {
		t.Fatalf("got %d images, want 2", len(found.Images))
	}
	if found.Images[0].URL != "https://store.example/1.jpg" {
		t.Errorf("first image url = %q, wrong position ordering", found.Images[0].URL)
	}
}

func TestFindByCodeOrName(t *testing.T) {
	cleanTables(t)
	repo := NewProductRepository(testDB)
	category := seedCategory(t, "electronics")
	createProduct(t, repo, newProduct("SKU-001", "Margherita", category))

	if _, err := repo.FindByCodeOrName(context.Background(), "SKU-001", "different name"); err != nil {
		t.Errorf("match by code returned error: %v", err)
	}
	if _, err := repo.FindByCodeOrName(context.Background(), "SKU-999", "Margherita"); err != nil {
		t.Errorf("match by name returned error: %v", err)
	}
	if _, err := repo.FindByCodeOrName(context.Background(), "SKU-999", "other"); !errors.Is(err, ErrProductNotFound) {
		t.Errorf("err = %v, want ErrProductNotFound", err)
	}
}

func TestUniqueConstraintViolation(t *testing.T) {
	cleanTables(t)
	repo := NewProductRepository(testDB)
	category := seedCategory(t, "electronics")
	createProduct(t, repo, newProduct("SKU-001", "Margherita", category))

	// Same code, different name
	err := repo.InTransaction(context.Background(), func(tx ProductTx) error {
		return tx.CreateProduct(context.Background(), newProduct("SKU-001", "Quattro Formaggi", category))
	})
	if !errors.Is(err, ErrProductAlreadyExists) {
		t.Errorf("duplicate code err = %v, want ErrProductAlreadyExists", err)
	}

	// Same name, different code
	err = repo.InTransaction(context.Background(), func(tx ProductTx) error {
		return tx.CreateProduct(context.Background(), newProduct("SKU-002", "Margherita", category))
	})
	if !errors.Is(err, ErrProductAlreadyExists) {
		t.Errorf("duplicate name err = %v, want ErrProductAlreadyExists", err)
	}
}

func TestTransactionRollback(t *testing.T) {
	cleanTables(t)
	repo := NewProductRepository(testDB)
	category := seedCategory(t, "electronics")

	product := newProduct("SKU-001", "Margherita", category)
	writeFailed := errors.New("image write failed")

	err := repo.InTransaction(context.Background(), func(tx ProductTx) error {
		if err := tx.CreateProduct(context.Background(), product); err != nil {
			return err
		}
		// Simulate a failure after the product and its associations are
		// written but before commit
		return writeFailed
	})
	if !errors.Is(err, writeFailed) {
		t.Fatalf("err = %v, want the injected failure", err)
	}

	if _, err := repo.FindByID(context.Background(), product.ID); !errors.Is(err, ErrProductNotFound) {
		t.Errorf("product row observable after rollback: err = %v", err)
	}

	var associations int
	if err := testDB.QueryRow(`SELECT COUNT(*) FROM product_categories WHERE product_id = $1`, product.ID).Scan(&associations); err != nil {
		t.Fatalf("failed to count associations: %v", err)
	}
	if associations != 0 {
		t.Errorf("found %d category associations after rollback, want 0", associations)
	}
}

func TestListPagination(t *testing.T) {
	cleanTables(t)
	repo := NewProductRepository(testDB)
	category := seedCategory(t, "electronics")

	for i := 0; i < 25; i++ {
		createProduct(t, repo, newProduct(
			fmt.Sprintf("SKU-%03d", i),
			fmt.Sprintf("Product %02d", i),
			category,
		))
	}

	opts := pagination.Options{Page: 1, Take: 10}.Normalize()
	products, total, err := repo.List(context.Background(), opts)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if total != 25 {
		t.Errorf("total = %d, want 25", total)
	}
	if len(products) != 10 {
		t.Errorf("got %d products, want 10", len(products))
	}

	opts = pagination.Options{Page: 3, Take: 10}.Normalize()
	products, _, err = repo.List(context.Background(), opts)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(products) != 5 {
		t.Errorf("page 3 returned %d products, want 5", len(products))
	}

	// Repeated reads against unchanged data return identical results
	again, _, err := repo.List(context.Background(), opts)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(again) != len(products) {
		t.Fatalf("repeated read returned %d products, want %d", len(again), len(products))
	}
	for i := range products {
		if products[i].ID != again[i].ID {
			t.Errorf("repeated read differs at index %d", i)
		}
	}
}

func TestListOrderDirection(t *testing.T) {
	cleanTables(t)
	repo := NewProductRepository(testDB)
	category := seedCategory(t, "electronics")

	for i := 0; i < 5; i++ {
		createProduct(t, repo, newProduct(fmt.Sprintf("SKU-%03d", i), fmt.Sprintf("Product %02d", i), category))
	}

	asc, _, err := repo.List(context.Background(), pagination.Options{Page: 1, Take: 5, Order: pagination.SortOrderAsc}.Normalize())
	if err != nil {
		t.Fatalf("List asc returned error: %v", err)
	}
	desc, _, err := repo.List(context.Background(), pagination.Options{Page: 1, Take: 5, Order: pagination.SortOrderDesc}.Normalize())
	if err != nil {
		t.Fatalf("List desc returned error: %v", err)
	}

	if len(asc) != 5 || len(desc) != 5 {
		t.Fatalf("got %d asc / %d desc products, want 5 each", len(asc), len(desc))
	}
	for i := range asc {
		if asc[i].ID != desc[len(desc)-1-i].ID {
			t.Fatalf("desc order is not the reverse of asc order at index %d", i)
		}
	}
}

func TestListAttachesImages(t *testing.T) {
	cleanTables(t)
	repo := NewProductRepository(testDB)
	category := seedCategory(t, "electronics")

	withImages := newProduct("SKU-001", "Margherita", category)
	createProduct(t, repo, withImages, domain.ProductImage{
		ID: uuid.New(), ProductID: withImages.ID, URL: "https://store.example/1.jpg", CreatedAt: time.Now(),
	})
	bare := newProduct("SKU-002", "Marinara", category)
	createProduct(t, repo, bare)

	products, _, err := repo.List(context.Background(), pagination.Options{Page: 1, Take: 10}.Normalize())
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}

	byCode := map[string]*domain.Product{}
	for _, p := range products {
		byCode[p.ProductCode] = p
	}
	if got := len(byCode["SKU-001"].Images); got != 1 {
		t.Errorf("SKU-001 has %d images, want 1", got)
	}
	if got := len(byCode["SKU-002"].Images); got != 0 {
		t.Errorf("SKU-002 has %d images, want 0", got)
	}
	if byCode["SKU-002"].Images == nil {
		t.Error("images slice should be empty, not nil")
	}
}

func TestCategoryFindByIDs(t *testing.T) {
	cleanTables(t)
	repo := NewCategoryRepository(testDB)

	first := seedCategory(t, "electronics")
	second := seedCategory(t, "accessories")

	found, err := repo.FindByIDs(context.Background(), []uuid.UUID{first.ID, second.ID, uuid.New()})
	if err != nil {
		t.Fatalf("FindByIDs returned error: %v", err)
	}
	// The missing id silently resolves to the subset that exists
	if len(found) != 2 {
		t.Errorf("got %d categories, want 2", len(found))
	}

	found, err = repo.FindByIDs(context.Background(), []uuid.UUID{uuid.New()})
	if err != nil {
		t.Fatalf("FindByIDs returned error: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("got %d categories for unknown id, want 0", len(found))
	}

	found, err = repo.FindByIDs(context.Background(), nil)
	if err != nil {
		t.Fatalf("FindByIDs returned error for empty set: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("got %d categories for empty set, want 0", len(found))
	}
}
