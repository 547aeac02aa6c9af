package middleware

import (
	"net/http"
	"strings"
	"testing"
)

type createProductPayload struct {
	ProductCode string  `json:"product_code" validate:"required,max=64"`
	Name        string  `json:"name" validate:"required,max=255"`
	Price       float64 `json:"price" validate:"gte=0"`
	Stock       int     `json:"stock" validate:"gte=0"`
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		payload createProductPayload
		wantErr bool
	}{
		{
			name:    "valid payload",
			payload: createProductPayload{ProductCode: "SKU-001", Name: "Margherita", Price: 9.5, Stock: 3},
			wantErr: false,
		},
		{
			name:    "missing product code",
			payload: createProductPayload{Name: "Margherita"},
			wantErr: true,
		},
		{
			name:    "missing name",
			payload: createProductPayload{ProductCode: "SKU-001"},
			wantErr: true,
		},
		{
			name:    "negative price",
			payload: createProductPayload{ProductCode: "SKU-001", Name: "Margherita", Price: -1},
			wantErr: true,
		},
		{
			name:    "negative stock",
			payload: createProductPayload{ProductCode: "SKU-001", Name: "Margherita", Stock: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequest(&tt.payload)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeAndValidate(t *testing.T) {
	body := `{"product_code":"SKU-001","name":"Margherita","price":9.5,"stock":3}`
	req, _ := http.NewRequest("POST", "/api/products", strings.NewReader(body))

	var payload createProductPayload
	if err := DecodeAndValidate(req, &payload); err != nil {
		t.Fatalf("DecodeAndValidate returned error: %v", err)
	}
	if payload.ProductCode != "SKU-001" {
		t.Errorf("ProductCode = %q, want SKU-001", payload.ProductCode)
	}
}

func TestDecodeAndValidateRejectsBadJSON(t *testing.T) {
	req, _ := http.NewRequest("POST", "/api/products", strings.NewReader("{not json"))

	var payload createProductPayload
	if err := DecodeAndValidate(req, &payload); err == nil {
		t.Fatal("expected decode error for malformed JSON")
	}
}

func TestFormatValidationErrors(t *testing.T) {
	err := ValidateRequest(&createProductPayload{Price: -1})
	if err == nil {
		t.Fatal("expected validation error")
	}

	formatted := FormatValidationErrors(err)
	if len(formatted) == 0 {
		t.Fatal("expected formatted validation errors")
	}
	for _, fe := range formatted {
		if fe.Field == "" || fe.Message == "" {
			t.Errorf("formatted error has empty field or message: %+v", fe)
		}
	}
}
