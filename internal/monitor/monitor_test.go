package monitor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewContractMonitor(t *testing.T) {
	testSchemaContent := `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"title": "TestSchema",
		"type": "object",
		"properties": { "amount": { "type": "string" } },
		"required": ["amount"]
	}`
	schemaDir := t.TempDir()
	schemaFile := filepath.Join(schemaDir, "test_schema.json")
	if err := os.WriteFile(schemaFile, []byte(testSchemaContent), 0644); err != nil {
		t.Fatalf("Failed to write test schema file: %v", err)
	}

	t.Run("SuccessfulLoad", func(t *testing.T) {
		cm, err := NewContractMonitor(schemaFile)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if cm == nil || cm.schema == nil {
			t.Fatal("Expected a compiled ContractMonitor")
		}
		valid, _, err := cm.Validate([]byte(`{"amount": "1.00"}`))
		if err != nil || !valid {
			t.Errorf("Expected valid payload, got valid=%v err=%v", valid, err)
		}
	})

	t.Run("SchemaFileNotFound", func(t *testing.T) {
		_, err := NewContractMonitor(filepath.Join(schemaDir, "missing.json"))
		if err == nil {
			t.Fatal("Expected error for non-existent schema, got nil")
		}
		if !strings.Contains(err.Error(), "error loading or compiling schema") {
			t.Errorf("Unexpected error: %v", err)
		}
	})

	t.Run("InvalidSchemaSyntax", func(t *testing.T) {
		if _, err := NewContractMonitorFromBytes([]byte("{invalid_json")); err == nil {
			t.Fatal("Expected error for invalid schema syntax, got nil")
		}
	})
}

func TestLoadContracts(t *testing.T) {
	c, err := LoadContracts()
	if err != nil {
		t.Fatalf("Failed to load contracts: %v", err)
	}
	for _, name := range []string{
		ContractCreateCustomer,
		ContractCreateOrder,
		ContractCreatePaymentMethod,
		ContractCreatePayment,
		ContractAmount,
	} {
		if _, ok := c.monitors[name]; !ok {
			t.Errorf("Expected contract %q to be loaded", name)
		}
	}

	if _, _, err := c.Validate("unknown", []byte(`{}`)); err == nil {
		t.Error("Expected error for unknown contract")
	}
}

func TestContracts_Validate(t *testing.T) {
	c, err := LoadContracts()
	if err != nil {
		t.Fatalf("Failed to load contracts: %v", err)
	}

	tests := []struct {
		name          string
		contract      string
		payload       string
		expectValid   bool
		expectErrors  bool // validation errors or a functional error from Validate
		errorContains []string
	}{
		{
			name:        "PaymentValid",
			contract:    ContractCreatePayment,
			payload:     `{"id": "p-1", "order_id": "o-1", "payment_method_id": "m-1", "amount": "10.00", "currency": "USD", "capture": true}`,
			expectValid: true,
		},
		{
			name:          "PaymentMissingOrder",
			contract:      ContractCreatePayment,
			payload:       `{"id": "p-1", "payment_method_id": "m-1", "amount": "10.00", "currency": "USD"}`,
			expectErrors:  true,
			errorContains: []string{"order_id is required"},
		},
		{
			name:          "PaymentNumericAmount",
			contract:      ContractCreatePayment,
			payload:       `{"id": "p-1", "order_id": "o-1", "payment_method_id": "m-1", "amount": 10, "currency": "USD"}`,
			expectErrors:  true,
			errorContains: []string{"amount", "Invalid type. Expected: string, given: integer"},
		},
		{
			name:          "PaymentBadCurrency",
			contract:      ContractCreatePayment,
			payload:       `{"id": "p-1", "order_id": "o-1", "payment_method_id": "m-1", "amount": "1", "currency": "dollars"}`,
			expectErrors:  true,
			errorContains: []string{"currency"},
		},
		{
			name:        "AmountOmitted",
			contract:    ContractAmount,
			payload:     `{}`,
			expectValid: true,
		},
		{
			name:          "AmountNegative",
			contract:      ContractAmount,
			payload:       `{"amount": "-1.00"}`,
			expectErrors:  true,
			errorContains: []string{"amount"},
		},
		{
			name:          "CustomerBadEmail",
			contract:      ContractCreateCustomer,
			payload:       `{"id": "c-1", "email": "not-an-email"}`,
			expectErrors:  true,
			errorContains: []string{"email", "Does not match format 'email'"},
		},
		{
			name:        "PaymentMethodWithBilling",
			contract:    ContractCreatePaymentMethod,
			payload:     `{"id": "m-1", "owner_id": "c-1", "payment_method_id": "pm_1", "billing": {"address": {"given_name": "Ada", "country_code": "GB"}}}`,
			expectValid: true,
		},
		{
			name:          "PaymentMethodUnknownField",
			contract:      ContractCreatePaymentMethod,
			payload:       `{"id": "m-1", "pan": "4242424242424242"}`,
			expectErrors:  true,
			errorContains: []string{"Additional property pan is not allowed"},
		},
		{
			name:         "MalformedJSON",
			contract:     ContractCreateOrder,
			payload:      `{"id": "o-1", "amount": "1.00",`,
			expectErrors: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, validationErrs, funcErr := c.Validate(tt.contract, []byte(tt.payload))

			if tt.expectErrors {
				if funcErr == nil && len(validationErrs) == 0 {
					t.Errorf("Expected errors, but got none")
				}
			} else {
				if funcErr != nil {
					t.Errorf("Expected no functional error, got %v", funcErr)
				}
				if len(validationErrs) > 0 {
					t.Errorf("Expected no validation errors, got %v", validationErrs)
				}
			}

			if valid != tt.expectValid {
				t.Errorf("Expected valid=%v, got valid=%v. ValidationErrors: %v, FuncErr: %v", tt.expectValid, valid, validationErrs, funcErr)
			}

			combined := strings.Join(validationErrs, "; ")
			for _, ec := range tt.errorContains {
				if !strings.Contains(combined, ec) {
					t.Errorf("Expected errors to contain '%s', but got: %s", ec, combined)
				}
			}
		})
	}
}

func TestFormatErrors(t *testing.T) {
	tests := []struct {
		name           string
		errors         []string
		expectedOutput string
	}{
		{
			name:           "NoErrors",
			errors:         []string{},
			expectedOutput: "",
		},
		{
			name:           "SingleError",
			errors:         []string{"(root): id is required"},
			expectedOutput: "Validation errors: (root): id is required",
		},
		{
			name:           "MultipleErrors",
			errors:         []string{"Error 1", "Error 2"},
			expectedOutput: "Validation errors: Error 1; Error 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := FormatErrors(tt.errors)
			if output != tt.expectedOutput {
				t.Errorf("Expected '%s', got '%s'", tt.expectedOutput, output)
			}
		})
	}
}
