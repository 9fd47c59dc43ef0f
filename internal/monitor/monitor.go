// Package monitor validates HTTP request bodies against JSON schema
// contracts before they reach the gateway.
package monitor

import (
	"embed"
	"fmt"
	"path"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Contract names, one per request body the server accepts.
const (
	ContractCreateCustomer      = "create_customer"
	ContractCreateOrder         = "create_order"
	ContractCreatePaymentMethod = "create_payment_method"
	ContractCreatePayment       = "create_payment"
	ContractAmount              = "amount"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ContractMonitor validates incoming requests against a JSON schema.
type ContractMonitor struct {
	schema *gojsonschema.Schema
}

// NewContractMonitor creates a new ContractMonitor with the given schema file path.
// The schemaPath should be an absolute path or relative to the execution directory.
func NewContractMonitor(schemaPath string) (*ContractMonitor, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewReferenceLoader("file://" + schemaPath))
	if err != nil {
		return nil, fmt.Errorf("error loading or compiling schema %s: %w", schemaPath, err)
	}
	return &ContractMonitor{schema: schema}, nil
}

// NewContractMonitorFromBytes compiles an in-memory schema.
func NewContractMonitorFromBytes(schema []byte) (*ContractMonitor, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("error compiling schema: %w", err)
	}
	return &ContractMonitor{schema: compiled}, nil
}

// Validate validates the given request body against the loaded JSON schema.
// It returns true if valid, or false and a list of validation errors if invalid.
func (cm *ContractMonitor) Validate(requestBody []byte) (bool, []string, error) {
	result, err := cm.schema.Validate(gojsonschema.NewBytesLoader(requestBody))
	if err != nil {
		return false, nil, fmt.Errorf("error during validation: %w", err)
	}

	if result.Valid() {
		return true, nil, nil
	}

	var errors []string
	for _, desc := range result.Errors() {
		errors = append(errors, desc.String())
	}
	return false, errors, nil
}

// Contracts holds the compiled request contracts by name.
type Contracts struct {
	monitors map[string]*ContractMonitor
}

// LoadContracts compiles every embedded request schema.
func LoadContracts() (*Contracts, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("monitor: read schemas: %w", err)
	}
	c := &Contracts{monitors: make(map[string]*ContractMonitor, len(entries))}
	for _, e := range entries {
		raw, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("monitor: read %s: %w", e.Name(), err)
		}
		cm, err := NewContractMonitorFromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("monitor: %s: %w", e.Name(), err)
		}
		c.monitors[strings.TrimSuffix(e.Name(), ".json")] = cm
	}
	return c, nil
}

// Validate checks body against the named contract.
func (c *Contracts) Validate(name string, body []byte) (bool, []string, error) {
	cm, ok := c.monitors[name]
	if !ok {
		return false, nil, fmt.Errorf("monitor: unknown contract %q", name)
	}
	return cm.Validate(body)
}

// FormatErrors formats a slice of validation error strings into a single string.
func FormatErrors(validationErrors []string) string {
	if len(validationErrors) == 0 {
		return ""
	}
	return "Validation errors: " + strings.Join(validationErrors, "; ")
}
