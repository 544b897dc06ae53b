package atlasapi

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/kirillkom/atlas-slicer/internal/core/domain"
)

const (
	schemaUploadResponse  = "UploadResponse"
	schemaProcessResponse = "ProcessResponse"
)

//go:embed openapi.yaml
var openAPISpec []byte

// Contract checks service responses against the embedded OpenAPI description.
type Contract struct {
	doc *openapi3.T
}

func LoadContract(ctx context.Context) (*Contract, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openAPISpec)
	if err != nil {
		return nil, fmt.Errorf("load atlas contract: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate atlas contract: %w", err)
	}
	return &Contract{doc: doc}, nil
}

func (c *Contract) ValidateResponse(schema string, raw []byte) error {
	ref, ok := c.doc.Components.Schemas[schema]
	if !ok || ref == nil || ref.Value == nil {
		return domain.WrapError(domain.ErrContract, "validate response", fmt.Errorf("unknown schema %q", schema))
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return domain.WrapError(domain.ErrContract, "validate "+schema, err)
	}
	if err := ref.Value.VisitJSON(value); err != nil {
		return domain.WrapError(domain.ErrContract, "validate "+schema, err)
	}
	return nil
}
