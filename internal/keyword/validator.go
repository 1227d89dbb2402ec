package keyword

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"pagegraph-backend/internal/domain"
	appErrors "pagegraph-backend/pkg/errors"
)

// keywordSchema mirrors KeywordIdentifier for struct-tag validation.
type keywordSchema struct {
	ID         string  `validate:"required,uuid_rfc4122"`
	Canonical  string  `validate:"required,min=2,max=200"`
	Normalized string  `validate:"required,lowercase"`
	Type       string  `validate:"required,oneof=entity concept term custom"`
	Score      float64 `validate:"gte=0,lte=1"`
}

// Validator checks processed keywords before they are emitted. Invalid
// keywords are dropped by the processor.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a keyword validator.
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate checks a keyword's structural invariants.
func (v *Validator) Validate(kw *domain.KeywordIdentifier) error {
	if kw == nil {
		return appErrors.NewValidation("keyword is nil")
	}
	schema := keywordSchema{
		ID:         kw.ID,
		Canonical:  kw.Canonical,
		Normalized: kw.Normalized,
		Type:       string(kw.Type),
		Score:      kw.Score,
	}
	if err := v.validate.Struct(schema); err != nil {
		return appErrors.NewValidationf("keyword %q invalid: %v", kw.Canonical, err)
	}
	if !kw.HasVariant(kw.Canonical) {
		return appErrors.NewValidationf("keyword %q missing canonical variant", kw.Canonical)
	}
	if kw.Normalized != Normalize(kw.Normalized) {
		return appErrors.NewValidationf("keyword %q normalized form not collapsed", kw.Canonical)
	}
	if strings.TrimSpace(kw.Canonical) == "" {
		return appErrors.NewValidation("keyword canonical text is blank")
	}
	return nil
}
