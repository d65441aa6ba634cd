package orders

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// maxDocumentIDBytes is the document store's limit on a document ID.
const maxDocumentIDBytes = 1500

// Validator wraps go-playground/validator with the order-specific tags.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator. Field names in errors are the JSON names.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for an empty tag or nil function.
	_ = v.RegisterValidation("docid", validDocumentID)
	return &Validator{validate: v}
}

// ValidateStruct validates s and returns the offending fields with the
// failed rule, e.g. {"totalOrder": "gte"}.
func (v *Validator) ValidateStruct(s any) (map[string]string, error) {
	err := v.validate.Struct(s)
	if err == nil {
		return nil, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return fields, err
}

// validDocumentID rejects IDs the document store cannot address.
func validDocumentID(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	if id == "" {
		return true
	}
	if id == "." || id == ".." || strings.Contains(id, "/") {
		return false
	}
	if strings.HasPrefix(id, "__") && strings.HasSuffix(id, "__") {
		return false
	}
	return len(id) <= maxDocumentIDBytes
}
