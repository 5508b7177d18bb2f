package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cloo-solutions/lightrag/internal/domain"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeRequest reads a JSON body into dst and validates its struct tags.
// Failures of either step are reported with message.
func decodeRequest(r *http.Request, dst interface{}, message string) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, message, err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			err = verrs
		}
		return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, message, err)
	}
	return nil
}
