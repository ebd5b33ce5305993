// Package relayreq contains the request DTO of the relay endpoint.
package relayreq

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"ngpt-server/internal/domain/chat"
)

// ErrMissingPrompt reports an absent or empty prompt array.
var ErrMissingPrompt = errors.New("missing prompt")

// RelayRequest is the body of POST /relay: the whole conversation, oldest first.
type RelayRequest struct {
	Prompt []chat.Message `json:"prompt" validate:"required,min=1"`
}

// Validate checks the prompt shape and every message in it.
func (r *RelayRequest) Validate(validate *validator.Validate) error {
	if err := validate.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				if fe.Field() == "Prompt" {
					return ErrMissingPrompt
				}
			}
		}
		return err
	}
	for i, message := range r.Prompt {
		if err := message.Validate(); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return nil
}
