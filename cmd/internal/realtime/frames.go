package realtime

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	v1 "relay/shared/contracts/relay/v1"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report wire names (userId, fileName) instead of Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// textFrame is the validated shape of a text send request.
type textFrame struct {
	Content string `json:"content" validate:"required,max=4000"`
}

// mediaFrame is the validated shape of a media send request.
type mediaFrame struct {
	FileName string `json:"fileName" validate:"required,max=255"`
	MimeType string `json:"mimeType" validate:"omitempty,max=255"`
	Content  string `json:"content" validate:"required"`
}

// decodeInbound parses and structurally validates one client frame. The partially decoded frame is
// returned with the error.
func decodeInbound(data []byte) (v1.Inbound, error) {
	in, err := v1.DecodeInbound(data)
	if err != nil {
		return in, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	return in, nil
}

// validateFrame runs struct validation and flattens the first failure into a readable message.
func validateFrame(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("missing field: %s", fe.Field())
	case "max":
		return fmt.Errorf("field %s exceeds %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Errorf("invalid field: %s", fe.Field())
	}
}
