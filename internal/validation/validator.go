// Package validation checks API request bodies.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/lorawan-server/lorawan-join-server/pkg/lorawan"
)

// Validator validates structs using their validate tags.
type Validator struct {
	v *validator.Validate
}

// NewValidator creates a new validator with the join server rules
// registered:
//
//	eui64       16 hex characters
//	devaddr     8 hex characters
//	aes128key   32 hex characters
//	lorawan     a protocol version accepted by lorawan.ParseProtocolVersion
func NewValidator() *Validator {
	v := validator.New()

	// report json names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterValidation("eui64", hexOfLen(16))
	v.RegisterValidation("devaddr", hexOfLen(8))
	v.RegisterValidation("aes128key", hexOfLen(32))
	v.RegisterValidation("lorawan", func(fl validator.FieldLevel) bool {
		_, err := lorawan.ParseProtocolVersion(fl.Field().String())
		return err == nil
	})

	return &Validator{v: v}
}

// Validate validates a struct
func (v *Validator) Validate(s interface{}) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s: field is required", fe.Field())
	case "eui64", "devaddr", "aes128key":
		return fmt.Sprintf("%s: must be a hex encoded %s", fe.Field(), fe.Tag())
	case "lorawan":
		return fmt.Sprintf("%s: unknown protocol version", fe.Field())
	case "min", "max", "len":
		return fmt.Sprintf("%s: %s length is %s", fe.Field(), fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag())
	}
}

func hexOfLen(n int) validator.Func {
	return func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if len(s) != n {
			return false
		}
		for _, c := range s {
			if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
				return false
			}
		}
		return true
	}
}
