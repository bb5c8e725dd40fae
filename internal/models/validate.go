package models

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator instance. Field names in
// errors use the JSON tag.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// ValidatePayload checks p against its struct tags.
// The returned error carries the VALIDATION_ERROR code.
func ValidatePayload(p Payload) error {
	if p == nil {
		return errors.New(errors.ErrValidation, "payload is required")
	}
	err := Validator().Struct(p)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return errors.Wrap(errors.ErrValidation, "invalid payload", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return errors.New(errors.ErrValidation, fmt.Sprintf("invalid %s: %s", p.Kind(), strings.Join(msgs, "; ")))
}

// ValidateRecord checks the envelope and payload of r.
func ValidateRecord(r *CachedRecord) error {
	if r.ID == "" {
		return errors.New(errors.ErrValidation, "record id is required")
	}
	if !r.EntityType.Valid() {
		return errors.New(errors.ErrValidation, fmt.Sprintf("unknown entity type %q", r.EntityType))
	}
	if !r.SyncStatus.Valid() {
		return errors.New(errors.ErrValidation, fmt.Sprintf("unknown sync status %q", r.SyncStatus))
	}
	if r.Payload == nil || r.Payload.Kind() != r.EntityType {
		return errors.New(errors.ErrValidation, fmt.Sprintf("payload does not match entity type %s", r.EntityType))
	}
	return ValidatePayload(r.Payload)
}
