// Package validation rejects bad payment requests before any provider is
// reached. Results are never partial: every problem found is reported.
package validation

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"

	domainErrors "github.com/cassiomorais/paycore/internal/domain/errors"
	"github.com/cassiomorais/paycore/internal/domain/payment"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	MinAmount       int64
	MaxAmount       int64
	Currency        string
	MaxMetadataKeys int
	MaxKeyLength    int
	MaxValueLength  int
}

func DefaultConfig() Config {
	return Config{
		MinAmount:       100,
		MaxAmount:       9_999_999,
		Currency:        "JPY",
		MaxMetadataKeys: 50,
		MaxKeyLength:    40,
		MaxValueLength:  500,
	}
}

// Result is the outcome of validating one request.
type Result struct {
	Valid  bool
	Errors []string
}

// Err returns nil for a valid result, otherwise a *ValidationError carrying
// every message.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return domainErrors.NewValidationErrors(r.Errors)
}

func newResult(errs []string) Result {
	return Result{Valid: len(errs) == 0, Errors: errs}
}

type Validator struct {
	cfg      Config
	validate *validator.Validate
}

func New(cfg Config) *Validator {
	def := DefaultConfig()
	if cfg.MaxMetadataKeys <= 0 {
		cfg.MaxMetadataKeys = def.MaxMetadataKeys
	}
	if cfg.MaxKeyLength <= 0 {
		cfg.MaxKeyLength = def.MaxKeyLength
	}
	if cfg.MaxValueLength <= 0 {
		cfg.MaxValueLength = def.MaxValueLength
	}
	cfg.Currency = strings.ToUpper(cfg.Currency)

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return &Validator{cfg: cfg, validate: v}
}

func (v *Validator) Config() Config { return v.cfg }

func (v *Validator) ValidateProcess(req payment.ProcessRequest) Result {
	errs := v.structErrors(req)
	errs = append(errs, v.ValidateAmount(req.Amount)...)
	errs = append(errs, v.validateCurrency(req.Currency)...)
	errs = append(errs, v.ValidateMetadata(req.Metadata)...)
	return newResult(errs)
}

func (v *Validator) ValidateIntent(req payment.IntentRequest) Result {
	errs := v.structErrors(req)
	errs = append(errs, v.ValidateAmount(req.Amount)...)
	errs = append(errs, v.validateCurrency(req.Currency)...)
	errs = append(errs, v.ValidateMetadata(req.Metadata)...)
	return newResult(errs)
}

// ValidateRefund checks shape only. Whether the amount fits the original
// transaction is decided against stored state.
func (v *Validator) ValidateRefund(req payment.RefundRequest) Result {
	errs := v.structErrors(req)
	if req.Amount != nil && *req.Amount <= 0 {
		errs = append(errs, fmt.Sprintf("refund amount must be positive, got %d", *req.Amount))
	}
	errs = append(errs, v.ValidateMetadata(req.Metadata)...)
	return newResult(errs)
}

// ValidateAmount enforces the configured bounds, inclusive on both ends.
func (v *Validator) ValidateAmount(amount int64) []string {
	var errs []string
	if amount < v.cfg.MinAmount {
		errs = append(errs, fmt.Sprintf("amount %d is below minimum %d", amount, v.cfg.MinAmount))
	}
	if v.cfg.MaxAmount > 0 && amount > v.cfg.MaxAmount {
		errs = append(errs, fmt.Sprintf("amount %d exceeds maximum %d", amount, v.cfg.MaxAmount))
	}
	return errs
}

func (v *Validator) validateCurrency(currency string) []string {
	if currency == "" || v.cfg.Currency == "" {
		return nil
	}
	if strings.ToUpper(currency) != v.cfg.Currency {
		return []string{fmt.Sprintf("unsupported currency %s, only %s is accepted", currency, v.cfg.Currency)}
	}
	return nil
}

// ValidateMetadata applies the metadata hygiene rules. Keys are checked in
// sorted order so messages are stable.
func (v *Validator) ValidateMetadata(md map[string]string) []string {
	if len(md) == 0 {
		return nil
	}
	var errs []string
	if len(md) > v.cfg.MaxMetadataKeys {
		errs = append(errs, fmt.Sprintf("metadata has %d keys, maximum is %d", len(md), v.cfg.MaxMetadataKeys))
	}

	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		val := md[k]
		switch {
		case k == "":
			errs = append(errs, "metadata key must not be empty")
		case len(k) > v.cfg.MaxKeyLength:
			errs = append(errs, fmt.Sprintf("metadata key %q exceeds %d characters", k, v.cfg.MaxKeyLength))
		case strings.ContainsAny(k, "[]"):
			errs = append(errs, fmt.Sprintf("metadata key %q must not contain square brackets", k))
		case hasControl(k):
			errs = append(errs, fmt.Sprintf("metadata key %q contains control characters", k))
		}
		if len(val) > v.cfg.MaxValueLength {
			errs = append(errs, fmt.Sprintf("metadata value for %q exceeds %d characters", k, v.cfg.MaxValueLength))
		}
		if hasControl(val) {
			errs = append(errs, fmt.Sprintf("metadata value for %q contains control characters", k))
		}
	}
	return errs
}

func (v *Validator) structErrors(s any) []string {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	ves, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{err.Error()}
	}
	errs := make([]string, 0, len(ves))
	for _, fe := range ves {
		errs = append(errs, fieldMessage(fe))
	}
	return errs
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "len":
		return fmt.Sprintf("%s must be %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

func hasControl(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}
