package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// cronParser accepts 5 or 6 field cron specs and descriptors such as
// "@every 5m".
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json paths ("telegram.poll_timeout") instead of Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("duration", validDuration); err != nil {
		panic(fmt.Sprintf("register duration validator: %v", err))
	}
	if err := v.RegisterValidation("cronspec", validCronSpec); err != nil {
		panic(fmt.Sprintf("register cronspec validator: %v", err))
	}
	return v
}

func validDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(strings.TrimSpace(fl.Field().String()))
	return err == nil && d >= 0
}

func validCronSpec(fl validator.FieldLevel) bool {
	_, err := cronParser.Parse(strings.TrimSpace(fl.Field().String()))
	return err == nil
}

// Validate checks cfg and returns one error per failing field.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fmt.Errorf("%s: %s", fieldPath(fe.Namespace()), describe(fe)))
	}
	return errors.Join(out...)
}

// fieldPath drops the root type name from the validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return "is required when " + strings.ReplaceAll(fe.Param(), " ", "=")
	case "duration":
		return fmt.Sprintf("invalid duration %q", fe.Value())
	case "cronspec":
		return fmt.Sprintf("invalid schedule %q", fe.Value())
	case "timezone":
		return fmt.Sprintf("unknown time zone %q", fe.Value())
	case "oneof":
		return fmt.Sprintf("%v is not one of [%s]", fe.Value(), fe.Param())
	default:
		return fmt.Sprintf("failed %s=%s (value %v)", fe.Tag(), fe.Param(), fe.Value())
	}
}
