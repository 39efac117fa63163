package credstore

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	validate    = newValidator()
	tenantIDPat = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// Tenant IDs end up in URL paths, Redis keys and AMQP routing keys, where
// '.', '*' and '#' have meaning.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("tenantid", func(fl validator.FieldLevel) bool {
		return tenantIDPat.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks a credential set before it is stored. The EncodingAESKey,
// when present, must be the 43 characters the vendor console issues.
func Validate(c *Credentials) error {
	if c == nil {
		return errors.New("credentials are required")
	}
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("invalid credentials: %s", strings.Join(msgs, ", "))
	}
	return nil
}
