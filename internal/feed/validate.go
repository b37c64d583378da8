package feed

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// ValidationError reports an entity the feed returned in an unusable shape.
type ValidationError struct {
	EMID   string
	Fields []string
	err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid entity %q: %v", e.EMID, e.err)
}

func (e *ValidationError) Unwrap() error {
	return e.err
}

// Validate checks an entity against its struct constraints.
func Validate(e Entity) error {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	err := validate.Struct(e)
	if err == nil {
		return nil
	}
	verr := &ValidationError{EMID: e.EMID, err: err}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			verr.Fields = append(verr.Fields, fe.Field())
		}
	}
	return verr
}
