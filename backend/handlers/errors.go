package handlers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/stripe/stripe-go/v82"
)

var (
	ErrNotAuthenticated     = errors.New("User not authenticated")
	ErrEmailMismatch        = errors.New("Email does not match authenticated user")
	ErrCustomerMismatch     = errors.New("Customer does not belong to authenticated user")
	ErrSubscriptionMismatch = errors.New("Subscription does not belong to authenticated user")
	ErrInvalidAction        = errors.New("Invalid action")
)

// errorMessage is what the caller sees. Stripe errors render as JSON by
// default, so only their message is kept.
func errorMessage(err error) string {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		return stripeErr.Msg
	}
	return err.Error()
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			fields = append(fields, fmt.Sprintf("%s is required", fe.Field()))
			continue
		}
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("Validation failed: %s", strings.Join(fields, ", "))
}
