package mapping

import (
	"github.com/go-playground/validator/v10"
)

// EmailValidator はメールアドレスの構文を検証する。
type EmailValidator struct {
	validate *validator.Validate
}

// NewEmailValidator はEmailValidatorを生成する。
func NewEmailValidator() *EmailValidator {
	return &EmailValidator{validate: validator.New()}
}

// Valid はメールアドレスとして妥当かどうかを返す。
func (v *EmailValidator) Valid(email string) bool {
	return v.validate.Var(email, "required,email") == nil
}
