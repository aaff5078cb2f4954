package user

import (
	"fmt"
	"strings"
	"unicode"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/kazi/core"
)

var (
	roleTag  = "role"
	roleText = "invalid role"

	// password policy
	pwdMinLen     = 8
	pwdMinLenTag  = "pwdminlen"
	pwdMinLenText = fmt.Sprintf("password must contain at least %d characters", pwdMinLen)

	pwdNoSpaceTag  = "pwdnospace"
	pwdNoSpaceText = "password must not contain whitespace"

	pwdNotAllNumTag  = "pwdnotallnum"
	pwdNotAllNumText = "password cannot be entirely numeric"

	pwdMaxSim      = .7
	pwdAttrSimTag  = "pwdtoosim"
	pwdAttrSimText = "password cannot be similar to user attributes"
)

// InitValidators registers the user validators and their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(roleTag, roleValidation)
	core.RegisterCustomTranslation(validate, translator, roleTag, roleText)

	validate.RegisterStructValidation(userStructValidation, NewUser{}, UpdateUser{})
	core.RegisterCustomTranslation(validate, translator, pwdMinLenTag, pwdMinLenText)
	core.RegisterCustomTranslation(validate, translator, pwdNoSpaceTag, pwdNoSpaceText)
	core.RegisterCustomTranslation(validate, translator, pwdNotAllNumTag, pwdNotAllNumText)
	core.RegisterCustomTranslation(validate, translator, pwdAttrSimTag, pwdAttrSimText)
}

// Custom Validators

// roleValidation checks that the provided role is one of AllRoles
func roleValidation(fl validator.FieldLevel) bool {
	role := fl.Field().String()
	for _, r := range AllRoles {
		if r == role {
			return true
		}
	}
	return false
}

// userStructValidation does struct level validation on NewUser and UpdateUser structs.
func userStructValidation(sl validator.StructLevel) {
	switch usr := sl.Current().Interface().(type) {
	case NewUser:
		if usr.Password != "" {
			validatePassword(usr.Password, sl, usr.FirstName, usr.LastName, usr.Email, usr.NationalID)
		}
	case UpdateUser:
		if usr.Password != "" {
			validatePassword(usr.Password, sl, usr.FirstName, usr.LastName, usr.Email, usr.nationalID)
		}
	}
}

// validatePassword applies the password policy to provided password:
// - minLen: 8
// - no whitespace
// - not all numeric
// - no user attrs similarity
func validatePassword(pwd string, sl validator.StructLevel, attrs ...string) {
	reportErr := func(tag string) {
		sl.ReportError(pwd, "password", "Password", tag, "")
	}

	pwdLen := len([]rune(pwd))
	if pwdLen < pwdMinLen {
		reportErr(pwdMinLenTag)
		return
	}

	var digitCount int
	for _, char := range pwd {
		if unicode.IsSpace(char) {
			reportErr(pwdNoSpaceTag)
			return
		}
		if unicode.IsDigit(char) {
			digitCount++
		}
	}
	if digitCount == pwdLen {
		reportErr(pwdNotAllNumTag)
		return
	}

	lpwd := strings.ToLower(pwd)
	for _, attr := range attrs {
		if attr == "" {
			continue
		}
		ratio := difflib.NewMatcher(strings.Split(lpwd, ""), strings.Split(strings.ToLower(attr), "")).QuickRatio()
		if ratio >= pwdMaxSim {
			reportErr(pwdAttrSimTag)
			return
		}
	}
}
