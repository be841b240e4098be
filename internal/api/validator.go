package api

import (
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"classcast/pkg/types"
)

var (
	// custom validation tags & texts
	langCodeTag  = "langcode"
	langCodeText = "{0} must be a language code such as en, hi or pt-BR"

	requiredTag  = "required"
	requiredText = "this field is required"
)

// requestValidator adapts validator/v10 to echo.Validator
type requestValidator struct {
	validate   *validator.Validate
	translator ut.Translator
}

func newRequestValidator() *requestValidator {
	validate := validator.New()

	// Register the english error messages for validation errors.
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(langCodeTag, langCodeValidation)
	registerTranslation(validate, translator, langCodeTag, langCodeText, false)
	registerTranslation(validate, translator, requiredTag, requiredText, true)

	return &requestValidator{validate: validate, translator: translator}
}

func (v *requestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

// fieldErrors renders validation errors keyed by json field name
func (v *requestValidator) fieldErrors(errs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(errs))
	for _, fe := range errs {
		out[fe.Field()] = fe.Translate(v.translator)
	}
	return out
}

func registerTranslation(validate *validator.Validate, translator ut.Translator, tag, text string, override bool) {
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, override) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// langCodeValidation accepts codes like en, hi, pt-BR after normalization
func langCodeValidation(fl validator.FieldLevel) bool {
	return types.IsValidLanguage(types.NormalizeLanguage(fl.Field().String()))
}
