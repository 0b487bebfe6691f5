// Package validator wires go-playground/validator into Gin binding with
// English messages and the proctoring-specific rules.
package validator

import (
	"errors"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// TagProctorKind accepts only raw event kinds a signal source listens to.
const TagProctorKind = "proctor_kind"

var trans ut.Translator

// Setup registers field naming, translations and custom rules on Gin's
// validator. Call once at startup.
func Setup() {
	v, ok := binding.Validator.Engine().(*govalidator.Validate)
	if !ok {
		return
	}

	v.RegisterTagNameFunc(jsonName)

	enLocale := en.New()
	trans, _ = ut.New(enLocale, enLocale).GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, trans)

	_ = v.RegisterValidation(TagProctorKind, func(fl govalidator.FieldLevel) bool {
		_, known := proctor.FamilyOf(proctor.Kind(fl.Field().String()))
		return known
	})
	_ = v.RegisterTranslation(TagProctorKind, trans,
		func(u ut.Translator) error {
			return u.Add(TagProctorKind, "{0} is not a monitored event kind", true)
		},
		func(u ut.Translator, fe govalidator.FieldError) string {
			msg, _ := u.T(TagProctorKind, fe.Field())
			return msg
		},
	)
}

// jsonName reports fields by their JSON (or form) name.
func jsonName(fld reflect.StructField) string {
	tag := fld.Tag.Get("json")
	if tag == "" {
		tag = fld.Tag.Get("form")
	}
	name := strings.SplitN(tag, ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// TranslateErrors maps a binding error to field → message. Errors that are
// not validation errors land under "detail".
func TranslateErrors(err error) map[string]string {
	var ve govalidator.ValidationErrors
	if !errors.As(err, &ve) {
		return map[string]string{"detail": err.Error()}
	}

	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[fe.Field()] = fe.Translate(trans)
	}
	return fields
}

// Bind decodes and validates a JSON body. It returns nil on success.
func Bind(c *gin.Context, dst interface{}) map[string]string {
	if err := c.ShouldBindJSON(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}

// BindQuery decodes and validates query parameters.
func BindQuery(c *gin.Context, dst interface{}) map[string]string {
	if err := c.ShouldBindQuery(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}
