package render

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

func configureValidator(validate *validator.Validate) {
	// Return on 'TagName' json tag instead of struct name
	// Look at documentation of 'RegisterTagNameFunc' for more details
	validate.RegisterTagNameFunc(useJSONTagNames)
}

func useJSONTagNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	// skip if tag key says it should be ignored
	if name == "-" {
		return ""
	}
	return name
}

// User-friendly message for failed validation tag
func fieldErrorMessage(fieldError validator.FieldError) string {
	switch fieldError.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return fmt.Sprintf("Value is too short (minimum %s)", fieldError.Param())
	case "max":
		return fmt.Sprintf("Value is too long (maximum %s)", fieldError.Param())
	case "email":
		return "Invalid email address"
	case "uuid":
		return "Invalid UUID"
	case "oneof":
		return fmt.Sprintf("Value must be one of: %s", fieldError.Param())
	default:
		return "Invalid value"
	}
}
