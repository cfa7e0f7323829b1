package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/erp/crmsync/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// entityTypePattern matches the entity type names used in mapping files
var entityTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// SetupValidator makes gin's validator report json field names and adds the
// sync_mode and entity_type tags. It must run before any handler binds a
// request that uses those tags.
func SetupValidator() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name, _, _ := strings.Cut(fld.Tag.Get(tag), ",")
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return ""
	})
	_ = v.RegisterValidation("sync_mode", func(fl validator.FieldLevel) bool {
		return integration.SyncMode(fl.Field().String()).IsValid()
	})
	_ = v.RegisterValidation("entity_type", func(fl validator.FieldLevel) bool {
		return entityTypePattern.MatchString(fl.Field().String())
	})
}

// FormatValidationErrors turns validator errors into the error envelope
func FormatValidationErrors(err error, requestID string) dto.Response {
	var details []dto.ValidationDetail
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, e := range fieldErrs {
			details = append(details, dto.ValidationDetail{
				Field:   e.Field(),
				Message: getValidationMessage(e),
			})
		}
	}
	return dto.NewValidationErrorResponse("Request validation failed", requestID, details)
}

// HandleValidationError writes a 400 for a failed bind. Malformed JSON
// gets its own code; everything else is reported as a validation error.
func HandleValidationError(c *gin.Context, err error) {
	requestID := getRequestID(c)

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponseWithRequestID(
			dto.ErrCodeInvalidJSON, "Request body is not valid JSON", requestID,
		))
		return
	}
	c.JSON(http.StatusBadRequest, FormatValidationErrors(err, requestID))
}

var fixedMessages = map[string]string{
	"required":    "This field is required",
	"uuid":        "Invalid UUID format",
	"sync_mode":   "Must be full or incremental",
	"entity_type": "Must be a lowercase entity type name",
}

func getValidationMessage(e validator.FieldError) string {
	if msg, ok := fixedMessages[e.Tag()]; ok {
		return msg
	}
	unit := ""
	if e.Kind() == reflect.String {
		unit = " characters"
	}
	switch e.Tag() {
	case "min":
		return "Must be at least " + e.Param() + unit
	case "max":
		return "Must be at most " + e.Param() + unit
	case "oneof":
		return "Must be one of: " + e.Param()
	case "gte":
		return "Must be greater than or equal to " + e.Param()
	case "lte":
		return "Must be less than or equal to " + e.Param()
	default:
		return "Invalid value"
	}
}
