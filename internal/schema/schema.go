// Package schema parses inbound request bodies and stored chat documents into models, reporting
// every shape violation as a field-level error instead of failing on the first one.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/MegaGrindStone/chatrelay/internal/models"
	"github.com/go-playground/validator/v10"
)

// Result is the outcome of parsing: either a Value, or the list of field errors that prevented
// producing one.
type Result[T any] struct {
	Value  T
	Errors []models.FieldError
}

// OK reports whether parsing succeeded.
func (r Result[T]) OK() bool {
	return len(r.Errors) == 0
}

// Err converts a failed result into a *models.ValidationError with the given message. It returns
// nil for a successful result.
func (r Result[T]) Err(message string) error {
	if r.OK() {
		return nil
	}
	return &models.ValidationError{Message: message, Fields: r.Errors}
}

type rawMessage struct {
	Role         *string `json:"role" validate:"required,oneof=user assistant system"`
	Content      *string `json:"content" validate:"required"`
	ResponseTime *int64  `json:"responseTime" validate:"omitempty,gte=0"`
	IsFlagged    *bool   `json:"isFlagged"`
}

type rawChat struct {
	Title       *string      `json:"title" validate:"required"`
	IsAnswering *bool        `json:"isAnswering" validate:"required"`
	Messages    []rawMessage `json:"messages" validate:"required,dive"`
	CreatedAt   *time.Time   `json:"createdAt" validate:"required"`
	UpdatedAt   *time.Time   `json:"updatedAt" validate:"required"`
}

type rawNewChat struct {
	Title *string `json:"title" validate:"omitempty,max=200"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report field paths with their JSON names, as the client sent them.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ParseChatID checks that id has the shape of a chat identifier.
func ParseChatID(id string) Result[string] {
	if err := validate.Var(id, fmt.Sprintf("len=%d,alphanum", models.ChatIDLength)); err != nil {
		return Result[string]{Errors: fieldErrors(err, "chatId")}
	}
	return Result[string]{Value: id}
}

// ParseMessage parses a JSON message body. responseTime and isFlagged are validated but not
// returned: only the server sets them.
func ParseMessage(body []byte) Result[models.Message] {
	var raw rawMessage
	if errs := decode(body, &raw); errs != nil {
		return Result[models.Message]{Errors: errs}
	}
	if err := validate.Struct(raw); err != nil {
		return Result[models.Message]{Errors: fieldErrors(err, "")}
	}
	return Result[models.Message]{Value: models.Message{
		Role:    models.Role(*raw.Role),
		Content: *raw.Content,
	}}
}

// ParseNewChat parses the optional body of a chat creation request and returns the requested
// title. An empty body or a missing title yields an empty title.
func ParseNewChat(body []byte) Result[string] {
	if len(bytes.TrimSpace(body)) == 0 {
		return Result[string]{}
	}

	var raw rawNewChat
	if errs := decode(body, &raw); errs != nil {
		return Result[string]{Errors: errs}
	}
	if err := validate.Struct(raw); err != nil {
		return Result[string]{Errors: fieldErrors(err, "")}
	}
	if raw.Title == nil {
		return Result[string]{}
	}
	return Result[string]{Value: strings.TrimSpace(*raw.Title)}
}

// ParseChat parses a stored chat document. The chat ID is taken from the document, not from its
// fields.
func ParseChat(doc models.Document) Result[models.Chat] {
	var raw rawChat
	if errs := decode(doc.Data, &raw); errs != nil {
		return Result[models.Chat]{Errors: errs}
	}
	if err := validate.Struct(raw); err != nil {
		return Result[models.Chat]{Errors: fieldErrors(err, "")}
	}

	messages := make([]models.Message, len(raw.Messages))
	for i, m := range raw.Messages {
		messages[i] = m.message()
	}
	return Result[models.Chat]{Value: models.Chat{
		ID:          doc.ID,
		Title:       *raw.Title,
		IsAnswering: *raw.IsAnswering,
		Messages:    messages,
		CreatedAt:   *raw.CreatedAt,
		UpdatedAt:   *raw.UpdatedAt,
	}}
}

func (r rawMessage) message() models.Message {
	return models.Message{
		Role:         models.Role(*r.Role),
		Content:      *r.Content,
		ResponseTime: r.ResponseTime,
		IsFlagged:    r.IsFlagged,
	}
}

func decode(data []byte, v any) []models.FieldError {
	if len(bytes.TrimSpace(data)) == 0 {
		return []models.FieldError{{Code: "invalid_json", Message: "body is empty"}}
	}
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		path := typeErr.Field
		return []models.FieldError{{
			Path:    path,
			Code:    "invalid_type",
			Message: fmt.Sprintf("expected %s, got %s", jsonType(typeErr.Type), typeErr.Value),
		}}
	}
	return []models.FieldError{{Code: "invalid_json", Message: err.Error()}}
}

func jsonType(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice:
		return "array"
	default:
		return "object"
	}
}

// fieldErrors converts validator errors into field errors. A var validation has no namespace,
// so fallback names the field instead.
func fieldErrors(err error, fallback string) []models.FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []models.FieldError{{Path: fallback, Code: "invalid", Message: err.Error()}}
	}

	res := make([]models.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		path := fallback
		// Namespace starts with the struct type name, which means nothing to the client.
		if _, rest, ok := strings.Cut(fe.Namespace(), "."); ok {
			path = rest
		}
		res = append(res, models.FieldError{
			Path:    path,
			Code:    fe.Tag(),
			Message: describe(fe),
		})
	}
	return res
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "max":
		return fmt.Sprintf("must be at most %s characters long", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters long", fe.Param())
	case "alphanum":
		return "must contain only letters and digits"
	default:
		return "failed on " + fe.Tag()
	}
}
