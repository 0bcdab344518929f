package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/savage-app/savage/internal/store"
	"github.com/savage-app/savage/types"
	"golang.org/x/crypto/bcrypt"
)

var alnumDashPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type actorKey struct{}

// WithActor attaches the signed-in user to ctx for rules that depend on who
// is submitting the form.
func WithActor(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, actorKey{}, user)
}

func actorFromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(actorKey{}).(types.User)
	return user, ok && user.ID > 0
}

type userLookup interface {
	GetByUsername(ctx context.Context, username string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
}

// Validator checks submitted forms against their validate tags, including
// the rules that consult the user store.
type Validator struct {
	validate *validator.Validate
	users    userLookup
}

func NewValidator(users userLookup) *Validator {
	v := &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		users:    users,
	}

	v.validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		if name := field.Tag.Get("form"); name != "" && name != "-" {
			return name
		}
		return field.Name
	})

	_ = v.validate.RegisterValidation("alnumdash", func(fl validator.FieldLevel) bool {
		return alnumDashPattern.MatchString(fl.Field().String())
	})
	_ = v.validate.RegisterValidationCtx("unique_username", v.uniqueUsername)
	_ = v.validate.RegisterValidationCtx("unique_email", v.uniqueEmail)
	_ = v.validate.RegisterValidationCtx("valid_username", v.validUsername)
	_ = v.validate.RegisterValidationCtx("not_auth_username", notAuthUsername)
	_ = v.validate.RegisterValidationCtx("matches_current_password", matchesCurrentPassword)

	return v
}

// Validate returns a *ValidationError when form breaks any rule.
func (v *Validator) Validate(ctx context.Context, form any) error {
	err := v.validate.StructCtx(ctx, form)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate form: %w", err)
	}

	formType := reflect.Indirect(reflect.ValueOf(form)).Type()
	out := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		if _, seen := out.Fields[fe.Field()]; seen {
			continue
		}
		out.Fields[fe.Field()] = fieldMessage(fe, formType)
	}
	return out
}

func (v *Validator) uniqueUsername(ctx context.Context, fl validator.FieldLevel) bool {
	_, err := v.users.GetByUsername(ctx, fl.Field().String())
	return errors.Is(err, store.ErrNotFound)
}

// uniqueEmail passes when the address is unused or already belongs to the
// submitting user.
func (v *Validator) uniqueEmail(ctx context.Context, fl validator.FieldLevel) bool {
	existing, err := v.users.GetByEmail(ctx, fl.Field().String())
	if errors.Is(err, store.ErrNotFound) {
		return true
	}
	if err != nil {
		return false
	}
	actor, ok := actorFromContext(ctx)
	return ok && actor.ID == existing.ID
}

func (v *Validator) validUsername(ctx context.Context, fl validator.FieldLevel) bool {
	_, err := v.users.GetByUsername(ctx, fl.Field().String())
	return err == nil
}

func notAuthUsername(ctx context.Context, fl validator.FieldLevel) bool {
	actor, ok := actorFromContext(ctx)
	if !ok {
		return true
	}
	// Usernames are unique and looked up case-sensitively, so "Bob" may
	// message "bob".
	return actor.Username != fl.Field().String()
}

func matchesCurrentPassword(ctx context.Context, fl validator.FieldLevel) bool {
	actor, ok := actorFromContext(ctx)
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(actor.PasswordHash), []byte(fl.Field().String())) == nil
}

func fieldMessage(fe validator.FieldError, formType reflect.Type) string {
	label := labelOf(formType, fe.StructField())

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required.", label)
	case "max":
		return fmt.Sprintf("%s must be a maximum of %s characters.", label, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be a minimum of %s characters.", label, fe.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email address.", label)
	case "alnumdash":
		return fmt.Sprintf("%s may only contain letters, numbers, dashes and underscores.", label)
	case "eqfield":
		return fmt.Sprintf("%s must match %s.", label, labelOf(formType, fe.Param()))
	case "unique_username":
		return "That username is already taken."
	case "unique_email":
		return "That e-mail is already in use."
	case "valid_username":
		return fmt.Sprintf("%s must be an existing username.", label)
	case "not_auth_username":
		return "You cannot send a message to yourself."
	case "matches_current_password":
		return fmt.Sprintf("%s does not match your current password.", label)
	default:
		return fmt.Sprintf("%s is invalid.", label)
	}
}

func labelOf(formType reflect.Type, fieldName string) string {
	if field, ok := formType.FieldByName(fieldName); ok {
		if label := field.Tag.Get("label"); label != "" {
			return label
		}
	}
	return fieldName
}
