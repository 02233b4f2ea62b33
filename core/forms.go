package core

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type loginForm struct {
	Username string `form:"username" json:"username" validate:"required,max=64"`
	Password string `form:"password" json:"password" validate:"required,max=128"`
	Next     string `form:"next" json:"-"`
}

type courseForm struct {
	Name        string `form:"name" validate:"required,max=200"`
	Description string `form:"description" validate:"max=2000"`
}

// courseUpdateForm leaves blank fields untouched.
type courseUpdateForm struct {
	Name        string `form:"name" validate:"max=200"`
	Description string `form:"description" validate:"max=2000"`
}

type groupForm struct {
	Name        string `form:"name" validate:"required,max=100"`
	Description string `form:"description" validate:"max=1000"`
}

type groupUpdateForm struct {
	Name        string `form:"name" validate:"max=100"`
	Description string `form:"description" validate:"max=1000"`
}

type userForm struct {
	Username    string `form:"username" validate:"required,alphanum,min=3,max=32"`
	Email       string `form:"email" validate:"required,email"`
	Password    string `form:"password" validate:"required,min=8,max=128"`
	DisplayName string `form:"display_name" validate:"max=100"`
	Role        string `form:"role" validate:"omitempty,oneof=user manager admin"`
}

func (f courseForm) input() CourseInput {
	return CourseInput{Name: strPtr(strings.TrimSpace(f.Name)), Description: strPtr(strings.TrimSpace(f.Description))}
}

func (f courseUpdateForm) input() CourseInput {
	return CourseInput{Name: optional(f.Name), Description: optional(f.Description)}
}

func (f groupForm) input() GroupInput {
	return GroupInput{Name: strPtr(strings.TrimSpace(f.Name)), Description: strPtr(strings.TrimSpace(f.Description))}
}

func (f groupUpdateForm) input() GroupInput {
	return GroupInput{Name: optional(f.Name), Description: optional(f.Description)}
}

func (f userForm) input() UserInput {
	return UserInput{
		Username:    strings.TrimSpace(f.Username),
		Email:       strings.TrimSpace(f.Email),
		Password:    f.Password,
		DisplayName: strings.TrimSpace(f.DisplayName),
		Role:        Role(f.Role),
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// newValidator reports field errors under their form names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"form", "json"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// validationMessage renders validator errors as one alert line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "The form is invalid."
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ReplaceAll(fe.Field(), "_", " ")
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "email":
			msgs = append(msgs, field+" must be a valid email address")
		case "min":
			msgs = append(msgs, field+" must be at least "+fe.Param()+" characters")
		case "max":
			msgs = append(msgs, field+" must be at most "+fe.Param()+" characters")
		case "oneof":
			msgs = append(msgs, field+" must be one of "+fe.Param())
		case "alphanum":
			msgs = append(msgs, field+" may only contain letters and digits")
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}
