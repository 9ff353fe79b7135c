package main

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// BookValidator checks book payloads against the catalog rules.
type BookValidator struct {
	validate *validator.Validate
}

// NewBookValidator returns a validator which reports fields by their json name
// and knows the `genre` rule.
func NewBookValidator() *BookValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("genre", func(fl validator.FieldLevel) bool {
		return IsKnownGenre(fl.Field().String())
	})
	return &BookValidator{validate: v}
}

// Normalize trims the text fields and lowercases the genre.
func (in *BookInput) Normalize() {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.ISBN = strings.TrimSpace(in.ISBN)
	in.PubDate = strings.TrimSpace(in.PubDate)
	in.Genre = strings.ToLower(strings.TrimSpace(in.Genre))
}

// Validate returns a ValidationError naming the first invalid field.
func (bv *BookValidator) Validate(in *BookInput) error {
	err := bv.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return ValidationError("", err.Error())
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return ValidationError(fe.Field(), fe.Field()+" is required")
	case "datetime":
		return ValidationError(fe.Field(), fe.Field()+" must be a valid YYYY-MM-DD date")
	case "genre":
		return ValidationError(fe.Field(), fe.Field()+" must be one of "+strings.Join(Genres, ", "))
	default:
		return ValidationError(fe.Field(), fe.Field()+" is invalid")
	}
}

// Apply merges the patch into the input built from an existing book.
func (p BookPatch) Apply(in BookInput) BookInput {
	if p.Title != nil {
		in.Title = *p.Title
	}
	if p.Author != nil {
		in.Author = *p.Author
	}
	if p.ISBN != nil {
		in.ISBN = *p.ISBN
	}
	if p.PubDate != nil {
		in.PubDate = *p.PubDate
	}
	if p.Genre != nil {
		in.Genre = *p.Genre
	}
	return in
}

// Input returns the writable fields of the book.
func (b Book) Input() BookInput {
	return BookInput{Title: b.Title, Author: b.Author, ISBN: b.ISBN, PubDate: b.PubDate, Genre: b.Genre}
}
