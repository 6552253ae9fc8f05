package classroom

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Input limits enforced before any state is touched. The validate tags below
// carry the same numbers.
const (
	MinNameLength     = 2
	MaxNameLength     = 30
	MaxQuestionLength = 200
	MinOptions        = 2
	MaxOptions        = 6
	MaxOptionLength   = 100
	MaxMessageLength  = 500
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type nameInput struct {
	Name string `validate:"min=2,max=30"`
}

type questionInput struct {
	Question string   `validate:"required,max=200"`
	Options  []string `validate:"min=2,max=6,dive,required,max=100"`
}

type messageInput struct {
	Message string `validate:"required,max=500"`
}

// NormalizeName trims a display name and checks its length.
func NormalizeName(name string) (string, error) {
	in := nameInput{Name: strings.TrimSpace(name)}
	if err := check(in); err != nil {
		return "", err
	}
	return in.Name, nil
}

// NormalizeQuestion trims question text and options. Blank options are
// rejected, never dropped, so option indices stay as submitted.
func NormalizeQuestion(question string, options []string) (string, []string, error) {
	in := questionInput{Question: strings.TrimSpace(question)}
	if options != nil {
		in.Options = make([]string, len(options))
		for i, opt := range options {
			in.Options[i] = strings.TrimSpace(opt)
		}
	}
	if err := check(in); err != nil {
		return "", nil, err
	}
	return in.Question, in.Options, nil
}

// NormalizeMessage trims chat text and checks its length.
func NormalizeMessage(text string) (string, error) {
	in := messageInput{Message: strings.TrimSpace(text)}
	if err := check(in); err != nil {
		return "", err
	}
	return in.Message, nil
}

// check validates in and turns the first failing field into an
// ErrValidation with the text sent back to the participant.
func check(in interface{}) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return fmt.Errorf("%w: %s", ErrValidation, describe(fieldErrs[0]))
}

func describe(fe validator.FieldError) string {
	field, index, isElem := strings.Cut(fe.Field(), "[")
	switch field {
	case "Name":
		return fmt.Sprintf("name must be between %d and %d characters", MinNameLength, MaxNameLength)
	case "Question":
		if fe.Tag() == "required" {
			return "question is required"
		}
		return fmt.Sprintf("question must be at most %d characters", MaxQuestionLength)
	case "Options":
		if !isElem {
			return fmt.Sprintf("a poll needs between %d and %d options", MinOptions, MaxOptions)
		}
		n, _ := strconv.Atoi(strings.TrimSuffix(index, "]"))
		if fe.Tag() == "required" {
			return fmt.Sprintf("option %d is empty", n+1)
		}
		return fmt.Sprintf("option %d must be at most %d characters", n+1, MaxOptionLength)
	case "Message":
		if fe.Tag() == "required" {
			return "message is empty"
		}
		return fmt.Sprintf("message must be at most %d characters", MaxMessageLength)
	}
	return fmt.Sprintf("%s failed %s", strings.ToLower(field), fe.Tag())
}
