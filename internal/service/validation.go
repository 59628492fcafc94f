package service

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/campus-results-api/internal/models"
	appErrors "github.com/noah-isme/campus-results-api/pkg/errors"
)

var academicYearPattern = regexp.MustCompile(`^\d{4}-\d{4}$`)

// FieldError is one failed validation rule reported to clients.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewValidator returns a validator carrying the academic domain tags and
// reporting fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	register := func(tag string, fn validator.Func) {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(err)
		}
	}
	register("academic_year", func(fl validator.FieldLevel) bool {
		return academicYearPattern.MatchString(fl.Field().String())
	})
	register("semester", oneOfStrings(string(models.SemesterS1), string(models.SemesterS2), string(models.SemesterAnnual)))
	register("evaluation_type", oneOfStrings(string(models.EvaluationCC), string(models.EvaluationExam), string(models.EvaluationRetake),
		string(models.EvaluationProject), string(models.EvaluationPractical)))
	register("exam_period", oneOfStrings(string(models.ExamPeriodMidterm), string(models.ExamPeriodFinal), string(models.ExamPeriodQuiz),
		string(models.ExamPeriodAssignment), string(models.ExamPeriodProject), string(models.ExamPeriodPractical)))
	register("exam_attendance", oneOfStrings(string(models.AttendancePresent), string(models.AttendanceAbsent), string(models.AttendanceExcused)))
	register("grading_system", oneOfStrings(string(models.GradingNumeric20), string(models.GradingNumeric100), string(models.GradingLetter), string(models.GradingGPA)))
	register("signature_method", oneOfStrings(string(models.SignatureClick), string(models.SignatureOTP), string(models.SignatureBiometric)))
	return v
}

// oneOfStrings accepts the listed values; empty strings pass so the tag
// composes with omitempty and required.
func oneOfStrings(values ...string) validator.Func {
	allowed := make(map[string]struct{}, len(values))
	for _, v := range values {
		allowed[v] = struct{}{}
	}
	return func(fl validator.FieldLevel) bool {
		field := fl.Field()
		for field.Kind() == reflect.Ptr {
			if field.IsNil() {
				return true
			}
			field = field.Elem()
		}
		if field.String() == "" {
			return true
		}
		_, ok := allowed[field.String()]
		return ok
	}
}

// validationError converts validator output into a ValidationFailure with
// per-field details.
func validationError(err error, message string) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
	}
	details := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, FieldError{Field: fe.Field(), Message: describeRule(fe)})
	}
	return appErrors.WithDetails(appErrors.ErrValidation, message, details)
}

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "academic_year":
		return "must match YYYY-YYYY"
	case "gte", "min":
		return "must be at least " + fe.Param()
	case "lte", "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "uuid", "uuid4":
		return "must be a valid identifier"
	default:
		return "is invalid (" + fe.Tag() + ")"
	}
}
