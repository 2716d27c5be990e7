package nodes

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/dukex/flowline/pkg/protocol"
	"github.com/go-playground/validator/v10"
)

var (
	validate = newValidator()

	variableNamePattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}

		return name
	})

	_ = v.RegisterValidation("varname", func(fl validator.FieldLevel) bool {
		return variableNamePattern.MatchString(fl.Field().String())
	})

	return v
}

// Decode converts a node data bag into the typed configuration out, then
// validates its struct tags. Both failures are ConfigurationErrors.
func Decode(nodeID string, data map[string]any, out any) error {
	if data == nil {
		data = map[string]any{}
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return protocol.WrapConfigurationError(nodeID, "encode node data", err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return protocol.WrapConfigurationError(nodeID, "decode node data", err)
	}

	if err := validate.Struct(out); err != nil {
		return &protocol.ConfigurationError{NodeID: nodeID, Message: DescribeValidation(err), Err: err}
	}

	return nil
}

// DescribeValidation turns validator errors into a short human message.
func DescribeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))

	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		case "varname":
			msgs = append(msgs, fe.Field()+" must start with a letter or underscore and contain only letters, numbers and underscores")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}

	return strings.Join(msgs, "; ")
}
