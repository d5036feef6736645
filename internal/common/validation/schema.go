// internal/common/validation/schema.go
package validation

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"doerhub-agent/internal/common/errors"
)

// serviceRequestSchema constrains the payload sent when opening a service request.
var serviceRequestSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"provider": map[string]interface{}{
			"type": "integer",
		},
		"service_category": map[string]interface{}{
			"type": "integer",
		},
		"description": map[string]interface{}{
			"type":      "string",
			"minLength": 1,
			"maxLength": 2000,
		},
	},
	"required":             []interface{}{"provider", "description"},
	"additionalProperties": true,
}

// chatMessageSchema constrains outbound chat envelopes.
var chatMessageSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"type": map[string]interface{}{
			"type": "string",
		},
		"message": map[string]interface{}{
			"type":      "string",
			"minLength": 1,
		},
	},
	"required":             []interface{}{"message"},
	"additionalProperties": true,
}

// ValidateServiceRequest checks a service-request create payload before it is
// sent to the backend.
func ValidateServiceRequest(payload map[string]interface{}) error {
	return validateAgainst(serviceRequestSchema, payload)
}

// ValidateChatMessage checks an outbound chat message payload.
func ValidateChatMessage(payload map[string]interface{}) error {
	return validateAgainst(chatMessageSchema, payload)
}

func validateAgainst(schema, payload map[string]interface{}) error {
	schemaLoader := gojsonschema.NewGoLoader(schema)
	docLoader := gojsonschema.NewGoLoader(payload)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return errors.NewValidationFailedError(err.Error())
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.NewValidationFailedError(strings.Join(msgs, "; "))
	}

	return nil
}
