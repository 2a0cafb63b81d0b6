package dispatcher

import "fmt"

// ValidationError reports a malformed or incomplete request. It is
// user-correctable and never fatal to the engine.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ValidateRequest checks the structural shape of an inbound request: a
// payload must exist, carry an action, and execute_tool must name a tool.
func ValidateRequest(req Request) error {
	if req.Payload == nil {
		return &ValidationError{Message: "Message payload is required"}
	}
	if stringField(req.Payload, "action") == "" {
		return &ValidationError{Message: "payload.action is required"}
	}
	if stringField(req.Payload, "action") == ActionExecuteTool &&
		stringField(req.Payload, "tool_name") == "" {
		return &ValidationError{Message: "payload.tool_name is required for execute_tool action"}
	}
	return nil
}

// ValidateParameters checks parameter values against a tool's declared
// schema. Only presence of required keys is enforced: an explicit empty
// string or zero satisfies "present", value types are not checked, and
// undeclared keys are accepted.
func ValidateParameters(values map[string]interface{}, schema map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	if _, ok := schema["properties"]; !ok {
		return nil
	}

	required, ok := schema["required"].([]interface{})
	if !ok {
		return nil
	}

	for _, raw := range required {
		name, ok := raw.(string)
		if !ok {
			continue
		}
		if _, present := values[name]; !present {
			return &ValidationError{Message: fmt.Sprintf("Required parameter '%s' is missing", name)}
		}
	}

	return nil
}
