package playbook

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/camino/internal/knowledge"
)

// CompileSource compiles a single CUE source string into a Template.
// The source must declare a top-level "playbook" struct. The filename is
// used for error positions only.
func CompileSource(filename, src string) (*Template, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	pbVal := v.LookupPath(cue.ParsePath("playbook"))
	if !pbVal.Exists() {
		return nil, &CompileError{
			Field:   "playbook",
			Message: "top-level playbook struct is required",
			Pos:     v.Pos(),
		}
	}
	return CompileTemplate(pbVal)
}

// CompileTemplate parses a CUE playbook struct into a Template.
// Uses the CUE SDK's Go API directly (not CLI subprocess).
//
// Expected shape:
//
//	playbook: {
//		id:      "foundations"
//		version: 1
//		name:    "Business Foundations"
//		purpose: "..."
//		steps: [{id: "identity", title: "...", prompt: "...",
//		         fields: {mission: string}, requires: ["mission"],
//		         map: {mission: "mission"}}, ...]
//	}
func CompileTemplate(v cue.Value) (*Template, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	tmpl := &Template{}

	id, err := requiredString(v, "id")
	if err != nil {
		return nil, err
	}
	tmpl.ID = id

	versionVal := v.LookupPath(cue.ParsePath("version"))
	if !versionVal.Exists() {
		return nil, &CompileError{
			Field:   "version",
			Message: "version is required",
			Pos:     v.Pos(),
		}
	}
	version, err := versionVal.Int64()
	if err != nil {
		return nil, formatCUEError(err)
	}
	if version < 1 {
		return nil, &CompileError{
			Field:   "version",
			Message: fmt.Sprintf("version must be >= 1, got %d", version),
			Pos:     versionVal.Pos(),
		}
	}
	tmpl.Version = int(version)

	tmpl.Name, err = requiredString(v, "name")
	if err != nil {
		return nil, err
	}
	tmpl.Purpose, err = requiredString(v, "purpose")
	if err != nil {
		return nil, err
	}

	stepsVal := v.LookupPath(cue.ParsePath("steps"))
	if !stepsVal.Exists() {
		return nil, &CompileError{
			Field:   "steps",
			Message: "at least one step is required",
			Pos:     v.Pos(),
		}
	}
	stepIter, err := stepsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for stepIter.Next() {
		step, stepErr := parseStep(stepIter.Value(), len(tmpl.Steps)+1)
		if stepErr != nil {
			return nil, stepErr
		}
		tmpl.Steps = append(tmpl.Steps, step)
	}
	if len(tmpl.Steps) == 0 {
		return nil, &CompileError{
			Field:   "steps",
			Message: "at least one step is required",
			Pos:     stepsVal.Pos(),
		}
	}

	if err := validateTemplate(tmpl); err != nil {
		return nil, err
	}

	return tmpl, nil
}

// parseStep parses one entry of the steps list. pos is the 1-based position,
// used only in error messages.
func parseStep(v cue.Value, pos int) (StepSpec, error) {
	step := StepSpec{
		Fields: make(map[string]FieldSpec),
	}

	var err error
	if step.ID, err = requiredString(v, "id"); err != nil {
		return step, err
	}
	if step.Title, err = requiredString(v, "title"); err != nil {
		return step, err
	}
	if step.Prompt, err = requiredString(v, "prompt"); err != nil {
		return step, err
	}

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return step, &CompileError{
			Field:   fmt.Sprintf("steps[%d].fields", pos),
			Message: "step fields are required",
			Pos:     v.Pos(),
		}
	}
	fieldIter, err := fieldsVal.Fields()
	if err != nil {
		return step, formatCUEError(err)
	}
	for fieldIter.Next() {
		name := fieldIter.Label()
		if name == NotesField {
			return step, &CompileError{
				Field:   fmt.Sprintf("steps[%d].fields.%s", pos, name),
				Message: "notes is reserved for context annotations and cannot be declared",
				Pos:     fieldIter.Value().Pos(),
			}
		}
		ft, typeErr := extractFieldType(fieldIter.Value())
		if typeErr != nil {
			return step, typeErr
		}
		step.Fields[name] = FieldSpec{Type: ft}
	}
	if len(step.Fields) == 0 {
		return step, &CompileError{
			Field:   fmt.Sprintf("steps[%d].fields", pos),
			Message: "step declares no fields",
			Pos:     fieldsVal.Pos(),
		}
	}

	requiresVal := v.LookupPath(cue.ParsePath("requires"))
	if requiresVal.Exists() {
		reqIter, reqErr := requiresVal.List()
		if reqErr != nil {
			return step, formatCUEError(reqErr)
		}
		for reqIter.Next() {
			name, strErr := reqIter.Value().String()
			if strErr != nil {
				return step, formatCUEError(strErr)
			}
			step.Requires = append(step.Requires, name)
		}
	}

	mapVal := v.LookupPath(cue.ParsePath("map"))
	if mapVal.Exists() {
		step.Map = make(map[string]knowledge.Key)
		mapIter, mapErr := mapVal.Fields()
		if mapErr != nil {
			return step, formatCUEError(mapErr)
		}
		for mapIter.Next() {
			target, strErr := mapIter.Value().String()
			if strErr != nil {
				return step, formatCUEError(strErr)
			}
			step.Map[mapIter.Label()] = knowledge.Key(target)
		}
	}

	return step, nil
}

// extractFieldType converts a CUE type expression to a FieldType.
func extractFieldType(v cue.Value) (FieldType, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		return TypeString, nil
	case cue.IntKind:
		return TypeInt, nil
	case cue.FloatKind, cue.NumberKind:
		return TypeNumber, nil
	case cue.BoolKind:
		return TypeBool, nil
	case cue.ListKind:
		return TypeArray, nil
	case cue.StructKind:
		return TypeObject, nil
	default:
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported field type kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// validateTemplate runs cross-step checks after parsing: unique step IDs,
// requires and map sources refer to declared fields, map targets are
// registered knowledge keys of a compatible kind.
func validateTemplate(tmpl *Template) error {
	seen := make(map[string]bool, len(tmpl.Steps))
	for i, step := range tmpl.Steps {
		ref := fmt.Sprintf("steps[%d]", i+1)

		if seen[step.ID] {
			return &CompileError{
				Field:   ref + ".id",
				Message: fmt.Sprintf("duplicate step id %q", step.ID),
			}
		}
		seen[step.ID] = true

		for _, name := range step.Requires {
			if _, ok := step.Fields[name]; !ok {
				return &CompileError{
					Field:   ref + ".requires",
					Message: fmt.Sprintf("required field %q is not declared", name),
				}
			}
		}

		for source, target := range step.Map {
			spec, ok := step.Fields[source]
			if !ok {
				return &CompileError{
					Field:   ref + ".map",
					Message: fmt.Sprintf("mapped field %q is not declared", source),
				}
			}
			targetKind, ok := knowledge.KindOf(target)
			if !ok {
				return &CompileError{
					Field:   ref + ".map",
					Message: fmt.Sprintf("unknown knowledge field %q", target),
				}
			}
			sourceKind, ok := spec.Type.knowledgeKind()
			if !ok {
				return &CompileError{
					Field:   ref + ".map",
					Message: fmt.Sprintf("field %q of type %s cannot map to a knowledge field", source, spec.Type),
				}
			}
			if sourceKind != targetKind {
				return &CompileError{
					Field:   ref + ".map",
					Message: fmt.Sprintf("field %q maps %s payload to %s knowledge field %q", source, sourceKind, targetKind, target),
				}
			}
		}
	}
	return nil
}

// requiredString reads a required string attribute from a CUE struct.
func requiredString(v cue.Value, name string) (string, error) {
	val := v.LookupPath(cue.ParsePath(name))
	if !val.Exists() {
		return "", &CompileError{
			Field:   name,
			Message: name + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := val.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	if s == "" {
		return "", &CompileError{
			Field:   name,
			Message: name + " must not be empty",
			Pos:     val.Pos(),
		}
	}
	return s, nil
}
