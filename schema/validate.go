package schema

import (
	"fmt"

	"github.com/kartikbazzad/docbase/internal/util"
)

// Options tunes how the validation engine walks a document.
type Options struct {
	// FailFast stops at the first error instead of accumulating every
	// violation found across the document.
	FailFast bool
	// MaxDepth bounds recursion into nested objects/arrays, guarding
	// against pathological or cyclic schemas. Zero means DefaultMaxDepth.
	MaxDepth int
}

// DefaultMaxDepth is used when Options.MaxDepth is unset.
const DefaultMaxDepth = 32

// Engine validates documents against a Definition.
type Engine struct {
	opts Options
}

// NewEngine creates a validation engine with the given options.
func NewEngine(opts Options) *Engine {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	return &Engine{opts: opts}
}

// Validate checks doc against def, returning every FieldError found (or
// just the first, under FailFast). A nil/empty return means doc is valid.
func (e *Engine) Validate(def *Definition, doc map[string]interface{}) []util.FieldError {
	var errs []util.FieldError
	e.validateObject(def.Properties, def.PropertyOrder, def.Required, def.AdditionalProperties, nil, nil, doc, "", 0, &errs)
	return errs
}

func (e *Engine) fail(errs *[]util.FieldError, fe util.FieldError) bool {
	*errs = append(*errs, fe)
	return e.opts.FailFast
}

// orderedNames returns the property keys to walk in insertion order,
// falling back to appending any keys order is missing (e.g. a Definition
// built by hand rather than through Builder) so every property still gets
// validated.
func orderedNames(properties map[string]*FieldSchema, order []string) []string {
	if len(order) >= len(properties) {
		return order
	}
	seen := make(map[string]bool, len(order))
	for _, n := range order {
		seen[n] = true
	}
	names := append([]string{}, order...)
	for n := range properties {
		if !seen[n] {
			names = append(names, n)
		}
	}
	return names
}

func (e *Engine) validateObject(properties map[string]*FieldSchema, order []string, required []string, additional bool, minProps, maxProps *int, doc map[string]interface{}, path string, depth int, errs *[]util.FieldError) bool {
	if depth > e.opts.MaxDepth {
		return e.fail(errs, util.FieldError{Path: path, Kind: "max_depth", Message: "schema nesting exceeds maximum depth"})
	}

	if minProps != nil && len(doc) < *minProps {
		if e.fail(errs, util.FieldError{Path: path, Kind: "min_properties", Message: fmt.Sprintf("must have at least %d properties", *minProps)}) {
			return true
		}
	}
	if maxProps != nil && len(doc) > *maxProps {
		if e.fail(errs, util.FieldError{Path: path, Kind: "max_properties", Message: fmt.Sprintf("must have at most %d properties", *maxProps)}) {
			return true
		}
	}

	for _, name := range required {
		if _, ok := doc[name]; !ok {
			if e.fail(errs, util.FieldError{Path: joinPath(path, name), Kind: "required", Message: "field is required"}) {
				return true
			}
		}
	}

	if !additional {
		for key := range doc {
			if _, ok := properties[key]; !ok {
				if e.fail(errs, util.FieldError{Path: joinPath(path, key), Kind: "additional_property", Message: "field is not defined by schema", Value: doc[key]}) {
					return true
				}
			}
		}
	}

	for _, name := range orderedNames(properties, order) {
		fs, ok := properties[name]
		if !ok {
			continue
		}
		value, present := doc[name]
		if !present {
			continue
		}
		fieldPath := joinPath(path, name)
		if stop := e.validateField(fs, value, fieldPath, depth+1, errs); stop {
			return true
		}
		if stop := e.checkDependencies(fs, doc, fieldPath, errs); stop {
			return true
		}
	}

	return false
}

// checkDependencies fails if any field fs.Dependencies names is absent
// from doc, given that fs itself is present.
func (e *Engine) checkDependencies(fs *FieldSchema, doc map[string]interface{}, path string, errs *[]util.FieldError) bool {
	for _, dep := range fs.Dependencies {
		if _, ok := doc[dep]; !ok {
			if e.fail(errs, util.FieldError{Path: path, Kind: "dependency", Message: fmt.Sprintf("requires field %q to also be present", dep)}) {
				return true
			}
		}
	}
	return false
}

func (e *Engine) validateField(fs *FieldSchema, value interface{}, path string, depth int, errs *[]util.FieldError) bool {
	if value == nil {
		if fs.allowsNull() {
			return false
		}
		return e.fail(errs, util.FieldError{Path: path, Kind: "type", Message: "field is null", Value: value})
	}

	if len(fs.Enum) > 0 && !enumContains(fs.Enum, value) {
		if e.fail(errs, util.FieldError{Path: path, Kind: "enum", Message: "value is not one of the allowed values", Value: value}) {
			return true
		}
	}

	types := fs.typeSet()
	if len(types) == 1 {
		return e.validateTyped(fs, types[0], value, path, depth, errs)
	}

	// Union: accept if any branch validates clean, otherwise report a
	// single type error rather than every branch's individual complaints.
	for _, t := range types {
		var branchErrs []util.FieldError
		e.validateTyped(fs, t, value, path, depth, &branchErrs)
		if len(branchErrs) == 0 {
			return false
		}
	}
	return e.fail(errs, util.FieldError{Path: path, Kind: "type", Message: fmt.Sprintf("value does not match any type in union %v", types), Value: value})
}

func (e *Engine) validateTyped(fs *FieldSchema, t FieldType, value interface{}, path string, depth int, errs *[]util.FieldError) bool {
	switch t {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			return e.fail(errs, util.FieldError{Path: path, Kind: "type", Message: "expected a string", Value: value})
		}
		return e.validateString(fs.String, s, path, errs)

	case TypeNumber, TypeInteger:
		n, ok := asFloat(value)
		if !ok {
			return e.fail(errs, util.FieldError{Path: path, Kind: "type", Message: "expected a number", Value: value})
		}
		if t == TypeInteger && n != float64(int64(n)) {
			if e.fail(errs, util.FieldError{Path: path, Kind: "type", Message: "expected an integer", Value: value}) {
				return true
			}
		}
		return e.validateNumeric(fs.Numeric, n, path, errs)

	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return e.fail(errs, util.FieldError{Path: path, Kind: "type", Message: "expected a boolean", Value: value})
		}
		return false

	case TypeArray:
		arr, ok := value.([]interface{})
		if !ok {
			return e.fail(errs, util.FieldError{Path: path, Kind: "type", Message: "expected an array", Value: value})
		}
		return e.validateArray(fs.Array, arr, path, depth, errs)

	case TypeObject:
		obj, ok := toMap(value)
		if !ok {
			return e.fail(errs, util.FieldError{Path: path, Kind: "type", Message: "expected an object", Value: value})
		}
		if fs.Object == nil {
			return false
		}
		additional := true
		if fs.Object.AdditionalProperties != nil {
			additional = *fs.Object.AdditionalProperties
		}
		return e.validateObject(fs.Object.Properties, fs.Object.PropertyOrder, fs.Object.Required, additional, fs.Object.MinProperties, fs.Object.MaxProperties, obj, path, depth, errs)

	case TypeNull:
		if value != nil {
			return e.fail(errs, util.FieldError{Path: path, Kind: "type", Message: "expected null", Value: value})
		}
		return false

	default: // TypeAny
		return false
	}
}

func (e *Engine) validateString(c *StringConstraint, s string, path string, errs *[]util.FieldError) bool {
	if c == nil {
		return false
	}
	if c.MinLength != nil && len(s) < *c.MinLength {
		if e.fail(errs, util.FieldError{Path: path, Kind: "min_length", Message: fmt.Sprintf("must be at least %d characters", *c.MinLength), Value: s}) {
			return true
		}
	}
	if c.MaxLength != nil && len(s) > *c.MaxLength {
		if e.fail(errs, util.FieldError{Path: path, Kind: "max_length", Message: fmt.Sprintf("must be at most %d characters", *c.MaxLength), Value: s}) {
			return true
		}
	}
	if c.Pattern != nil && !c.Pattern.MatchString(s) {
		if e.fail(errs, util.FieldError{Path: path, Kind: "pattern", Message: fmt.Sprintf("must match pattern %q", c.RawRegex), Value: s}) {
			return true
		}
	}
	if c.Format != "" {
		if fn, ok := LookupFormat(c.Format); ok {
			if err := fn(s); err != nil {
				if e.fail(errs, util.FieldError{Path: path, Kind: "format", Message: err.Error(), Value: s}) {
					return true
				}
			}
		}
	}
	return false
}

func (e *Engine) validateNumeric(c *NumericConstraint, n float64, path string, errs *[]util.FieldError) bool {
	if c == nil {
		return false
	}
	if c.Min != nil && n < *c.Min {
		if e.fail(errs, util.FieldError{Path: path, Kind: "min", Message: fmt.Sprintf("must be >= %v", *c.Min), Value: n}) {
			return true
		}
	}
	if c.Max != nil && n > *c.Max {
		if e.fail(errs, util.FieldError{Path: path, Kind: "max", Message: fmt.Sprintf("must be <= %v", *c.Max), Value: n}) {
			return true
		}
	}
	if c.ExclusiveMin != nil && n <= *c.ExclusiveMin {
		if e.fail(errs, util.FieldError{Path: path, Kind: "exclusive_min", Message: fmt.Sprintf("must be > %v", *c.ExclusiveMin), Value: n}) {
			return true
		}
	}
	if c.ExclusiveMax != nil && n >= *c.ExclusiveMax {
		if e.fail(errs, util.FieldError{Path: path, Kind: "exclusive_max", Message: fmt.Sprintf("must be < %v", *c.ExclusiveMax), Value: n}) {
			return true
		}
	}
	if c.MultipleOf != nil && *c.MultipleOf != 0 {
		q := n / *c.MultipleOf
		if q != float64(int64(q)) {
			if e.fail(errs, util.FieldError{Path: path, Kind: "multiple_of", Message: fmt.Sprintf("must be a multiple of %v", *c.MultipleOf), Value: n}) {
				return true
			}
		}
	}
	return false
}

func (e *Engine) validateArray(c *ArrayConstraint, arr []interface{}, path string, depth int, errs *[]util.FieldError) bool {
	if c == nil {
		return false
	}
	if c.MinItems != nil && len(arr) < *c.MinItems {
		if e.fail(errs, util.FieldError{Path: path, Kind: "min_items", Message: fmt.Sprintf("must have at least %d items", *c.MinItems)}) {
			return true
		}
	}
	if c.MaxItems != nil && len(arr) > *c.MaxItems {
		if e.fail(errs, util.FieldError{Path: path, Kind: "max_items", Message: fmt.Sprintf("must have at most %d items", *c.MaxItems)}) {
			return true
		}
	}
	if c.UniqueItems {
		seen := make(map[string]bool, len(arr))
		for _, item := range arr {
			key := fmt.Sprintf("%v", item)
			if seen[key] {
				if e.fail(errs, util.FieldError{Path: path, Kind: "unique_items", Message: "array items must be unique"}) {
					return true
				}
				break
			}
			seen[key] = true
		}
	}
	if c.Items != nil {
		for i, item := range arr {
			if stop := e.validateField(c.Items, item, fmt.Sprintf("%s[%d]", path, i), depth+1, errs); stop {
				return true
			}
		}
	}
	return false
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func enumContains(enum []interface{}, value interface{}) bool {
	for _, v := range enum {
		if fmt.Sprintf("%v", v) == fmt.Sprintf("%v", value) {
			return true
		}
	}
	return false
}

func asFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func toMap(value interface{}) (map[string]interface{}, bool) {
	switch v := value.(type) {
	case map[string]interface{}:
		return v, true
	default:
		return nil, false
	}
}
