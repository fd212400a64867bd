package schema

import (
	"fmt"
	"regexp"
)

// Builder constructs a Definition fluently, field by field.
type Builder struct {
	def *Definition
}

// NewBuilder starts building a schema definition titled title.
func NewBuilder(title string) *Builder {
	return &Builder{def: NewDefinition(title)}
}

// AdditionalProperties sets whether fields outside Properties are allowed.
func (b *Builder) AdditionalProperties(allowed bool) *Builder {
	b.def.AdditionalProperties = allowed
	return b
}

// Field starts building the named field, returning a FieldBuilder whose
// Done() call adds it to the schema under construction.
func (b *Builder) Field(name string, t FieldType) *FieldBuilder {
	return &FieldBuilder{
		schemaBuilder: b,
		name:          name,
		field:         &FieldSchema{Type: t},
	}
}

// UnionField starts building a field accepting any of the given types —
// e.g. UnionField("note", TypeString, TypeNull) for a field that may be
// either a string or null.
func (b *Builder) UnionField(name string, types ...FieldType) *FieldBuilder {
	return &FieldBuilder{
		schemaBuilder: b,
		name:          name,
		field:         &FieldSchema{Types: types},
	}
}

// Build finalizes and returns the schema definition.
func (b *Builder) Build() *Definition {
	return b.def
}

// FieldBuilder builds one FieldSchema. Every constructor-style method
// amends the field's single StringConstraint/NumericConstraint/etc. in
// place instead of appending a new one — stacking MinLength().MaxLength()
// produces one combined constraint, not two independently-evaluated ones.
type FieldBuilder struct {
	schemaBuilder *Builder
	name          string
	field         *FieldSchema
}

func (f *FieldBuilder) stringConstraint() *StringConstraint {
	if f.field.String == nil {
		f.field.String = &StringConstraint{}
	}
	return f.field.String
}

func (f *FieldBuilder) numericConstraint() *NumericConstraint {
	if f.field.Numeric == nil {
		f.field.Numeric = &NumericConstraint{}
	}
	return f.field.Numeric
}

func (f *FieldBuilder) arrayConstraint() *ArrayConstraint {
	if f.field.Array == nil {
		f.field.Array = &ArrayConstraint{}
	}
	return f.field.Array
}

func (f *FieldBuilder) objectConstraint() *ObjectConstraint {
	if f.field.Object == nil {
		f.field.Object = &ObjectConstraint{Properties: make(map[string]*FieldSchema)}
	}
	return f.field.Object
}

// Required marks the field as required on the enclosing schema.
func (f *FieldBuilder) Required() *FieldBuilder {
	f.field.Required = true
	return f
}

// Nullable allows the field to hold a JSON null value regardless of its
// declared type or union.
func (f *FieldBuilder) Nullable() *FieldBuilder {
	f.field.Nullable = true
	return f
}

// DependsOn requires that every named field also be present in a document
// whenever this field is present.
func (f *FieldBuilder) DependsOn(fields ...string) *FieldBuilder {
	f.field.Dependencies = append(f.field.Dependencies, fields...)
	return f
}

// Description attaches human-readable documentation to the field.
func (f *FieldBuilder) Description(text string) *FieldBuilder {
	f.field.Description = text
	return f
}

// Default sets the field's default value, applied when a document omits it.
func (f *FieldBuilder) Default(value interface{}) *FieldBuilder {
	f.field.Default = value
	return f
}

// Enum restricts the field to one of the given values.
func (f *FieldBuilder) Enum(values ...interface{}) *FieldBuilder {
	f.field.Enum = values
	return f
}

// MinLength sets the minimum string length.
func (f *FieldBuilder) MinLength(min int) *FieldBuilder {
	f.stringConstraint().MinLength = &min
	return f
}

// MaxLength sets the maximum string length.
func (f *FieldBuilder) MaxLength(max int) *FieldBuilder {
	f.stringConstraint().MaxLength = &max
	return f
}

// Pattern sets a regular expression the string value must match.
func (f *FieldBuilder) Pattern(pattern string) (*FieldBuilder, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return f, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	sc := f.stringConstraint()
	sc.RawRegex = pattern
	sc.Pattern = re
	return f, nil
}

// Format names a registered format validator (e.g. "email") the string
// value must satisfy.
func (f *FieldBuilder) Format(name string) *FieldBuilder {
	f.stringConstraint().Format = name
	return f
}

// Min sets the inclusive minimum numeric value.
func (f *FieldBuilder) Min(min float64) *FieldBuilder {
	f.numericConstraint().Min = &min
	return f
}

// Max sets the inclusive maximum numeric value.
func (f *FieldBuilder) Max(max float64) *FieldBuilder {
	f.numericConstraint().Max = &max
	return f
}

// ExclusiveMin sets the exclusive minimum numeric value.
func (f *FieldBuilder) ExclusiveMin(min float64) *FieldBuilder {
	f.numericConstraint().ExclusiveMin = &min
	return f
}

// ExclusiveMax sets the exclusive maximum numeric value.
func (f *FieldBuilder) ExclusiveMax(max float64) *FieldBuilder {
	f.numericConstraint().ExclusiveMax = &max
	return f
}

// MultipleOf requires the numeric value be an exact multiple of m.
func (f *FieldBuilder) MultipleOf(m float64) *FieldBuilder {
	f.numericConstraint().MultipleOf = &m
	return f
}

// MinItems sets the minimum array length.
func (f *FieldBuilder) MinItems(min int) *FieldBuilder {
	f.arrayConstraint().MinItems = &min
	return f
}

// MaxItems sets the maximum array length.
func (f *FieldBuilder) MaxItems(max int) *FieldBuilder {
	f.arrayConstraint().MaxItems = &max
	return f
}

// UniqueItems requires every array element be distinct.
func (f *FieldBuilder) UniqueItems() *FieldBuilder {
	f.arrayConstraint().UniqueItems = true
	return f
}

// Items sets the schema every array element must satisfy.
func (f *FieldBuilder) Items(item *FieldSchema) *FieldBuilder {
	f.arrayConstraint().Items = item
	return f
}

// MinProperties sets the minimum number of object properties.
func (f *FieldBuilder) MinProperties(min int) *FieldBuilder {
	f.objectConstraint().MinProperties = &min
	return f
}

// MaxProperties sets the maximum number of object properties.
func (f *FieldBuilder) MaxProperties(max int) *FieldBuilder {
	f.objectConstraint().MaxProperties = &max
	return f
}

// Property adds a nested field schema under name.
func (f *FieldBuilder) Property(name string, schema *FieldSchema) *FieldBuilder {
	oc := f.objectConstraint()
	if _, exists := oc.Properties[name]; !exists {
		oc.PropertyOrder = append(oc.PropertyOrder, name)
	}
	oc.Properties[name] = schema
	return f
}

// RequiredProperty marks a nested property as required.
func (f *FieldBuilder) RequiredProperty(name string) *FieldBuilder {
	oc := f.objectConstraint()
	oc.Required = append(oc.Required, name)
	return f
}

// Reference attaches an x-docbase-ref style foreign-key-like rule.
func (f *FieldBuilder) Reference(targetCollection, targetField, onDelete string) *FieldBuilder {
	f.field.Reference = &ReferenceConstraint{
		TargetCollection: targetCollection,
		TargetField:      targetField,
		OnDelete:         onDelete,
	}
	return f
}

// Done adds the field to the enclosing schema and returns the Builder so
// callers can chain into the next field.
func (f *FieldBuilder) Done() *Builder {
	def := f.schemaBuilder.def
	if _, exists := def.Properties[f.name]; !exists {
		def.PropertyOrder = append(def.PropertyOrder, f.name)
	}
	def.Properties[f.name] = f.field
	if f.field.Required {
		def.Required = append(def.Required, f.name)
	}
	return f.schemaBuilder
}
