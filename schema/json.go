package schema

import (
	"encoding/json"
	"regexp"
)

// jsonStringConstraint mirrors StringConstraint but drops the compiled
// *regexp.Regexp (which carries no exported state worth persisting) in
// favor of RawRegex, recompiled on load.
type jsonStringConstraint struct {
	MinLength *int   `json:"min_length,omitempty"`
	MaxLength *int   `json:"max_length,omitempty"`
	RawRegex  string `json:"pattern,omitempty"`
	Format    string `json:"format,omitempty"`
}

// MarshalJSON persists the definition as a compact, stable shape so
// collection metadata round-trips through disk without relying on the
// unexported internals of compiled regexps.
func (d *Definition) MarshalJSON() ([]byte, error) {
	type alias struct {
		Title                string                     `json:"title"`
		Properties           map[string]json.RawMessage `json:"properties"`
		PropertyOrder        []string                   `json:"property_order,omitempty"`
		Required             []string                   `json:"required,omitempty"`
		AdditionalProperties bool                       `json:"additional_properties"`
	}

	props := make(map[string]json.RawMessage, len(d.Properties))
	for name, fs := range d.Properties {
		raw, err := fs.MarshalJSON()
		if err != nil {
			return nil, err
		}
		props[name] = raw
	}

	return json.Marshal(alias{
		Title:                d.Title,
		Properties:           props,
		PropertyOrder:        d.PropertyOrder,
		Required:             d.Required,
		AdditionalProperties: d.AdditionalProperties,
	})
}

// UnmarshalJSON restores a definition previously written by MarshalJSON,
// recompiling every string pattern constraint.
func (d *Definition) UnmarshalJSON(data []byte) error {
	type alias struct {
		Title                string                     `json:"title"`
		Properties           map[string]json.RawMessage `json:"properties"`
		PropertyOrder        []string                   `json:"property_order,omitempty"`
		Required             []string                   `json:"required,omitempty"`
		AdditionalProperties bool                       `json:"additional_properties"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	d.Title = a.Title
	d.PropertyOrder = a.PropertyOrder
	d.Required = a.Required
	d.AdditionalProperties = a.AdditionalProperties
	d.Properties = make(map[string]*FieldSchema, len(a.Properties))
	for name, raw := range a.Properties {
		fs := &FieldSchema{}
		if err := fs.UnmarshalJSON(raw); err != nil {
			return err
		}
		d.Properties[name] = fs
	}
	return nil
}

func (fs *FieldSchema) MarshalJSON() ([]byte, error) {
	type alias struct {
		Type         FieldType             `json:"type"`
		Types        []FieldType           `json:"types,omitempty"`
		Nullable     bool                  `json:"nullable,omitempty"`
		Description  string                `json:"description,omitempty"`
		Required     bool                  `json:"required,omitempty"`
		Default      interface{}           `json:"default,omitempty"`
		Enum         []interface{}         `json:"enum,omitempty"`
		Dependencies []string              `json:"dependencies,omitempty"`
		String       *jsonStringConstraint `json:"string,omitempty"`
		Numeric      *NumericConstraint    `json:"numeric,omitempty"`
		Array        *jsonArrayConstraint  `json:"array,omitempty"`
		Object       *jsonObjectConstraint `json:"object,omitempty"`
		Reference    *ReferenceConstraint  `json:"reference,omitempty"`
	}

	a := alias{
		Type:         fs.Type,
		Types:        fs.Types,
		Nullable:     fs.Nullable,
		Description:  fs.Description,
		Required:     fs.Required,
		Default:      fs.Default,
		Enum:         fs.Enum,
		Dependencies: fs.Dependencies,
		Numeric:      fs.Numeric,
		Reference:    fs.Reference,
	}
	if fs.String != nil {
		a.String = &jsonStringConstraint{
			MinLength: fs.String.MinLength,
			MaxLength: fs.String.MaxLength,
			RawRegex:  fs.String.RawRegex,
			Format:    fs.String.Format,
		}
	}
	if fs.Array != nil {
		jac := &jsonArrayConstraint{
			MinItems:    fs.Array.MinItems,
			MaxItems:    fs.Array.MaxItems,
			UniqueItems: fs.Array.UniqueItems,
		}
		if fs.Array.Items != nil {
			raw, err := fs.Array.Items.MarshalJSON()
			if err != nil {
				return nil, err
			}
			jac.Items = raw
		}
		a.Array = jac
	}
	if fs.Object != nil {
		joc := &jsonObjectConstraint{
			MinProperties:        fs.Object.MinProperties,
			MaxProperties:        fs.Object.MaxProperties,
			AdditionalProperties: fs.Object.AdditionalProperties,
			Required:             fs.Object.Required,
			PropertyOrder:        fs.Object.PropertyOrder,
			Properties:           make(map[string]json.RawMessage, len(fs.Object.Properties)),
		}
		for name, prop := range fs.Object.Properties {
			raw, err := prop.MarshalJSON()
			if err != nil {
				return nil, err
			}
			joc.Properties[name] = raw
		}
		a.Object = joc
	}

	return json.Marshal(a)
}

type jsonArrayConstraint struct {
	MinItems    *int            `json:"min_items,omitempty"`
	MaxItems    *int            `json:"max_items,omitempty"`
	UniqueItems bool            `json:"unique_items,omitempty"`
	Items       json.RawMessage `json:"items,omitempty"`
}

type jsonObjectConstraint struct {
	MinProperties        *int                       `json:"min_properties,omitempty"`
	MaxProperties        *int                       `json:"max_properties,omitempty"`
	AdditionalProperties *bool                      `json:"additional_properties,omitempty"`
	Required             []string                   `json:"required,omitempty"`
	PropertyOrder        []string                   `json:"property_order,omitempty"`
	Properties           map[string]json.RawMessage `json:"properties,omitempty"`
}

func (fs *FieldSchema) UnmarshalJSON(data []byte) error {
	type alias struct {
		Type         FieldType             `json:"type"`
		Types        []FieldType           `json:"types,omitempty"`
		Nullable     bool                  `json:"nullable,omitempty"`
		Description  string                `json:"description,omitempty"`
		Required     bool                  `json:"required,omitempty"`
		Default      interface{}           `json:"default,omitempty"`
		Enum         []interface{}         `json:"enum,omitempty"`
		Dependencies []string              `json:"dependencies,omitempty"`
		String       *jsonStringConstraint `json:"string,omitempty"`
		Numeric      *NumericConstraint    `json:"numeric,omitempty"`
		Array        *jsonArrayConstraint  `json:"array,omitempty"`
		Object       *jsonObjectConstraint `json:"object,omitempty"`
		Reference    *ReferenceConstraint  `json:"reference,omitempty"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	fs.Type = a.Type
	fs.Types = a.Types
	fs.Nullable = a.Nullable
	fs.Description = a.Description
	fs.Required = a.Required
	fs.Default = a.Default
	fs.Enum = a.Enum
	fs.Dependencies = a.Dependencies
	fs.Numeric = a.Numeric
	fs.Reference = a.Reference

	if a.String != nil {
		sc := &StringConstraint{
			MinLength: a.String.MinLength,
			MaxLength: a.String.MaxLength,
			RawRegex:  a.String.RawRegex,
			Format:    a.String.Format,
		}
		if sc.RawRegex != "" {
			re, err := regexp.Compile(sc.RawRegex)
			if err != nil {
				return err
			}
			sc.Pattern = re
		}
		fs.String = sc
	}

	if a.Array != nil {
		ac := &ArrayConstraint{
			MinItems:    a.Array.MinItems,
			MaxItems:    a.Array.MaxItems,
			UniqueItems: a.Array.UniqueItems,
		}
		if len(a.Array.Items) > 0 {
			item := &FieldSchema{}
			if err := item.UnmarshalJSON(a.Array.Items); err != nil {
				return err
			}
			ac.Items = item
		}
		fs.Array = ac
	}

	if a.Object != nil {
		oc := &ObjectConstraint{
			MinProperties:        a.Object.MinProperties,
			MaxProperties:        a.Object.MaxProperties,
			AdditionalProperties: a.Object.AdditionalProperties,
			Required:             a.Object.Required,
			PropertyOrder:        a.Object.PropertyOrder,
			Properties:           make(map[string]*FieldSchema, len(a.Object.Properties)),
		}
		for name, raw := range a.Object.Properties {
			prop := &FieldSchema{}
			if err := prop.UnmarshalJSON(raw); err != nil {
				return err
			}
			oc.Properties[name] = prop
		}
		fs.Object = oc
	}

	return nil
}
