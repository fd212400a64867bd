package schema

import "testing"

func TestValidateMinMaxProperties(t *testing.T) {
	min, max := 2, 3

	// MinProperties/MaxProperties live on ObjectConstraint, so bound a
	// nested object field rather than the top-level document.
	builder := NewBuilder("profile")
	builder.Field("meta", TypeObject).
		Property("a", &FieldSchema{Type: TypeString}).
		Property("b", &FieldSchema{Type: TypeString}).
		Property("c", &FieldSchema{Type: TypeString}).
		Property("d", &FieldSchema{Type: TypeString}).
		Done()
	schemaDef := builder.Build()
	schemaDef.Properties["meta"].Object.MinProperties = &min
	schemaDef.Properties["meta"].Object.MaxProperties = &max

	engine := NewEngine(Options{})

	tooFew := engine.Validate(schemaDef, map[string]interface{}{
		"meta": map[string]interface{}{"a": "x"},
	})
	if len(tooFew) == 0 {
		t.Fatal("expected min_properties violation")
	}
	found := false
	for _, e := range tooFew {
		if e.Kind == "min_properties" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a min_properties error, got %+v", tooFew)
	}

	tooMany := engine.Validate(schemaDef, map[string]interface{}{
		"meta": map[string]interface{}{"a": "1", "b": "2", "c": "3", "d": "4"},
	})
	found = false
	for _, e := range tooMany {
		if e.Kind == "max_properties" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a max_properties error, got %+v", tooMany)
	}

	ok := engine.Validate(schemaDef, map[string]interface{}{
		"meta": map[string]interface{}{"a": "1", "b": "2"},
	})
	if len(ok) != 0 {
		t.Errorf("expected no errors for a within-bounds object, got %+v", ok)
	}
}

func TestValidateUnionType(t *testing.T) {
	def := NewBuilder("doc").
		Field("note", TypeString).Done().
		Build()
	def.Properties["note"] = &FieldSchema{Types: []FieldType{TypeString, TypeNumber}}

	engine := NewEngine(Options{})

	if errs := engine.Validate(def, map[string]interface{}{"note": "hello"}); len(errs) != 0 {
		t.Errorf("expected string branch to pass, got %+v", errs)
	}
	if errs := engine.Validate(def, map[string]interface{}{"note": float64(42)}); len(errs) != 0 {
		t.Errorf("expected number branch to pass, got %+v", errs)
	}
	errs := engine.Validate(def, map[string]interface{}{"note": true})
	if len(errs) == 0 {
		t.Fatal("expected a type error when no union branch matches")
	}
	if errs[0].Kind != "type" {
		t.Errorf("expected kind type, got %q", errs[0].Kind)
	}
}

func TestValidateNullable(t *testing.T) {
	def := NewDefinition("doc")
	def.Properties["middle_name"] = &FieldSchema{Type: TypeString, Nullable: true}
	def.Properties["first_name"] = &FieldSchema{Type: TypeString}
	def.PropertyOrder = []string{"middle_name", "first_name"}

	engine := NewEngine(Options{})

	if errs := engine.Validate(def, map[string]interface{}{"middle_name": nil, "first_name": "Ada"}); len(errs) != 0 {
		t.Errorf("expected nullable field to accept null, got %+v", errs)
	}
	errs := engine.Validate(def, map[string]interface{}{"middle_name": "ok", "first_name": nil})
	if len(errs) == 0 {
		t.Fatal("expected non-nullable field to reject null")
	}
}

func TestValidateDependencies(t *testing.T) {
	def := NewDefinition("billing")
	def.Properties["credit_card"] = &FieldSchema{Type: TypeString, Dependencies: []string{"billing_address"}}
	def.Properties["billing_address"] = &FieldSchema{Type: TypeString}
	def.PropertyOrder = []string{"credit_card", "billing_address"}

	engine := NewEngine(Options{})

	errs := engine.Validate(def, map[string]interface{}{"credit_card": "4111"})
	if len(errs) == 0 {
		t.Fatal("expected a dependency violation when billing_address is missing")
	}
	if errs[0].Kind != "dependency" {
		t.Errorf("expected kind dependency, got %q", errs[0].Kind)
	}

	ok := engine.Validate(def, map[string]interface{}{"credit_card": "4111", "billing_address": "221B Baker St"})
	if len(ok) != 0 {
		t.Errorf("expected no errors once the dependency is satisfied, got %+v", ok)
	}
}

func TestValidateFieldOrder(t *testing.T) {
	def := NewBuilder("person").
		Field("name", TypeString).Required().Done().
		Field("age", TypeNumber).Required().Done().
		Field("email", TypeString).Required().Done().
		Build()

	engine := NewEngine(Options{})

	// Every field is present but wrong-typed, so the ordering under test
	// is the property walk's, not the required-fields pre-check's.
	doc := map[string]interface{}{
		"email": float64(1),
		"age":   "old",
		"name":  float64(2),
	}
	errs := engine.Validate(def, doc)
	if len(errs) != 3 {
		t.Fatalf("expected 3 type errors, got %d: %+v", len(errs), errs)
	}
	wantOrder := []string{"name", "age", "email"}
	for i, want := range wantOrder {
		if errs[i].Path != want {
			t.Errorf("error %d: expected path %q, got %q", i, want, errs[i].Path)
		}
	}
}
