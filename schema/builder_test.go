package schema

import "testing"

func TestBuilderPropertyOrder(t *testing.T) {
	def := NewBuilder("person").
		Field("name", TypeString).Required().Done().
		Field("age", TypeNumber).Done().
		Field("email", TypeString).Done().
		Build()

	want := []string{"name", "age", "email"}
	if len(def.PropertyOrder) != len(want) {
		t.Fatalf("expected %d properties in order, got %d: %v", len(want), len(def.PropertyOrder), def.PropertyOrder)
	}
	for i, name := range want {
		if def.PropertyOrder[i] != name {
			t.Errorf("position %d: expected %q, got %q", i, name, def.PropertyOrder[i])
		}
	}
}

func TestBuilderUnionNullableDependsOn(t *testing.T) {
	b := NewBuilder("payment")
	b.UnionField("amount", TypeNumber, TypeNull).Done()
	b.Field("credit_card", TypeString).
		Nullable().
		DependsOn("billing_address").
		Done()
	b.Field("billing_address", TypeString).Done()
	def := b.Build()

	amount := def.Properties["amount"]
	if len(amount.Types) != 2 || amount.Types[0] != TypeNumber || amount.Types[1] != TypeNull {
		t.Errorf("unexpected union types: %+v", amount.Types)
	}

	cc := def.Properties["credit_card"]
	if !cc.Nullable {
		t.Error("expected credit_card to be nullable")
	}
	if len(cc.Dependencies) != 1 || cc.Dependencies[0] != "billing_address" {
		t.Errorf("unexpected dependencies: %v", cc.Dependencies)
	}
}

func TestBuilderNestedPropertyOrder(t *testing.T) {
	fb := NewBuilder("doc").Field("address", TypeObject)
	fb.Property("street", &FieldSchema{Type: TypeString}).
		Property("city", &FieldSchema{Type: TypeString}).
		Property("zip", &FieldSchema{Type: TypeString})
	fb.Done()

	oc := fb.field.Object
	want := []string{"street", "city", "zip"}
	if len(oc.PropertyOrder) != len(want) {
		t.Fatalf("expected %d nested properties in order, got %d: %v", len(want), len(oc.PropertyOrder), oc.PropertyOrder)
	}
	for i, name := range want {
		if oc.PropertyOrder[i] != name {
			t.Errorf("position %d: expected %q, got %q", i, name, oc.PropertyOrder[i])
		}
	}
}
