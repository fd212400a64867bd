package schema

import "testing"

func TestRegistrySetValidationEnabled(t *testing.T) {
	r := NewRegistry(Options{})
	if err := r.SetValidationEnabled("users", true); err != ErrSchemaNotFound {
		t.Fatalf("expected ErrSchemaNotFound for an unregistered collection, got %v", err)
	}

	def := NewBuilder("users").Field("name", TypeString).Required().Done().Build()
	r.Set("users", def)

	if !r.IsValidationEnabled("users") {
		t.Error("expected validation enabled by default once a schema is set")
	}

	if err := r.SetValidationEnabled("users", false); err != nil {
		t.Fatalf("SetValidationEnabled failed: %v", err)
	}
	if r.IsValidationEnabled("users") {
		t.Error("expected validation disabled after SetValidationEnabled(false)")
	}

	if err := r.Validate("users", map[string]interface{}{}); err != nil {
		t.Errorf("expected validation to pass while disabled, got %v", err)
	}

	if err := r.SetValidationEnabled("users", true); err != nil {
		t.Fatalf("SetValidationEnabled failed: %v", err)
	}
	if err := r.Validate("users", map[string]interface{}{}); err == nil {
		t.Error("expected a required-field violation once validation is re-enabled")
	}
}

func TestRegistryStats(t *testing.T) {
	r := NewRegistry(Options{})
	empty := r.Stats()
	if empty.TotalCollections != 0 || empty.OldestSchemaDate != nil {
		t.Errorf("expected zero-value stats for an empty registry, got %+v", empty)
	}

	r.Set("users", NewDefinition("users"))
	r.Set("orders", NewDefinition("orders"))
	if err := r.SetValidationEnabled("orders", false); err != nil {
		t.Fatalf("SetValidationEnabled failed: %v", err)
	}

	stats := r.Stats()
	if stats.TotalCollections != 2 {
		t.Errorf("expected 2 total collections, got %d", stats.TotalCollections)
	}
	if stats.EnabledCollections != 1 {
		t.Errorf("expected 1 enabled collection, got %d", stats.EnabledCollections)
	}
	if stats.DisabledCollections != 1 {
		t.Errorf("expected 1 disabled collection, got %d", stats.DisabledCollections)
	}
	if stats.OldestSchemaDate == nil || stats.NewestSchemaDate == nil {
		t.Error("expected oldest/newest schema dates to be populated")
	}
}
