package storage

import "testing"

func TestDocument(t *testing.T) {
	doc := Document{
		"name":  "Alice",
		"age":   30,
		"email": "alice@example.com",
	}

	data, err := doc.Serialize()
	if err != nil {
		t.Fatalf("Failed to serialize document: %v", err)
	}

	doc2, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Failed to deserialize document: %v", err)
	}

	if doc2["name"] != "Alice" {
		t.Errorf("Expected name 'Alice', got %v", doc2["name"])
	}
	if doc2["age"].(float64) != 30 {
		t.Errorf("Expected age 30, got %v", doc2["age"])
	}

	doc.SetID("doc123")
	id, exists := doc.GetID()
	if !exists {
		t.Error("Expected document to have an ID")
	}
	if id != "doc123" {
		t.Errorf("Expected ID 'doc123', got %s", id)
	}

	clone := doc.Clone()
	clone["name"] = "Bob"
	if doc["name"] == "Bob" {
		t.Error("Clone should not modify original document")
	}
}

func TestRecordViewMergesID(t *testing.T) {
	rec := &Record{ID: "doc1", Data: Document{"name": "Alice"}, Version: 1}
	view := rec.View()
	if view["name"] != "Alice" {
		t.Errorf("expected name to survive View(), got %v", view["name"])
	}
	id, ok := view.GetID()
	if !ok || id != "doc1" {
		t.Errorf("expected View() to carry the record id, got %v", id)
	}
}

func TestRecordSerializeRoundtrip(t *testing.T) {
	rec := &Record{ID: "doc1", Data: Document{"x": float64(1)}, Version: 3}
	data, err := rec.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	got, err := DeserializeRecord(data)
	if err != nil {
		t.Fatalf("DeserializeRecord failed: %v", err)
	}
	if got.ID != rec.ID || got.Version != rec.Version {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", got, rec)
	}
}
