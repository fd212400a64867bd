package storage

import (
	"fmt"
	"testing"
)

func TestOrderedIndexBasicOperations(t *testing.T) {
	idx := NewOrderedIndex()

	testData := map[string]string{
		"apple":  "red fruit",
		"banana": "yellow fruit",
		"cherry": "red fruit",
		"date":   "brown fruit",
	}

	for key, value := range testData {
		if err := idx.Insert([]byte(key), []byte(value)); err != nil {
			t.Fatalf("Failed to insert %s: %v", key, err)
		}
	}

	for key, expectedValue := range testData {
		value, err := idx.Search([]byte(key))
		if err != nil {
			t.Errorf("Failed to find key %s: %v", key, err)
		}
		if string(value) != expectedValue {
			t.Errorf("For key %s, expected %s, got %s", key, expectedValue, string(value))
		}
	}

	if _, err := idx.Search([]byte("elderberry")); err == nil {
		t.Error("Expected error for non-existent key, got nil")
	}
}

func TestOrderedIndexRangeScan(t *testing.T) {
	idx := NewOrderedIndex()

	for i := 1; i <= 10; i++ {
		key := fmt.Sprintf("key%02d", i)
		value := fmt.Sprintf("value%02d", i)
		if err := idx.Insert([]byte(key), []byte(value)); err != nil {
			t.Fatalf("Failed to insert %s: %v", key, err)
		}
	}

	results, err := idx.RangeScan([]byte("key03"), []byte("key07"))
	if err != nil {
		t.Fatalf("Range scan failed: %v", err)
	}

	expectedCount := 5
	if len(results) != expectedCount {
		t.Errorf("Expected %d results, got %d", expectedCount, len(results))
	}
	if len(results) > 0 {
		if string(results[0].Key) != "key03" {
			t.Errorf("Expected first key to be key03, got %s", string(results[0].Key))
		}
		if string(results[len(results)-1].Key) != "key07" {
			t.Errorf("Expected last key to be key07, got %s", string(results[len(results)-1].Key))
		}
	}
}

func TestOrderedIndexUpdate(t *testing.T) {
	idx := NewOrderedIndex()

	key := []byte("test_key")
	value1 := []byte("initial_value")
	if err := idx.Insert(key, value1); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	result, err := idx.Search(key)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if string(result) != string(value1) {
		t.Errorf("Expected %s, got %s", string(value1), string(result))
	}

	value2 := []byte("updated_value")
	if err := idx.Insert(key, value2); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}

	result, err = idx.Search(key)
	if err != nil {
		t.Fatalf("Failed to search after update: %v", err)
	}
	if string(result) != string(value2) {
		t.Errorf("Expected %s, got %s", string(value2), string(result))
	}
	if idx.Len() != 1 {
		t.Errorf("Expected a single entry after update-in-place, got %d", idx.Len())
	}
}

func TestOrderedIndexDelete(t *testing.T) {
	idx := NewOrderedIndex()
	_ = idx.Insert([]byte("a"), []byte("1"))
	_ = idx.Insert([]byte("b"), []byte("2"))

	if err := idx.Delete([]byte("a")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := idx.Search([]byte("a")); err == nil {
		t.Error("expected deleted key to be gone")
	}
	if idx.Len() != 1 {
		t.Errorf("expected 1 entry remaining, got %d", idx.Len())
	}
}

func TestHashIndexMultiValue(t *testing.T) {
	idx := NewHashIndex()

	_ = idx.Insert([]byte("tag"), []byte("doc1"))
	_ = idx.Insert([]byte("tag"), []byte("doc2"))

	all, err := idx.SearchAll([]byte("tag"))
	if err != nil {
		t.Fatalf("SearchAll failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 values under key, got %d", len(all))
	}

	if err := idx.Delete([]byte("tag")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := idx.Search([]byte("tag")); err == nil {
		t.Error("expected key to be gone after delete")
	}
}

func TestNewIndexFactory(t *testing.T) {
	if _, ok := NewIndex(KindOrdered).(*OrderedIndex); !ok {
		t.Error("expected KindOrdered to produce *OrderedIndex")
	}
	if _, ok := NewIndex(KindHash).(*HashIndex); !ok {
		t.Error("expected KindHash to produce *HashIndex")
	}
}
