package storage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Document represents the dynamic, tree-shaped value a caller stores: null,
// bool, number, string, array, or a mapping of string keys to values. At the
// top level it is always a mapping. Mappings are Go maps, so the order in
// which keys were written is not kept.
type Document map[string]interface{}

// DocumentID is a unique identifier for a document, opaque to callers.
type DocumentID string

// Serialize converts a document to JSON bytes.
func (d Document) Serialize() ([]byte, error) {
	buf := GetBuffer()
	defer PutBuffer(buf)

	encoder := json.NewEncoder(buf)
	if err := encoder.Encode(d); err != nil {
		return nil, fmt.Errorf("failed to serialize document: %w", err)
	}

	// Encode appends a trailing newline; trim it, and copy out of the
	// pooled buffer since it gets reused after this function returns.
	b := buf.Bytes()
	if len(b) > 0 && b[len(b)-1] == '\n' {
		b = b[:len(b)-1]
	}

	result := make([]byte, len(b))
	copy(result, b)
	return result, nil
}

// DeserializeDocument creates a document from JSON bytes.
func DeserializeDocument(data []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to deserialize document: %w", err)
	}
	return d, nil
}

// Deserialize converts JSON bytes to a document (alias of DeserializeDocument
// kept for call sites that pre-date the rename).
func Deserialize(data []byte) (Document, error) {
	return DeserializeDocument(data)
}

// GetID returns the document ID if it exists.
func (d Document) GetID() (DocumentID, bool) {
	id, exists := d["_id"]
	if !exists {
		return "", false
	}
	idStr, ok := id.(string)
	if !ok {
		return "", false
	}
	return DocumentID(idStr), true
}

// SetID sets the document ID.
func (d Document) SetID(id DocumentID) {
	d["_id"] = string(id)
}

// Clone creates a deep copy of the document.
func (d Document) Clone() Document {
	clone := make(Document, len(d))
	for k, v := range d {
		clone[k] = deepCopyValue(v)
	}
	return clone
}

func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case Document:
		return val.Clone()
	case map[string]interface{}:
		return Document(val).Clone()
	case []interface{}:
		cp := make([]interface{}, len(val))
		for i, item := range val {
			cp[i] = deepCopyValue(item)
		}
		return cp
	default:
		return val
	}
}

// Size returns the approximate size of the document in bytes.
func (d Document) Size() int {
	data, err := json.Marshal(d)
	if err != nil {
		return 0
	}
	return len(data)
}

// Get resolves a dot-path against the document, returning (nil, false) for
// any missing intermediate key.
func (d Document) Get(path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = map[string]interface{}(d)
	for _, part := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			if dm, ok := cur.(Document); ok {
				m = map[string]interface{}(dm)
			} else {
				return nil, false
			}
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// ApplyPatch merges a (possibly dot-pathed) set of field assignments into the
// document in place. Each key in patch is a top-level or dot-nested path;
// intermediate objects are created as needed.
func (d Document) ApplyPatch(patch map[string]interface{}) error {
	for path, value := range patch {
		parts := strings.Split(path, ".")
		if len(parts) == 1 {
			if value == nil {
				delete(d, path)
			} else {
				d[path] = value
			}
			continue
		}

		cur := map[string]interface{}(d)
		for i := 0; i < len(parts)-1; i++ {
			next, ok := cur[parts[i]]
			if !ok {
				nm := make(map[string]interface{})
				cur[parts[i]] = nm
				cur = nm
				continue
			}
			nm, ok := next.(map[string]interface{})
			if !ok {
				if dm, ok := next.(Document); ok {
					nm = map[string]interface{}(dm)
				} else {
					return fmt.Errorf("cannot descend into non-object field %q", parts[i])
				}
			}
			cur = nm
		}
		last := parts[len(parts)-1]
		if value == nil {
			delete(cur, last)
		} else {
			cur[last] = value
		}
	}
	return nil
}
