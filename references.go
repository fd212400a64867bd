package docbase

import (
	"errors"
	"fmt"

	"github.com/kartikbazzad/docbase/schema"
)

const (
	onDeleteRestrict = "restrict"
	onDeleteSetNull  = "set-null"
	onDeleteCascade  = "cascade"
)

// ReferenceRule defines a schema-level reference from a source collection
// field to a target collection field, derived from the field's
// x-docbase-ref constraint in its schema.Definition.
type ReferenceRule struct {
	SourceCollection string
	SourceField      string
	TargetCollection string
	TargetField      string
	OnDelete         string
}

// referenceRulesFromSchema walks a compiled schema.Definition and extracts
// one ReferenceRule per field carrying a Reference constraint. Unlike the
// original JSON-property scan, this runs after schema compilation, so a
// malformed x-docbase-ref has already failed at schema-registration time.
func referenceRulesFromSchema(sourceCollection string, def *schema.Definition) ([]ReferenceRule, error) {
	if def == nil {
		return nil, nil
	}

	rules := make([]ReferenceRule, 0)
	for fieldName, fs := range def.Properties {
		if fs.Reference == nil {
			continue
		}

		targetField := fs.Reference.TargetField
		if targetField == "" {
			targetField = "_id"
		}
		if targetField != "_id" {
			return nil, fmt.Errorf("%w: reference target field for %s must be _id in v1", ErrInvalidReferenceSchema, fieldName)
		}

		onDelete := fs.Reference.OnDelete
		if onDelete == "" {
			onDelete = onDeleteSetNull
		}
		if !isValidOnDelete(onDelete) {
			return nil, fmt.Errorf("%w: invalid on_delete %q for field %s", ErrInvalidReferenceSchema, onDelete, fieldName)
		}
		if fs.Reference.TargetCollection == "" {
			return nil, fmt.Errorf("%w: reference target collection is required for field %s", ErrInvalidReferenceSchema, fieldName)
		}

		rules = append(rules, ReferenceRule{
			SourceCollection: sourceCollection,
			SourceField:      fieldName,
			TargetCollection: fs.Reference.TargetCollection,
			TargetField:      targetField,
			OnDelete:         onDelete,
		})
	}

	return rules, nil
}

func isValidOnDelete(v string) bool {
	switch v {
	case onDeleteRestrict, onDeleteSetNull, onDeleteCascade:
		return true
	default:
		return false
	}
}

func normalizeReferenceValue(v interface{}) (string, error) {
	switch typed := v.(type) {
	case string:
		if typed == "" {
			return "", errors.New("empty reference value")
		}
		return typed, nil
	case float64, float32, int, int64, int32, int16, int8, uint, uint64, uint32, uint16, uint8, bool:
		return fmt.Sprintf("%v", typed), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("reference field must be a scalar")
	}
}
