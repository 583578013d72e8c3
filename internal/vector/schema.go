package vector

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// DefaultClass is the Weaviate class holding embedded content units.
const DefaultClass = "DocumentUnit"

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// Properties lists the unit fields stored alongside each vector.
func Properties() []*models.Property {
	return []*models.Property{
		{Name: "unitId", DataType: []string{"text"}, Tokenization: "field"},
		{Name: "sourcePath", DataType: []string{"text"}, Tokenization: "field"},
		{Name: "sequenceOrder", DataType: []string{"int"}},
		{Name: "headerPath", DataType: []string{"text[]"}},
		{Name: "text", DataType: []string{"text"}},
	}
}

// EnsureSchema creates the class if missing, otherwise adds any property it lacks.
func EnsureSchema(ctx context.Context, client SchemaClient, className string) error {
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return err
	}

	properties := Properties()
	if !exists {
		class := &models.Class{
			Class:       className,
			Description: "An embedded content unit",
			Vectorizer:  "none",
			Properties:  properties,
		}
		return client.CreateClass(ctx, class)
	}

	class, err := client.GetClass(ctx, className)
	if err != nil {
		return err
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, className, p); err != nil {
				return err
			}
		}
	}

	return nil
}
