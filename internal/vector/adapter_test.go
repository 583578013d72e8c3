package vector_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"

	"corpora/internal/vector"
)

// newAdapter points an adapter at a fake Weaviate that answers /v1/meta and
// hands every other request to handler.
func newAdapter(t *testing.T, handler http.HandlerFunc) *vector.WeaviateClientAdapter {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"version": "1.19.0"}`))
			return
		}
		handler(w, r)
	}))
	t.Cleanup(ts.Close)

	client, err := weaviate.NewClient(weaviate.Config{Host: ts.Listener.Addr().String(), Scheme: "http"})
	require.NoError(t, err)
	return vector.NewWeaviateClientAdapter(client)
}

func TestWeaviateClientAdapter_ClassExists(t *testing.T) {
	t.Run("Exists", func(t *testing.T) {
		adapter := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/schema/DocumentUnit", r.URL.Path)
			json.NewEncoder(w).Encode(&models.Class{Class: "DocumentUnit"})
		})

		exists, err := adapter.ClassExists(context.Background(), "DocumentUnit")
		assert.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("NotFound", func(t *testing.T) {
		adapter := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		exists, err := adapter.ClassExists(context.Background(), "DocumentUnit")
		assert.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestWeaviateClientAdapter_SchemaWrites(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		call   func(a *vector.WeaviateClientAdapter) error
	}{
		{
			name: "CreateClass", method: http.MethodPost, path: "/v1/schema",
			call: func(a *vector.WeaviateClientAdapter) error {
				return a.CreateClass(context.Background(), &models.Class{Class: "DocumentUnit"})
			},
		},
		{
			name: "AddProperty", method: http.MethodPost, path: "/v1/schema/DocumentUnit/properties",
			call: func(a *vector.WeaviateClientAdapter) error {
				return a.AddProperty(context.Background(), "DocumentUnit", &models.Property{Name: "text", DataType: []string{"text"}})
			},
		},
		{
			name: "DeleteClass", method: http.MethodDelete, path: "/v1/schema/DocumentUnit",
			call: func(a *vector.WeaviateClientAdapter) error {
				return a.DeleteClass(context.Background(), "DocumentUnit")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.path, r.URL.Path)
				assert.Equal(t, tt.method, r.Method)
				w.WriteHeader(http.StatusOK)
			})
			assert.NoError(t, tt.call(adapter))
		})
	}
}

func TestWeaviateClientAdapter_GetClass(t *testing.T) {
	adapter := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		json.NewEncoder(w).Encode(&models.Class{Class: "DocumentUnit", Properties: vector.Properties()})
	})

	class, err := adapter.GetClass(context.Background(), "DocumentUnit")
	require.NoError(t, err)
	assert.Equal(t, "DocumentUnit", class.Class)
	assert.Len(t, class.Properties, len(vector.Properties()))
}
