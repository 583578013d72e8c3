package settings_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"corpora/internal/settings"
)

func TestPostgresRepo_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := settings.NewPostgresRepo(db)

	t.Run("Success", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "gemini_api_key", "similarity_threshold", "search_top_k"}).
			AddRow(1, "key", 0.25, 8)

		mock.ExpectQuery(regexp.QuoteMeta("SELECT id, gemini_api_key, similarity_threshold, search_top_k FROM settings WHERE id = 1")).
			WillReturnRows(rows)

		s, err := repo.Get(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, "key", s.GeminiAPIKey)
		assert.Equal(t, float32(0.25), s.SimilarityThreshold)
		assert.Equal(t, 8, s.SearchTopK)
	})

	t.Run("Error", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT id")).
			WillReturnError(sqlmock.ErrCancelled)

		s, err := repo.Get(context.Background())
		assert.Error(t, err)
		assert.Nil(t, s)
	})
}

func TestPostgresRepo_Update(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	s := &settings.Settings{GeminiAPIKey: "k", SimilarityThreshold: 0.4, SearchTopK: 12}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE settings")).
		WithArgs(s.GeminiAPIKey, s.SimilarityThreshold, s.SearchTopK).
		WillReturnResult(sqlmock.NewResult(1, 1))

	assert.NoError(t, settings.NewPostgresRepo(db).Update(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}
