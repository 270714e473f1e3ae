package localization_test

import (
	"testing"
	"testing/fstest"

	"medchat/backend/internal/localization"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedCatalogs(t *testing.T) {
	l, err := localization.NewLocalizer()
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"en", "uk"}, l.Languages())
	assert.Equal(t, "Doctor", l.GetString("en", "role_doctor"))
	assert.Equal(t, "Лікар", l.GetString("uk", "role_doctor"))
	assert.Equal(t, "New message from Dr. Bondar:\nHello", l.Format("en", "new_message", "Dr. Bondar", "Hello"))
}

func TestFallbacks(t *testing.T) {
	fsys := fstest.MapFS{
		"loc/en.json":   {Data: []byte(`{"greeting":"Hello","only_en":"English only"}`)},
		"loc/uk.json":   {Data: []byte(`{"greeting":"Привіт"}`)},
		"loc/notes.txt": {Data: []byte("ignored")},
	}
	l, err := localization.NewLocalizerFS(fsys, "loc")
	require.NoError(t, err)

	assert.Equal(t, "Привіт", l.GetString("uk", "greeting"))
	assert.Equal(t, "English only", l.GetString("uk", "only_en"))
	assert.Equal(t, "Hello", l.GetString("de", "greeting"))
	assert.Equal(t, "missing_key", l.GetString("en", "missing_key"))
}

func TestBrokenCatalog(t *testing.T) {
	fsys := fstest.MapFS{"loc/en.json": {Data: []byte(`{not json`)}}
	_, err := localization.NewLocalizerFS(fsys, "loc")
	assert.Error(t, err)
}
