package bibliofabric_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utsmok/bibliofabric/pkg/bibliofabric"
)

// workFilters is a structured filter value in the shape concrete clients
// would define.
type workFilters struct {
	Title    string
	FromYear int
	OpenOnly *bool
}

func (f workFilters) FilterFields() []bibliofabric.FilterField {
	var openOnly any
	if f.OpenOnly != nil {
		openOnly = *f.OpenOnly
	}

	return []bibliofabric.FilterField{
		{Name: "title", Value: f.Title},
		{Name: "fromPublicationDate", Value: f.FromYear},
		{Name: "isOpenAccess", Value: openOnly},
	}
}

func searchQuery(t *testing.T, filters *bibliofabric.Filters) url.Values {
	t.Helper()

	var captured url.Values

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		captured = request.URL.Query()

		_ = json.NewEncoder(writer).Encode(map[string]any{"results": []any{}})
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL, nil)

	binding, err := bibliofabric.NewBinding[map[string]any](engine, "works")
	require.NoError(t, err)

	_, err = binding.Search(context.Background(), bibliofabric.SearchOptions{Filters: filters})
	require.NoError(t, err)

	return captured
}

func TestFilters_StructuredFlattening(t *testing.T) {
	t.Parallel()

	open := true
	query := searchQuery(t, bibliofabric.StructuredFilters(workFilters{
		Title:    "machine learning",
		FromYear: 2020,
		OpenOnly: &open,
	}))

	assert.Equal(t, "machine learning", query.Get("title"))
	assert.Equal(t, "2020", query.Get("fromPublicationDate"))
	assert.Equal(t, "true", query.Get("isOpenAccess"))
}

func TestFilters_NilFieldsElided(t *testing.T) {
	t.Parallel()

	query := searchQuery(t, bibliofabric.StructuredFilters(workFilters{
		Title:    "quantum",
		FromYear: 2021,
	}))

	assert.Equal(t, "quantum", query.Get("title"))
	assert.False(t, query.Has("isOpenAccess"))
}

func TestFilters_RawMap(t *testing.T) {
	t.Parallel()

	query := searchQuery(t, bibliofabric.RawFilters(map[string]any{
		"countryCode": "NL",
		"minCited":    15,
		"skipped":     nil,
	}))

	assert.Equal(t, "NL", query.Get("countryCode"))
	assert.Equal(t, "15", query.Get("minCited"))
	assert.False(t, query.Has("skipped"))
}

func TestFilters_UnsupportedValueType(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		t.Error("no request expected for invalid filters")
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL, nil)

	binding, err := bibliofabric.NewBinding[map[string]any](engine, "works")
	require.NoError(t, err)

	_, err = binding.Search(context.Background(), bibliofabric.SearchOptions{
		Filters: bibliofabric.RawFilters(map[string]any{"bad": struct{}{}}),
	})
	require.Error(t, err)
	assert.True(t, bibliofabric.IsValidation(err))
}

func TestSearch_SortValidation(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		_ = json.NewEncoder(writer).Encode(map[string]any{"results": []any{}})
	}))
	t.Cleanup(server.Close)

	engine := newTestEngine(t, server.URL, nil)

	binding, err := bibliofabric.NewBinding[map[string]any](engine, "works")
	require.NoError(t, err)

	tests := []struct {
		name    string
		sortBy  string
		wantErr bool
	}{
		{"empty", "", false},
		{"ascending", "publicationDate asc", false},
		{"descending", "citedCount desc", false},
		{"missing direction", "publicationDate", true},
		{"bad direction", "publicationDate upward", true},
		{"extra tokens", "a b asc", true},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := binding.Search(context.Background(), bibliofabric.SearchOptions{SortBy: testCase.sortBy})
			if testCase.wantErr {
				require.Error(t, err)
				assert.True(t, bibliofabric.IsValidation(err))
			} else {
				require.NoError(t, err)
			}
		})
	}
}
