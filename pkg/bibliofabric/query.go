package bibliofabric

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
)

// FilterField is a single name/value filter pair.
type FilterField struct {
	Name  string
	Value any
}

// Flattenable is implemented by structured filter values that can enumerate
// their fields as name/value pairs. Fields with nil values are elided from
// the query.
type Flattenable interface {
	FilterFields() []FilterField
}

// Filters carries search filter criteria in either structured or raw form.
type Filters struct {
	structured Flattenable
	raw        map[string]any
}

// StructuredFilters wraps a Flattenable filter value.
func StructuredFilters(f Flattenable) *Filters {
	return &Filters{structured: f}
}

// RawFilters wraps a plain name-to-value map.
func RawFilters(m map[string]any) *Filters {
	return &Filters{raw: m}
}

// apply adds the filter pairs to the query, skipping nil values.
func (f *Filters) apply(query url.Values) error {
	if f == nil {
		return nil
	}

	if f.structured != nil {
		for _, field := range f.structured.FilterFields() {
			if field.Value == nil {
				continue
			}

			value, err := stringifyQueryValue(field.Value)
			if err != nil {
				return wrapError(KindValidation, err, "filter %q", field.Name)
			}

			query.Set(field.Name, value)
		}
	}

	for name, raw := range f.raw {
		if raw == nil {
			continue
		}

		value, err := stringifyQueryValue(raw)
		if err != nil {
			return wrapError(KindValidation, err, "filter %q", name)
		}

		query.Set(name, value)
	}

	return nil
}

// stringifyQueryValue renders a filter value as a query parameter string.
func stringifyQueryValue(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", fmt.Errorf("unsupported filter value type %T", value)
	}
}

// sortPattern matches "<field> asc" or "<field> desc".
var sortPattern = regexp.MustCompile(`^\S+ (asc|desc)$`)

// validateSortBy checks sort specification syntax only; field names are the
// concrete client's responsibility.
func validateSortBy(sortBy string) error {
	if sortBy == "" {
		return nil
	}

	if !sortPattern.MatchString(sortBy) {
		return newError(KindValidation, "sort_by must be of the form \"<field> asc|desc\", got %q", sortBy)
	}

	return nil
}
