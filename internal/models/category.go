package models

import "strings"

// CategoryDelimiter separates the main and sub category in the legacy
// single-string representation ("Columns > Floor1").
const CategoryDelimiter = " > "

// Category is a two-level QC category
type Category struct {
	Main string `json:"mainCategory"`
	Sub  string `json:"subCategory"`
}

// ParseCategory splits the legacy delimited form. Everything after the first
// delimiter belongs to the sub category; a value without a delimiter is a
// main category with an empty sub category. Parts are trimmed after
// splitting, so a leading or trailing delimiter still separates them.
func ParseCategory(s string) Category {
	if strings.TrimSpace(s) == "" {
		return Category{}
	}
	parts := strings.SplitN(s, CategoryDelimiter, 2)
	c := Category{Main: strings.TrimSpace(parts[0])}
	if len(parts) == 2 {
		c.Sub = strings.TrimSpace(parts[1])
	}
	return c
}

// String renders the legacy delimited form
func (c Category) String() string {
	if c.Sub == "" {
		return c.Main
	}
	return c.Main + CategoryDelimiter + c.Sub
}

// IsZero reports whether no category was given
func (c Category) IsZero() bool {
	return c.Main == "" && c.Sub == ""
}
