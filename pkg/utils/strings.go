package utils

import (
	"fmt"
	"strings"
)

// FormatSlice returns a string with all formatted sequence items separated by a given separator.
func FormatSlice[T any](input []T, separator string) string {
	var builder strings.Builder

	for i, value := range input {
		builder.WriteString(fmt.Sprint(value))

		if i < len(input)-1 {
			builder.WriteString(separator)
		}
	}

	return builder.String()
}
