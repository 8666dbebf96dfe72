package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Spark memory strings use single-letter binary suffixes ("512m", "2g").
// The multipliers match the JVM's interpretation.
var sparkMemoryUnits = map[string]int64{
	"":  1,
	"b": 1,
	"k": 1 << 10,
	"m": 1 << 20,
	"g": 1 << 30,
	"t": 1 << 40,
	"p": 1 << 50,
}

// ParseSparkMemory parses a Spark memory string into bytes.
// Examples: "512m" -> 536870912, "2g" -> 2147483648, "1024" -> 1024
func ParseSparkMemory(memory string) (int64, error) {
	s := strings.ToLower(strings.TrimSpace(memory))
	if s == "" {
		return 0, fmt.Errorf("memory is required")
	}

	i := len(s)
	for i > 0 && (s[i-1] < '0' || s[i-1] > '9') {
		i--
	}
	value, unit := s[:i], s[i:]
	if value == "" {
		return 0, fmt.Errorf("memory %q has no numeric part", memory)
	}

	num, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("memory %q: %w", memory, err)
	}
	if num <= 0 {
		return 0, fmt.Errorf("memory %q must be positive", memory)
	}

	multiplier, ok := sparkMemoryUnits[unit]
	if !ok {
		return 0, fmt.Errorf("memory %q has unknown unit %q", memory, unit)
	}

	return num * multiplier, nil
}

// SparkMemoryToQuantity converts a Spark memory string into the equivalent
// Kubernetes quantity string ("2g" -> "2Gi").
func SparkMemoryToQuantity(memory string) (string, error) {
	bytes, err := ParseSparkMemory(memory)
	if err != nil {
		return "", err
	}
	return FormatMemory(bytes), nil
}

// FormatMemory formats bytes using the largest exact binary unit.
// Examples: 2147483648 -> "2Gi", 536870912 -> "512Mi", 1000 -> "1000"
func FormatMemory(bytes int64) string {
	units := []string{"Ki", "Mi", "Gi", "Ti", "Pi"}

	suffix := ""
	for _, u := range units {
		if bytes%1024 != 0 {
			break
		}
		bytes /= 1024
		suffix = u
	}
	return strconv.FormatInt(bytes, 10) + suffix
}
