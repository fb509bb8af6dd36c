// Package category provides the closed set of waste categories the station
// sorts into, their sorter wire codes, and label parsing
package category

import "strings"

// Category is a waste category label as produced by the classifier
type Category string

// Category constants
const (
	Paper   Category = "Paper"
	Glass   Category = "Glass"
	Metal   Category = "Metal"
	Plastic Category = "Plastic"
	Trash   Category = "Trash"

	// Unknown marks a label that does not map to a registered category.
	// It is never part of Registered.
	Unknown Category = "Unknown"
)

// Registered contains the categories the station sorts into, in bin order
var Registered = []Category{Paper, Glass, Metal, Plastic, Trash}

// UnknownCode is the wire code for Unknown; the firmware parks the arm
// instead of committing to a bin
const UnknownCode byte = 0xFF

var codes = map[Category]byte{
	Paper:   0x01,
	Glass:   0x02,
	Metal:   0x03,
	Plastic: 0x04,
	Trash:   0x05,
	Unknown: UnknownCode,
}

// Code returns the single-byte wire code sent to the sorter controller.
// Unregistered values map to UnknownCode.
func (c Category) Code() byte {
	if code, ok := codes[c]; ok {
		return code
	}
	return UnknownCode
}

// FromCode maps a wire code back to its category. The second return is
// false for codes outside the protocol.
func FromCode(code byte) (Category, bool) {
	for c, b := range codes {
		if b == code {
			return c, true
		}
	}
	return Unknown, false
}

// Parse maps a classifier label to a Category, case-insensitively.
// Labels outside the registered set return (Unknown, false).
func Parse(label string) (Category, bool) {
	trimmed := strings.TrimSpace(label)
	for _, c := range Registered {
		if strings.EqualFold(trimmed, string(c)) {
			return c, true
		}
	}
	if strings.EqualFold(trimmed, string(Unknown)) {
		return Unknown, false
	}
	return Unknown, false
}

// IsRegistered checks if the given category is in the registered set
func IsRegistered(c Category) bool {
	for _, registered := range Registered {
		if c == registered {
			return true
		}
	}
	return false
}

// RegisteredStrings returns the registered category names for error messages
func RegisteredStrings() string {
	names := make([]string, len(Registered))
	for i, c := range Registered {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
