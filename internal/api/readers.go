package api

import (
	"fmt"
	"strings"
)

// Reader represents a single reader (or reader slot) known to the service.
type Reader struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"` // "picc" for contactless interfaces, "sam" for SAM slots
}

// ReadersFromNames numbers the readers in service order and classifies each.
func ReadersFromNames(names []string) []Reader {
	readers := make([]Reader, 0, len(names))
	for i, name := range names {
		readers = append(readers, Reader{
			ID:   fmt.Sprintf("reader-%d", i),
			Name: name,
			Type: detectReaderType(name),
		})
	}
	return readers
}

// detectReaderType determines if a reader is a PICC or SAM interface based on its name.
func detectReaderType(name string) string {
	nameLower := strings.ToLower(name)

	if strings.Contains(nameLower, " sam") || strings.Contains(nameLower, "sam ") {
		return "sam"
	}

	// Readers without an explicit indicator (some ACR122U models) are
	// contactless.
	return "picc"
}
