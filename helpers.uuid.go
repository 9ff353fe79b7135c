package main

import (
	"strings"

	"github.com/gofrs/uuid"
)

var _ UIDHandler = (*IDsHandler)(nil) // ensure IDsHandler implements UIDHandler.

// UIDHandler generates and checks prefixed unique ids.
type UIDHandler interface {
	Generate(prefix string) string
	IsValid(id, prefix string) bool
}

// IDsHandler implements the UIDHandler interface.
type IDsHandler struct{}

// NewIDsHandler returns a ready to use IDsHandler.
func NewIDsHandler() *IDsHandler {
	return &IDsHandler{}
}

// Generate provides a random unique identifier like `b:<uuid-v4>`.
func (idh *IDsHandler) Generate(prefix string) string {
	return prefix + ":" + uuid.Must(uuid.NewV4()).String()
}

// IsValid checks that id carries the prefix followed by a valid uuid.
func (idh *IDsHandler) IsValid(id, prefix string) bool {
	raw, ok := strings.CutPrefix(id, prefix+":")
	if !ok {
		return false
	}
	return uuid.FromStringOrNil(raw) != uuid.Nil
}
