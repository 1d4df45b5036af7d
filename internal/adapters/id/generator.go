package id

import (
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/anyhui/aleeai-prompt/internal/ports"
)

const versionPrefix = "pv"

type Generator struct{}

var _ ports.IDGenerator = (*Generator)(nil)

func New() *Generator {
	return &Generator{}
}

func (g *Generator) generate(prefix string) string {
	id, err := gonanoid.New(21)
	if err != nil {
		return prefix + "_" + uuid.NewString()
	}
	return prefix + "_" + id
}

// GenerateVersionID returns a pv_ prefixed nanoid.
func (g *Generator) GenerateVersionID() string {
	return g.generate(versionPrefix)
}

// GenerateRunID returns a random UUID.
func (g *Generator) GenerateRunID() string {
	return uuid.NewString()
}
