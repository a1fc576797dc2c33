// Package catalog wires every built-in rule engine into one registry.
package catalog

import (
	"github.com/jason-s-yu/tabletop/internal/rules"
	"github.com/jason-s-yu/tabletop/internal/rules/ohhell"
	"github.com/jason-s-yu/tabletop/internal/rules/swoop"
	"github.com/jason-s-yu/tabletop/internal/rules/telestrations"
	"github.com/jason-s-yu/tabletop/internal/rules/war"
	"github.com/jason-s-yu/tabletop/internal/rules/warinheaven"
)

// Default returns a registry holding all five games.
func Default() *rules.Registry {
	return rules.NewRegistry(
		war.New(),
		ohhell.New(),
		swoop.New(),
		telestrations.New(),
		warinheaven.New(),
	)
}
