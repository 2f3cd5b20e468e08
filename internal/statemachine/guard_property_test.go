//go:build property

package statemachine_test

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"covenant/internal/statemachine"
)

// Property: any walk that only follows accepted transitions ends in a valid
// state, and once terminal nothing but a same-state change is accepted.
func TestRandomWalksRespectTerminalStates(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	g := statemachine.NewGuard()
	ctx := context.Background()

	properties.Property("terminal states absorb", prop.ForAll(
		func(typeIdx int, picks []int) bool {
			et := statemachine.EntityTypes[typeIdx]
			states := g.States(et)
			current := states[0]
			for _, p := range picks {
				next := states[p%len(states)]
				err := g.ValidateTransition(ctx, et, "walk", current, next, "prop", "")
				if g.IsTerminalState(et, current) && next != current && err == nil {
					return false
				}
				if err == nil {
					current = next
				}
				if !g.IsValidState(et, current) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, len(statemachine.EntityTypes)-1),
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}
