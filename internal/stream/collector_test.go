package stream

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_EmissionOrder(t *testing.T) {
	c := NewCollector()
	c.Observe(ToolCallStart{Index: 0, ID: "a", Name: "first"})
	c.Observe(ToolCallStart{Index: 1, ID: "b", Name: "second"})
	c.Observe(ToolCallArgsDelta{Index: 1, PartialJSON: `{}`})
	c.Observe(ToolCallArgsDelta{Index: 0, PartialJSON: `{}`})
	c.Observe(ToolCallStop{Index: 1})
	c.Observe(ToolCallStop{Index: 0})

	calls := c.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].ID)
	assert.Equal(t, "b", calls[1].ID)
}

func TestCollector_MissingStopFlagsIncomplete(t *testing.T) {
	c := NewCollector()
	c.Observe(ToolCallStart{Index: 0, ID: "a", Name: "t"})
	c.Observe(ToolCallArgsDelta{Index: 0, PartialJSON: `{"x": 1}`})

	calls := c.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Incomplete)
}

// Property: for any argument object, splitting its JSON into arbitrary delta
// fragments followed by a stop reproduces the same parsed arguments.
func TestCollector_DeltaConcatenationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("deltas concat to parsed arguments", prop.ForAll(
		func(keys []string, cut int) bool {
			args := make(map[string]string, len(keys))
			for i, k := range keys {
				args[fmt.Sprintf("k%d_%s", i, k)] = k
			}
			raw, err := json.Marshal(args)
			if err != nil {
				return false
			}

			// Split the document at an arbitrary byte position.
			if cut < 0 {
				cut = -cut
			}
			cut = cut % (len(raw) + 1)
			fragments := []string{string(raw[:cut]), string(raw[cut:])}

			c := NewCollector()
			c.Observe(ToolCallStart{Index: 0, ID: "id", Name: "t"})
			for _, f := range fragments {
				c.Observe(ToolCallArgsDelta{Index: 0, PartialJSON: f})
			}
			c.Observe(ToolCallStop{Index: 0})

			calls := c.Calls()
			if len(calls) != 1 || calls[0].Incomplete || calls[0].Repaired {
				return false
			}
			var got map[string]string
			if err := json.Unmarshal(calls[0].Arguments, &got); err != nil {
				return false
			}
			if len(got) != len(args) {
				return false
			}
			for k, v := range args {
				if got[k] != v {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
		gen.Int(),
	))

	properties.TestingRun(t)
}
