package prompt

import (
	"context"
	"fmt"
	"testing"

	"github.com/hupe1980/storymesh/core"
	"github.com/hupe1980/storymesh/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAgent() *core.Agent {
	a := core.NewAgent("Alice")
	a.Location = "Tavern"
	a.Relations = map[string]int{"Steve": 5, "Bob": -2}
	a.Memory = []core.Message{core.System("Alice is a barmaid.")}
	for i := 1; i <= 25; i++ {
		a.Memory = append(a.Memory, core.System(fmt.Sprintf("memory %d", i)))
	}
	return a
}

func testLocations() *memory.InMemoryLocationStore {
	return memory.NewInMemoryLocationStore(
		&core.Location{Name: "Kingdom", Context: []string{"The kingdom is at war."}},
		&core.Location{Name: "Tavern", Parent: "Kingdom", Context: []string{"The tavern smells of ale."}},
	)
}

func TestAssemble_Order(t *testing.T) {
	asm := New(testLocations(), func(o *Options) {
		o.GeneralContexts = []string{"It is a medieval world."}
	})
	history := []core.Message{core.User("Steve: hello")}

	got := asm.Assemble(context.Background(), Turn{
		Mode:         ModeGroup,
		Agent:        testAgent(),
		Agents:       []string{"Alice", "Bob"},
		Participants: []string{"Steve"},
		History:      history,
	})

	// 1 general + 2 location + 2 relation + persona + 10 memory + 1 history + directive
	require.Len(t, got, 18)
	assert.Equal(t, core.System("It is a medieval world."), got[0])
	assert.Equal(t, core.System("The tavern smells of ale."), got[1])
	assert.Equal(t, core.System("The kingdom is at war."), got[2])
	assert.Equal(t, core.System("Relations: {Bob=-2, Steve=5}"), got[3])
	assert.Equal(t, core.System(RelationGuidance), got[4])
	assert.Equal(t, core.System("Alice is a barmaid."), got[5])
	assert.Equal(t, core.System("memory 16"), got[6])
	assert.Equal(t, core.System("memory 25"), got[15])
	assert.Equal(t, history[0], got[16])

	directive := got[17]
	assert.Equal(t, core.RoleSystem, directive.Role())
	assert.Contains(t, directive.Text(), "You are Alice.")
	assert.Contains(t, directive.Text(), "conversation with: Bob, Steve.")
	assert.Contains(t, directive.Text(), "This is YOUR turn to speak.")
}

func TestAssemble_AmbientUsesWiderWindow(t *testing.T) {
	asm := New(nil)
	got := asm.Assemble(context.Background(), Turn{
		Mode:   ModeAmbient,
		Agent:  testAgent(),
		Agents: []string{"Alice", "Bob"},
	})
	// 2 relation + persona + 20 memory + directive
	require.Len(t, got, 24)
	assert.Equal(t, core.System("Alice is a barmaid."), got[2])
	assert.Equal(t, core.System("memory 6"), got[3])
	assert.Contains(t, got[23].Text(), "You are Alice in a conversation with Bob.")
}

func TestAssemble_Deterministic(t *testing.T) {
	asm := New(testLocations(), func(o *Options) {
		o.GeneralContexts = []string{"a", "b"}
	})
	turn := Turn{Agent: testAgent(), Agents: []string{"Alice", "Bob"}, History: []core.Message{core.User("x")}}
	first := asm.Assemble(context.Background(), turn)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, asm.Assemble(context.Background(), turn))
	}
}

func TestAssemble_ShortMemoryNotDuplicated(t *testing.T) {
	a := core.NewAgent("Bob")
	a.Memory = []core.Message{core.System("Bob is a guard."), core.System("one")}
	got := New(nil).Assemble(context.Background(), Turn{Agent: a, Agents: []string{"Bob"}})
	require.Len(t, got, 5)
	assert.Equal(t, core.System("Bob is a guard."), got[2])
	assert.Equal(t, core.System("one"), got[3])
	assert.Contains(t, got[4].Text(), "conversation with: nobody.")
}

func TestGreeting(t *testing.T) {
	got := New(nil).Greeting(context.Background(), testAgent(), "Steve")
	last := got[len(got)-1]
	assert.Contains(t, last.Text(), "You've just noticed Steve")
}

func TestJoin(t *testing.T) {
	var history []core.Message
	for i := 0; i < 12; i++ {
		history = append(history, core.User(fmt.Sprintf("line %d", i)))
	}
	got := New(nil).Join(context.Background(), testAgent(), []string{"Alice", "Bob", "Steve"}, history)
	n := len(got)
	assert.Equal(t, core.RoleUser, got[n-1].Role())
	assert.Contains(t, got[n-1].Text(), "as Alice joining")
	assert.Contains(t, got[n-2].Text(), "ongoing conversation with: Bob, Steve")
	assert.Equal(t, core.User("line 11"), got[n-3])
	assert.Equal(t, core.User("line 2"), got[n-12])
}
