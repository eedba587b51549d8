package impostor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var players = []string{"a", "b", "c", "d", "e"}

func TestAssignRoles(t *testing.T) {
	deck := Deck{Theme: CustomTheme, Words: testWords}

	for impostors := 1; impostors < len(players); impostors++ {
		a, err := AssignRoles(players, impostors, deck, nil)
		require.NoError(t, err)
		require.Len(t, a.Roles, len(players))
		assert.Contains(t, testWords, a.Word)
		assert.Empty(t, a.Hint)

		n := 0
		for _, role := range a.Roles {
			if role == Impostor {
				n++
			} else {
				assert.Equal(t, a.Word, role)
			}
		}
		assert.Equal(t, impostors, n)
	}
}

func TestAssignRolesRejects(t *testing.T) {
	_, err := AssignRoles(players, 1, Deck{}, nil)
	assert.ErrorIs(t, err, ErrNoWords)

	deck := Deck{Words: testWords}
	_, err = AssignRoles(players, 0, deck, nil)
	assert.ErrorIs(t, err, ErrInvalidSettings)
	_, err = AssignRoles(players, len(players), deck, nil)
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestAssignRolesHint(t *testing.T) {
	deck := Deck{
		Theme:    "food",
		Lang:     "en",
		Words:    []string{"taco"},
		HintMode: true,
		Hint: func(theme, lang, word string) string {
			return theme + ":" + lang + ":" + word
		},
	}

	a, err := AssignRoles(players, 2, deck, nil)
	require.NoError(t, err)
	assert.Equal(t, "taco", a.Word)
	assert.Equal(t, "food:en:taco", a.Hint)

	deck.HintMode = false
	a, err = AssignRoles(players, 2, deck, nil)
	require.NoError(t, err)
	assert.Empty(t, a.Hint)
}

func TestAssignRolesRetriesTakenSlots(t *testing.T) {
	draws := []int{0, 1, 1, 1, 3}
	intn := func(n int) int {
		v := draws[0]
		draws = draws[1:]
		return v
	}

	a, err := AssignRoles(players, 2, Deck{Words: testWords}, intn)
	require.NoError(t, err)
	assert.Equal(t, testWords[0], a.Word)
	assert.Equal(t, []string{a.Word, Impostor, a.Word, Impostor, a.Word}, a.Roles)
	assert.Empty(t, draws)
}

func TestAssignRolesUniform(t *testing.T) {
	const trials = 20000
	deck := Deck{Words: testWords}

	seats := make(map[int]int)
	words := make(map[string]int)
	for i := 0; i < trials; i++ {
		a, err := AssignRoles(players, 2, deck, nil)
		require.NoError(t, err)
		words[a.Word]++
		for idx, role := range a.Roles {
			if role == Impostor {
				seats[idx]++
			}
		}
	}

	// each seat is an impostor 2/5 of the time
	want := float64(trials) * 2 / 5
	for idx := range players {
		assert.InEpsilon(t, want, float64(seats[idx]), 0.05, "seat %d", idx)
	}
	for _, w := range testWords {
		assert.InEpsilon(t, float64(trials)/float64(len(testWords)), float64(words[w]), 0.05, "word %s", w)
	}
}
