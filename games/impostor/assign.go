package impostor

import "github.com/valyala/fastrand"

// Impostor is the role value held by players who do not know the word.
const Impostor = "IMPOSTOR"

// ErrNoWords is returned when a deck resolves to an empty word list.
var ErrNoWords = &Error{CodeInvalidTheme, "no words available"}

// Deck is the resolved word source for one game.
type Deck struct {
	Theme    string
	Lang     string
	Words    []string
	HintMode bool

	// Hint derives the impostor hint for a chosen word. Only consulted
	// when HintMode is set.
	Hint func(theme, lang, word string) string
}

// Assignment is the outcome of one role draw. Roles is parallel to the
// player ids it was drawn for.
type Assignment struct {
	Roles []string
	Word  string
	Hint  string
}

func fastrandIntn(n int) int {
	return int(fastrand.Uint32n(uint32(n)))
}

// AssignRoles picks a secret word and marks exactly impostors of the ids as
// Impostor. intn must return a uniform value in [0, n); nil uses fastrand.
func AssignRoles(ids []string, impostors int, deck Deck, intn func(n int) int) (Assignment, error) {
	if len(deck.Words) == 0 {
		return Assignment{}, ErrNoWords
	}
	if impostors < 1 || impostors >= len(ids) {
		return Assignment{}, ErrInvalidSettings
	}
	if intn == nil {
		intn = fastrandIntn
	}

	word := deck.Words[intn(len(deck.Words))]
	roles := make([]string, len(ids))
	for i := range roles {
		roles[i] = word
	}

	chosen := make([]bool, len(ids))
	for marked := 0; marked < impostors; {
		idx := intn(len(ids))
		if !chosen[idx] {
			chosen[idx] = true
			roles[idx] = Impostor
			marked++
		}
	}

	a := Assignment{Roles: roles, Word: word}
	if deck.HintMode && deck.Hint != nil {
		a.Hint = deck.Hint(deck.Theme, deck.Lang, word)
	}
	return a, nil
}
