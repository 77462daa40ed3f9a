package pizza

import (
	"errors"
	"fmt"
)

// SlicesPerPizza is how many slices one Contoso pizza yields.
const SlicesPerPizza = 8

// Appetite levels accepted by the calculator.
const (
	AppetiteLight  = "light"
	AppetiteNormal = "normal"
	AppetiteHungry = "hungry"
)

var slicesPerPerson = map[string]int{
	AppetiteLight:  2,
	AppetiteNormal: 3,
	AppetiteHungry: 4,
}

var (
	// ErrInvalidPeopleCount is returned for a people count below one.
	ErrInvalidPeopleCount = errors.New("people_count must be at least 1")

	// ErrInvalidAppetite is returned for an unknown appetite level.
	ErrInvalidAppetite = errors.New("appetite_level must be light, normal, or hungry")
)

// Calculation breaks down a pizza recommendation for a group.
type Calculation struct {
	PeopleCount    int    `json:"people_count"`
	AppetiteLevel  string `json:"appetite_level"`
	SlicesPerGuest int    `json:"slices_per_guest"`
	SlicesNeeded   int    `json:"slices_needed"`
	Pizzas         int    `json:"pizzas"`
	Recommendation string `json:"recommendation"`
}

// Calculate plans whole pizzas for a group. An empty appetite level means
// normal. The result always rounds up so nobody goes hungry.
func Calculate(peopleCount int, appetiteLevel string) (*Calculation, error) {
	if peopleCount < 1 {
		return nil, ErrInvalidPeopleCount
	}
	if appetiteLevel == "" {
		appetiteLevel = AppetiteNormal
	}

	perGuest, ok := slicesPerPerson[appetiteLevel]
	if !ok {
		return nil, fmt.Errorf("%w (got %q)", ErrInvalidAppetite, appetiteLevel)
	}

	slices := peopleCount * perGuest
	pizzas := (slices + SlicesPerPizza - 1) / SlicesPerPizza

	noun := "pizzas"
	if pizzas == 1 {
		noun = "pizza"
	}
	recommendation := fmt.Sprintf(
		"For %d people with a %s appetite you need %d slices. Order %d %s (%d slices each).",
		peopleCount, appetiteLevel, slices, pizzas, noun, SlicesPerPizza,
	)

	return &Calculation{
		PeopleCount:    peopleCount,
		AppetiteLevel:  appetiteLevel,
		SlicesPerGuest: perGuest,
		SlicesNeeded:   slices,
		Pizzas:         pizzas,
		Recommendation: recommendation,
	}, nil
}

// CalculatePizzas is the plain-string form used by the HTTP endpoint and
// the agent tool.
func CalculatePizzas(peopleCount int, appetiteLevel string) (string, error) {
	calc, err := Calculate(peopleCount, appetiteLevel)
	if err != nil {
		return "", err
	}
	return calc.Recommendation, nil
}
