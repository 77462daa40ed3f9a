package pizza

import "strings"

// MenuItem is one pizza on the Contoso Pizza menu. Price is for a medium;
// size multipliers apply on top.
type MenuItem struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Vegetarian  bool     `json:"vegetarian"`
	Toppings    []string `json:"toppings"`
}

// Size multipliers relative to the medium base price.
var sizeMultipliers = map[string]float64{
	"small":  0.8,
	"medium": 1.0,
	"large":  1.3,
}

var menu = []MenuItem{
	{
		ID:          "margherita",
		Name:        "Margherita",
		Description: "Tomato, fresh mozzarella, and basil on our classic crust.",
		Price:       9.50,
		Vegetarian:  true,
		Toppings:    []string{"tomato", "mozzarella", "basil"},
	},
	{
		ID:          "pepperoni",
		Name:        "Pepperoni Classic",
		Description: "Double pepperoni with mozzarella and oregano.",
		Price:       11.00,
		Vegetarian:  false,
		Toppings:    []string{"pepperoni", "mozzarella", "oregano"},
	},
	{
		ID:          "quattro-formaggi",
		Name:        "Quattro Formaggi",
		Description: "Mozzarella, gorgonzola, parmesan, and provolone.",
		Price:       12.50,
		Vegetarian:  true,
		Toppings:    []string{"mozzarella", "gorgonzola", "parmesan", "provolone"},
	},
	{
		ID:          "hawaiian",
		Name:        "Hawaiian",
		Description: "Ham and pineapple, the pizza people argue about.",
		Price:       11.50,
		Vegetarian:  false,
		Toppings:    []string{"ham", "pineapple", "mozzarella"},
	},
	{
		ID:          "veggie-garden",
		Name:        "Veggie Garden",
		Description: "Bell peppers, mushrooms, red onion, olives, and sweetcorn.",
		Price:       10.50,
		Vegetarian:  true,
		Toppings:    []string{"bell pepper", "mushroom", "red onion", "olives", "sweetcorn"},
	},
	{
		ID:          "diavola",
		Name:        "Diavola",
		Description: "Spicy salami, chili flakes, and smoked mozzarella.",
		Price:       12.00,
		Vegetarian:  false,
		Toppings:    []string{"spicy salami", "chili", "smoked mozzarella"},
	},
	{
		ID:          "bbq-chicken",
		Name:        "BBQ Chicken",
		Description: "Grilled chicken, barbecue sauce, red onion, and cilantro.",
		Price:       12.50,
		Vegetarian:  false,
		Toppings:    []string{"chicken", "bbq sauce", "red onion", "cilantro"},
	},
	{
		ID:          "contoso-supreme",
		Name:        "Contoso Supreme",
		Description: "The house special: pepperoni, sausage, mushrooms, and peppers.",
		Price:       13.50,
		Vegetarian:  false,
		Toppings:    []string{"pepperoni", "sausage", "mushroom", "bell pepper"},
	},
}

// Menu returns the full Contoso Pizza catalog.
func Menu() []MenuItem {
	items := make([]MenuItem, len(menu))
	copy(items, menu)
	return items
}

// Sizes returns the available sizes and their price multipliers.
func Sizes() map[string]float64 {
	sizes := make(map[string]float64, len(sizeMultipliers))
	for size, mult := range sizeMultipliers {
		sizes[size] = mult
	}
	return sizes
}

// PriceFor returns the price of an item at the given size. An empty size
// means medium.
func PriceFor(item MenuItem, size string) (float64, bool) {
	if size == "" {
		size = "medium"
	}
	mult, ok := sizeMultipliers[strings.ToLower(size)]
	if !ok {
		return 0, false
	}
	return item.Price * mult, true
}

// FindItem looks an item up by ID or name, case insensitive.
func FindItem(idOrName string) (MenuItem, bool) {
	needle := strings.ToLower(strings.TrimSpace(idOrName))
	for _, item := range menu {
		if strings.ToLower(item.ID) == needle || strings.ToLower(item.Name) == needle {
			return item, true
		}
	}
	return MenuItem{}, false
}

// SearchMenu matches items whose name, description, or toppings contain
// the query, case insensitive. An empty query returns the full menu.
func SearchMenu(query string) []MenuItem {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return Menu()
	}

	var matches []MenuItem
	for _, item := range menu {
		if strings.Contains(strings.ToLower(item.Name), needle) ||
			strings.Contains(strings.ToLower(item.Description), needle) {
			matches = append(matches, item)
			continue
		}
		for _, topping := range item.Toppings {
			if strings.Contains(strings.ToLower(topping), needle) {
				matches = append(matches, item)
				break
			}
		}
	}

	// "vegetarian" also matches by flag, not just topping text.
	if strings.Contains("vegetarian", needle) || needle == "veggie" {
		seen := make(map[string]bool, len(matches))
		for _, item := range matches {
			seen[item.ID] = true
		}
		for _, item := range menu {
			if item.Vegetarian && !seen[item.ID] {
				matches = append(matches, item)
			}
		}
	}

	return matches
}
