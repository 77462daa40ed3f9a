package toolexecutor

// Category classifies a tool by the kind of effect it has. Policies can
// gate whole categories instead of enumerating tool names.
type Category string

const (
	// CategoryRead covers tools that only look things up (menu, order
	// status, knowledge search).
	CategoryRead Category = "read"

	// CategoryWrite covers tools that mutate local state (placing or
	// cancelling orders).
	CategoryWrite Category = "write"

	// CategoryOrder covers tools that drive the order workflow beyond a
	// single mutation, such as bulk or scheduled operations.
	CategoryOrder Category = "order"

	// CategoryExternal covers tools that call out to remote systems,
	// including everything mirrored from MCP servers.
	CategoryExternal Category = "external"
)

// KnownCategories returns every category the executor understands.
func KnownCategories() []Category {
	return []Category{CategoryRead, CategoryWrite, CategoryOrder, CategoryExternal}
}

// Valid reports whether the category is one the executor understands.
// An empty category is valid; it means the tool was registered without
// classification and is treated as read.
func (c Category) Valid() bool {
	if c == "" {
		return true
	}
	for _, known := range KnownCategories() {
		if c == known {
			return true
		}
	}
	return false
}

// orDefault returns the category itself, or CategoryRead when unset.
func (c Category) orDefault() Category {
	if c == "" {
		return CategoryRead
	}
	return c
}
