package hierarchy

import "sort"

// Config maps a role slug to the slugs of the roles it inherits permissions
// from. It is an explicit value injected at construction so multiple
// configurations can coexist.
type Config map[string][]string

// Default role slugs shipped with the platform.
const (
	SlugRoot   = "root"
	SlugAdmin  = "admin"
	SlugEditor = "editor"
	SlugUser   = "user"
	SlugGuest  = "guest"
)

// DefaultConfig returns the built-in role hierarchy.
func DefaultConfig() Config {
	return Config{
		SlugRoot:   {SlugAdmin, SlugUser, SlugGuest, SlugEditor},
		SlugAdmin:  {SlugUser, SlugGuest, SlugEditor},
		SlugEditor: {SlugUser},
		SlugUser:   {SlugGuest},
		SlugGuest:  {},
	}
}

// Roles lists every role slug known to the configuration, sorted.
func (c Config) Roles() []string {
	slugs := make([]string, 0, len(c))
	for slug := range c {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

// ChildRoles returns the direct children of a role. Unknown or leaf roles
// yield an empty set.
func (c Config) ChildRoles(slug string) []string {
	children := c[slug]
	out := make([]string, len(children))
	copy(out, children)
	return out
}

// ParentRoles returns every role that directly inherits from the given role.
func (c Config) ParentRoles(slug string) []string {
	var parents []string
	for parent, children := range c {
		for _, child := range children {
			if child == slug {
				parents = append(parents, parent)
				break
			}
		}
	}
	sort.Strings(parents)
	return parents
}

// CanInheritFrom reports whether parent directly inherits from child.
func (c Config) CanInheritFrom(parent, child string) bool {
	for _, slug := range c[parent] {
		if slug == child {
			return true
		}
	}
	return false
}

// Descendants returns the transitive child set of a role. The walk is
// iterative and keeps a visited set, so diamonds in the graph terminate.
func (c Config) Descendants(slug string) []string {
	visited := map[string]struct{}{}
	stack := append([]string(nil), c[slug]...)
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[current]; ok {
			continue
		}
		visited[current] = struct{}{}
		stack = append(stack, c[current]...)
	}
	out := make([]string, 0, len(visited))
	for s := range visited {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Validate walks the graph from every role and reports false when any role
// can reach itself. A role reachable from multiple ancestors is legal; only
// a path back to the starting role is a cycle.
func (c Config) Validate() bool {
	for slug := range c {
		stack := append([]string(nil), c[slug]...)
		visited := map[string]struct{}{}
		for len(stack) > 0 {
			current := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if current == slug {
				return false
			}
			if _, ok := visited[current]; ok {
				continue
			}
			visited[current] = struct{}{}
			stack = append(stack, c[current]...)
		}
	}
	return true
}
