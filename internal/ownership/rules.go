package ownership

import "context"

// CheckFunc answers an ownership question directly. When a rule carries one
// it is authoritative for the "own" level and the owner-field lookup is
// skipped.
type CheckFunc func(ctx context.Context, principalID, resourceID int64) (bool, error)

// Rule maps a resource type onto the table and column that record its owner.
type Rule struct {
	Resource   string
	Table      string
	OwnerField string
	Check      CheckFunc
}

// Rules indexes ownership rules by resource type.
type Rules map[string]Rule

// DefaultRules covers the built-in resource catalog. A user record is owned
// by itself; content records carry an explicit owner column.
func DefaultRules() Rules {
	return Rules{
		"users":    {Resource: "users", Table: "users", OwnerField: "id"},
		"files":    {Resource: "files", Table: "files", OwnerField: "uploaded_by"},
		"posts":    {Resource: "posts", Table: "posts", OwnerField: "user_id"},
		"comments": {Resource: "comments", Table: "comments", OwnerField: "user_id"},
	}
}
