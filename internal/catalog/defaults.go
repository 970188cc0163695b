package catalog

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Canonical resources and actions seeded on every deployment.
const (
	ResourceUsers       = "users"
	ResourceRoles       = "roles"
	ResourcePermissions = "permissions"
	ResourceFiles       = "files"
	ResourceSettings    = "settings"
	ResourceReports     = "reports"
	ResourceAudit       = "audit"

	ActionCreate = "create"
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionList   = "list"
	ActionExport = "export"
	ActionImport = "import"
	ActionAssign = "assign"
	ActionRevoke = "revoke"
)

var defaultActions = map[string][]string{
	ResourceUsers:       {ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionList, ActionExport},
	ResourceRoles:       {ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionList, ActionAssign, ActionRevoke},
	ResourcePermissions: {ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionList, ActionAssign, ActionRevoke},
	ResourceFiles:       {ActionCreate, ActionRead, ActionDelete, ActionList},
	ResourceSettings:    {ActionRead, ActionUpdate},
	ResourceReports:     {ActionRead, ActionCreate, ActionExport},
	ResourceAudit:       {ActionRead, ActionList, ActionExport},
}

// DefaultResources lists the resources covered by the default catalog, in a
// stable order.
func DefaultResources() []string {
	return []string{
		ResourceUsers,
		ResourceRoles,
		ResourcePermissions,
		ResourceFiles,
		ResourceSettings,
		ResourceReports,
		ResourceAudit,
	}
}

// DefaultEntries returns the permission matrix seeded on deployment. Safe to
// feed to SyncDefaults repeatedly.
func DefaultEntries() []Entry {
	title := cases.Title(language.English)
	var entries []Entry
	for _, resource := range DefaultResources() {
		for _, action := range defaultActions[resource] {
			entries = append(entries, Entry{
				Resource:    resource,
				Action:      action,
				Description: title.String(action) + " " + resource,
			})
		}
	}
	return entries
}
