package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownKey means a caller referenced a permission key that is not
// registered. This is a programming or configuration error at the call
// site, never a deny.
var ErrUnknownKey = errors.New("unknown permission key")

type Entry struct {
	Key         string `json:"key"`
	Category    string `json:"category"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
}

// The catalog is fixed at build time. New features register a key here
// instead of inventing strings at call sites.
var entries = map[string]Entry{
	"documents.view_all":   {Key: "documents.view_all", Category: "documents", DisplayName: "View All Documents", Description: "View every document in the portal"},
	"documents.create":     {Key: "documents.create", Category: "documents", DisplayName: "Create Documents", Description: "Upload and create documents"},
	"documents.edit_all":   {Key: "documents.edit_all", Category: "documents", DisplayName: "Edit All Documents", Description: "Edit any document regardless of owner"},
	"documents.delete_all": {Key: "documents.delete_all", Category: "documents", DisplayName: "Delete All Documents", Description: "Delete any document regardless of owner"},
	"documents.approve":    {Key: "documents.approve", Category: "documents", DisplayName: "Approve Documents", Description: "Approve documents for publication"},
	"documents.share":      {Key: "documents.share", Category: "documents", DisplayName: "Share Documents", Description: "Share documents with other users"},
	"documents.download":   {Key: "documents.download", Category: "documents", DisplayName: "Download Documents", Description: "Download document files"},
	"documents.view_stats": {Key: "documents.view_stats", Category: "documents", DisplayName: "View Statistics", Description: "View document usage statistics"},

	"categories.view_all": {Key: "categories.view_all", Category: "categories", DisplayName: "View All Categories", Description: "View every document category"},
	"categories.create":   {Key: "categories.create", Category: "categories", DisplayName: "Create Categories", Description: "Create document categories"},
	"categories.edit":     {Key: "categories.edit", Category: "categories", DisplayName: "Edit Categories", Description: "Edit document categories"},
	"categories.delete":   {Key: "categories.delete", Category: "categories", DisplayName: "Delete Categories", Description: "Delete document categories"},
	"categories.assign":   {Key: "categories.assign", Category: "categories", DisplayName: "Assign to Documents", Description: "Assign categories to documents"},

	"departments.view_all":       {Key: "departments.view_all", Category: "departments", DisplayName: "View All Departments", Description: "View every department"},
	"departments.manage":         {Key: "departments.manage", Category: "departments", DisplayName: "Manage Departments", Description: "Create, edit and deactivate departments"},
	"departments.assign_users":   {Key: "departments.assign_users", Category: "departments", DisplayName: "Assign Users", Description: "Assign users to departments"},
	"departments.view_employees": {Key: "departments.view_employees", Category: "departments", DisplayName: "View Employee List", Description: "View department employee rosters"},
	"departments.manage_budget":  {Key: "departments.manage_budget", Category: "departments", DisplayName: "Manage Budget", Description: "Manage department budgets"},

	"users.view_all":           {Key: "users.view_all", Category: "users", DisplayName: "View All Users", Description: "View every portal user"},
	"users.create":             {Key: "users.create", Category: "users", DisplayName: "Create Users", Description: "Create portal users"},
	"users.edit":               {Key: "users.edit", Category: "users", DisplayName: "Edit Users", Description: "Edit portal users"},
	"users.deactivate":         {Key: "users.deactivate", Category: "users", DisplayName: "Deactivate Users", Description: "Deactivate portal users"},
	"users.assign_roles":       {Key: "users.assign_roles", Category: "users", DisplayName: "Assign Roles", Description: "Assign roles to users"},
	"users.manage_permissions": {Key: "users.manage_permissions", Category: "users", DisplayName: "Manage Permissions", Description: "Grant and revoke portal permissions"},

	"system.admin_settings":   {Key: "system.admin_settings", Category: "system", DisplayName: "Access Admin Settings", Description: "Access the admin settings area"},
	"system.view_analytics":   {Key: "system.view_analytics", Category: "system", DisplayName: "View Analytics", Description: "View portal analytics"},
	"system.manage_settings":  {Key: "system.manage_settings", Category: "system", DisplayName: "Manage System Settings", Description: "Change system settings"},
	"system.backup":           {Key: "system.backup", Category: "system", DisplayName: "Manage Backups", Description: "Run and restore backups"},
	"system.view_logs":        {Key: "system.view_logs", Category: "system", DisplayName: "View System Logs", Description: "View system and audit logs"},
	"system.manage_templates": {Key: "system.manage_templates", Category: "system", DisplayName: "Manage Permission Templates", Description: "Create and edit permission templates"},
}

// ManagePermissionsKey gates the grant/revoke/template endpoints themselves.
const ManagePermissionsKey = "users.manage_permissions"

func Lookup(key string) (Entry, error) {
	entry, ok := entries[key]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return entry, nil
}

// Validate returns the first unknown key, wrapped in ErrUnknownKey, or nil
// when every key is registered.
func Validate(keys []string) error {
	for _, key := range keys {
		if _, ok := entries[key]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownKey, key)
		}
	}
	return nil
}

// CategoryOf derives the category portion of a key without requiring the
// key to be registered.
func CategoryOf(key string) string {
	if i := strings.Index(key, "."); i > 0 {
		return key[:i]
	}
	return ""
}

// Keys returns every registered key, sorted.
func Keys() []string {
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// KeysByCategory returns the registered keys in one category, sorted.
func KeysByCategory(category string) []string {
	var keys []string
	for key, entry := range entries {
		if entry.Category == category {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// All returns every entry grouped by category, categories and keys sorted.
func All() map[string][]Entry {
	grouped := make(map[string][]Entry)
	for _, entry := range entries {
		grouped[entry.Category] = append(grouped[entry.Category], entry)
	}
	for _, group := range grouped {
		sort.Slice(group, func(i, j int) bool { return group[i].Key < group[j].Key })
	}
	return grouped
}
