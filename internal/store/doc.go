// Package store persists agent settings for the PerformSave request.
//
// Two backends implement SettingsStore:
//
//   - FileStore: the latest settings as one indented JSON file (default)
//   - SQLiteStore: every save as a row in a modernc.org/sqlite database
//
// Open selects a backend by name ("file" or "sqlite").
package store
