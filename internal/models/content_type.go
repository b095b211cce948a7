package models

// ContentType maps a database-level type descriptor to an application
// entity. A row is stale when no registered app declares the entity anymore.
type ContentType struct {
	ID       int64  `json:"id"`
	AppLabel string `json:"app_label"`
	Model    string `json:"model"`
}
