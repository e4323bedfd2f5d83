package models

// Space is the security domain a set of devices belongs to
type Space struct {
	BaseModel

	Name        string `json:"name" db:"name"`
	Armed       bool   `json:"armed" db:"armed"`
	SirenActive bool   `json:"sirenActive" db:"siren_active"`
}
