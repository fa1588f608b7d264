package entity

// Setting is a named configuration value stored in the `settings` table.
type Setting struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func NewSetting(name, value string) *Setting {
	return &Setting{Name: name, Value: value}
}
