package config

// LoggingConfig configures the categorized engine logger.
type LoggingConfig struct {
	Level      string          `yaml:"level" json:"level,omitempty"`           // debug, info, warn, error
	DebugMode  bool            `yaml:"debug_mode" json:"debug_mode,omitempty"` // master toggle; false = no logging
	Categories map[string]bool `yaml:"categories" json:"categories,omitempty"` // per-category toggles
	JSONFormat bool            `yaml:"json_format" json:"json_format,omitempty"`
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Returns false if DebugMode is false. Returns true if DebugMode is true
// and the category is enabled (or unspecified, the default-on rule).
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if !c.DebugMode {
		return false
	}
	if c.Categories == nil {
		return true
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true
	}
	return enabled
}
