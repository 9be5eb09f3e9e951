package types

// ErrorCopy is the text a patient sees for each kind of failed turn.
type ErrorCopy struct {
	Timeout     string `yaml:"timeout"`
	Transport   string `yaml:"transport"`
	Persistence string `yaml:"persistence"`
	Resolution  string `yaml:"resolution"`
}

// Or fills the blank fields of c from fallback.
func (c ErrorCopy) Or(fallback ErrorCopy) ErrorCopy {
	if c.Timeout == "" {
		c.Timeout = fallback.Timeout
	}
	if c.Transport == "" {
		c.Transport = fallback.Transport
	}
	if c.Persistence == "" {
		c.Persistence = fallback.Persistence
	}
	if c.Resolution == "" {
		c.Resolution = fallback.Resolution
	}
	return c
}
