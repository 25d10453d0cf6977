package config

import "fmt"

// Shared holds the command line options common to all subcommands.
type Shared struct {
	Host       string
	Port       int
	Verbose    bool
	ConfigFile string
	LogFile    string
}

// Validate ...
func (c *Shared) Validate() []error {
	var errors []error

	if err := validatePort(c.Port); err != nil {
		errors = append(errors, fmt.Errorf("'--port': %s", err))
	}

	return errors
}
