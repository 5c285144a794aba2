// Package appconf holds the process-level configuration shared by the HTTP
// server, the arrivals service, and the station topology loader.
package appconf

// Environment identifies the runtime environment of the process.
type Environment int

const (
	Development Environment = iota
	Test
	Production
)

// String returns the lowercase name of the environment.
func (e Environment) String() string {
	switch e {
	case Test:
		return "test"
	case Production:
		return "production"
	default:
		return "development"
	}
}

// EnvFlagToEnvironment maps a flag/config string onto an Environment.
// Unknown values fall back to Development.
func EnvFlagToEnvironment(env string) Environment {
	switch env {
	case "test":
		return Test
	case "production":
		return Production
	default:
		return Development
	}
}

// Config holds server-level settings.
type Config struct {
	Port      int
	Env       Environment
	ApiKeys   []string
	Verbose   bool
	RateLimit int
}
