package server

import (
	"time"

	"github.com/danmuck/indexd/internal/discovery"
	"github.com/danmuck/indexd/internal/pattern"
	"github.com/danmuck/indexd/internal/protocol/session"
)

const Version = "0.1.0"

// Config configures one server process.
type Config struct {
	// Host is dialed together with the port given on the command line.
	Host    string
	Session session.Config

	ProjectMarkers []string
	Ignore         []string
	Include        []string
	Comparer       pattern.Comparer

	// AdminAddr enables the admin HTTP surface when non-empty.
	AdminAddr        string
	AdminCORSOrigins []string

	ProgressEventsPerSecond float64
	WatchRoots              bool
	WatchDebounce           time.Duration
	Version                 string
}

func DefaultConfig() Config {
	return Config{
		Host:                    "127.0.0.1",
		Session:                 session.DefaultConfig(),
		ProjectMarkers:          append([]string(nil), discovery.DefaultMarkers...),
		Ignore:                  []string{".git/", "node_modules/"},
		Comparer:                pattern.PlatformComparer(),
		ProgressEventsPerSecond: 20,
		WatchRoots:              true,
		WatchDebounce:           discovery.DefaultDebounce,
		Version:                 Version,
	}
}

// WithDefaults fills zero values from DefaultConfig. Ignore and Include are
// left as given: an empty list is a valid choice.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Host == "" {
		c.Host = d.Host
	}
	c.Session = c.Session.WithDefaults()
	if len(c.ProjectMarkers) == 0 {
		c.ProjectMarkers = d.ProjectMarkers
	}
	if c.Comparer == nil {
		c.Comparer = d.Comparer
	}
	if c.WatchDebounce <= 0 {
		c.WatchDebounce = d.WatchDebounce
	}
	if c.Version == "" {
		c.Version = d.Version
	}
	return c
}
