// Package logging provides the engine's shared structured logger.
//
// One *logrus.Logger is created at process start and components derive
// scoped entries from it via WithComponent, mirroring the way the original
// client's CNDBG/CWARNX/CINFO macros tagged messages by subsystem
// (CT_LOG_FILE, CT_LOG_TRANS, CT_LOG_XML, CT_LOG_SHA, CT_LOG_CTFILE, ...).
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Component names, used as the "component" field value.
const (
	ComponentTrans   = "trans"
	ComponentFile    = "file"
	ComponentXML     = "xml"
	ComponentSHA     = "sha"
	ComponentCtfile  = "ctfile"
	ComponentCull    = "cull"
	ComponentNet     = "net"
	ComponentConfig  = "config"
	ComponentCLI     = "cli"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel adjusts the base logger's verbosity, e.g. from a --verbose flag.
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}

// Logger returns the shared base logger, for callers that want raw access.
func Logger() *logrus.Logger {
	return base
}

// WithComponent returns a scoped entry tagging every message with the given
// component name, e.g. logging.WithComponent(logging.ComponentCull).
func WithComponent(component string) *logrus.Entry {
	return base.WithField("component", component)
}
