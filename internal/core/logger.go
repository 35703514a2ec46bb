package core

import (
	"os"
	"strings"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
)

// InitializeLogger installs the text handler at the level configured under
// core.log_level. Unknown levels fall back to info.
func InitializeLogger() {
	log.SetHandler(text.New(os.Stderr))

	level := GetConfigStringDefault("core.log_level", "info")
	parsed, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		log.SetLevel(log.InfoLevel)
		Logger("core").Warnf("unknown log level %q, using info", level)
		return
	}
	log.SetLevel(parsed)
}

// Logger returns the entry a module logs through.
func Logger(module string) *log.Entry {
	return log.WithField("module", module)
}
