package misc

import (
	"fmt"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

var credentialSeparator = strings.Repeat("-", 67)

// LogSavingCredentials emits a consistent message when persisting tokens.
func LogSavingCredentials(path string) {
	if path == "" {
		return
	}
	fmt.Printf("Saving tokens to %s\n", filepath.Clean(path))
}

// LogCredentialSeparator adds a visual separator to group login log lines.
func LogCredentialSeparator() {
	log.Debug(credentialSeparator)
}
