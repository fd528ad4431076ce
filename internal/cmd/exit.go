package cmd

import (
	"errors"
	"os"

	"github.com/odatalink/odatalink/internal/auth/oauth2"
	log "github.com/sirupsen/logrus"
)

// exitFunc is swapped in tests.
var exitFunc = os.Exit

// exitCode maps a command failure to a process status. A busy callback port
// keeps its dedicated code; every other failure is 1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var authErr *oauth2.AuthenticationError
	if errors.As(err, &authErr) && authErr.Type == oauth2.ErrPortInUse.Type {
		return oauth2.ErrPortInUse.Code
	}
	return 1
}

// failIf logs err under msg and terminates with exitCode(err). A nil err is
// a no-op.
func failIf(msg string, err error) {
	if err == nil {
		return
	}
	log.Errorf("%s: %v", msg, err)
	exitFunc(exitCode(err))
}
