package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/odatalink/odatalink/internal/datasphere"
)

// DoApply reads AnalyticalQueryComponents as JSON from path ("-" for stdin)
// and prints the Datasphere query string it translates to.
func DoApply(path string) {
	failIf("failed to build $apply query", runApply(path, os.Stdin, os.Stdout))
}

func runApply(path string, stdin io.Reader, out io.Writer) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read query components: %w", err)
	}

	var components datasphere.AnalyticalQueryComponents
	if err = json.Unmarshal(data, &components); err != nil {
		return fmt.Errorf("parse query components: %w", err)
	}
	query, err := datasphere.BuildQueryString(components)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, query)
	return err
}
