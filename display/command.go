// Package display picks between human and machine output for CLI commands.
package display

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/teranos/dmypyls/errors"
)

// OutputEnv forces JSON output when set to "json", for scripts and editor
// plugins that shell out to dmypyls.
const OutputEnv = "DMYPYLS_OUTPUT"

// ShouldOutputJSON reports whether cmd should print JSON. An explicit --json
// flag wins over the environment.
func ShouldOutputJSON(cmd *cobra.Command) bool {
	if cmd == nil {
		return os.Getenv(OutputEnv) == "json"
	}

	if flag := cmd.Flags().Lookup("json"); flag != nil && flag.Changed {
		jsonFlag, _ := cmd.Flags().GetBool("json")
		return jsonFlag
	}

	return os.Getenv(OutputEnv) == "json"
}

// OutputJSON writes v to w using MarshalJSON
func OutputJSON(w io.Writer, v any) error {
	data, err := MarshalJSON(v)
	if err != nil {
		return errors.Wrap(err, "failed to marshal JSON")
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
