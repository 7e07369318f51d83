package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// ExitError carries a specific process exit code out of a command. Usage
// errors exit with 2, partial failures with 1.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

var rootCmd = &cobra.Command{
	Use:           "edugain",
	Short:         "eduGAIN service-provider integration for the repository platform",
	Long:          "Manages the federation IdP registry and runs the SAML login service.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Commands that need a non-default exit code
// return an ExitError; everything else exits with 1 through main.
func Execute() error {
	err := rootCmd.Execute()
	if err == nil {
		return nil
	}

	fmt.Fprintln(os.Stderr, "Error:", err)
	var coded *ExitError
	if errors.As(err, &coded) {
		os.Exit(coded.Code)
	}
	return err
}
