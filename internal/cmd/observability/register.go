package observability

import "github.com/spf13/cobra"

// Register attaches the logs command, which reads and filters the bridge's
// tether.log, to parent.
func Register(parent *cobra.Command) {
	RegisterLogsCmd(parent)
}
