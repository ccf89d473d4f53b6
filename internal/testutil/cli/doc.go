// Package cli provides test helpers for running cobra commands.
//
//	result := cli.Run(cmd.NewRootCmd(), "--server", url, "book", "list")
//	result.AssertSuccess(t)
//	result.AssertContains(t, "TITLE")
//
// Failed commands can be checked against the exit code the binary would
// return:
//
//	result.AssertExitCode(t, clierror.ExitNotFound)
package cli
