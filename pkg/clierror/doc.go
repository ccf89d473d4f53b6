// Package clierror provides structured error handling for CLI commands.
//
// CLI errors include an exit code, user-facing message, and optional
// troubleshooting hints. API error responses are mapped through FromHTTP so
// that every command reports failures the same way.
//
// # Usage
//
//	if resp.StatusCode >= 400 {
//	    return clierror.FromHTTP(resp.StatusCode, body.Error)
//	}
package clierror
