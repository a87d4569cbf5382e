package errors

import "sort"

// Template defines a registered error code.
type Template struct {
	Category   Category
	Message    string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]Template{
	// Discovery (F001-F099)

	"F001": {
		Category:   CategoryDiscovery,
		Message:    "Route source could not be loaded",
		Suggestion: "Fix the syntax error; route sources must be valid Go files",
	},
	"F002": {
		Category:   CategoryDiscovery,
		Message:    "Malformed remote directive",
		Suggestion: `Write defaults as name=value pairs, e.g. //filebase:remote msg="No message"`,
	},
	"F003": {
		Category:   CategoryDiscovery,
		Message:    "Remote function has an unsupported signature",
		Suggestion: "Remote functions take *filebase.Page first and return (T) or (T, error)",
	},
	"F004": {
		Category:   CategoryDiscovery,
		Message:    "Unsupported parameter type",
		Suggestion: "Use int, float, bool, string, a pointer to one of them, or any",
	},
	"F005": {
		Category:   CategoryDiscovery,
		Message:    "Parameter uses the reserved context name",
		Suggestion: "Rename the parameter; the context name is only allowed first",
	},
	"F006": {
		Category:   CategoryDiscovery,
		Message:    "Default value does not fit its parameter",
		Suggestion: "Use a literal of the parameter type, or nil for pointer parameters",
	},
	"F007": {
		Category:   CategoryDiscovery,
		Message:    "Remote function is not registered",
		Suggestion: "Call filebase.Remote with the function from an init function in the same package",
	},
	"F008": {
		Category:   CategoryDiscovery,
		Message:    "Remote function matches several registrations",
		Suggestion: "Bind the function to its file explicitly with remote.Registry.Bind",
	},
	"F009": {
		Category:   CategoryDiscovery,
		Message:    "Path segment is not URL safe",
		Suggestion: "Rename the directory or function using letters, digits, '-', '_' or '.'",
	},
	"F010": {
		Category:   CategoryDiscovery,
		Message:    "Two remote functions share a route path",
		Suggestion: "Rename one of the functions or move it to another directory",
	},

	// Config (F100-F199)

	"F100": {
		Category:   CategoryConfig,
		Message:    "Configuration file could not be read",
		Suggestion: "Check that the file exists and is valid YAML",
	},
	"F101": {
		Category:   CategoryConfig,
		Message:    "Invalid configuration",
		Suggestion: "Run 'filebase check' to validate the configuration",
	},

	// Server (F200-F299)

	"F200": {
		Category:   CategoryServer,
		Message:    "Server failed to start",
		Suggestion: "Check that the address is free and the root directory exists",
	},
	"F201": {
		Category:   CategoryServer,
		Message:    "Global server already started",
		Suggestion: "Stop the running server before starting another one",
	},
	"F202": {
		Category:   CategoryServer,
		Message:    "Server stopped with pending work",
		Suggestion: "Running calls keep going; wait for the server to stop or raise shutdown_timeout",
	},
}

// Codes returns all registered codes in order.
func Codes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Lookup returns the template for a code.
func Lookup(code string) (Template, bool) {
	t, ok := registry[code]
	return t, ok
}
