// Package errors provides coded, located diagnostics for the filebase
// command line.
//
// A Diagnostic carries a stable code, the source location it refers to,
// the surrounding source lines and a hint. Discovery failures are
// converted with FromDiscovery:
//
//	if _, err := scanner.Build(); err != nil {
//	    for _, d := range errors.FromDiscovery(err) {
//	        fmt.Fprint(os.Stderr, d.Format())
//	    }
//	}
//
// Output:
//
//	ERROR F007: Remote function is not registered
//
//	  public/index.code.go:12:1
//
//	    10 │
//	    11 │ //filebase:remote
//	  → 12 │ func Test(page *filebase.Page, msg string) string {
//	       │ ^
//	    13 │     return msg
//	    14 │ }
//
//	  Test: remote: function is not registered: Test in index.code.go;
//	  register it with filebase.Remote(Test) from an init function
//
//	  Hint: Call filebase.Remote with the function from an init function in the same package
package errors
