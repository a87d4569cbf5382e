// Package render serves the files of a route tree that are not route
// sources.
//
// A FileRenderer maps a URL path onto a file under the root:
//
//   - directory paths serve their index.html
//   - .html and .htm files are executed with html/template
//   - every other file is passed through with a MIME type chosen from
//     its extension
//
// Route sources, dot files and files under dot directories are never
// served, and paths that escape the root are rejected.
//
// # Templates
//
// Templates are executed with a Data value, so a page can show the
// request and link to the remote functions of the tree:
//
//	<h1>{{.Path}}</h1>
//	<p>Hello {{index .Params "name"}}</p>
//	{{range .Routes}}<a href="{{.Path}}">{{.Signature}}</a>{{end}}
//
// Parsed templates are cached and reparsed when the file changes.
package render
