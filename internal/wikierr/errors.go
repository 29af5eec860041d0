// Package wikierr holds the error classes the request pipeline distinguishes.
//
// Errors implementing ErrorPage are navigational: they end routing or
// dispatch, but the response is still committed and rendered as a themed
// page. Everything else is unexpected and is reported as a raw diagnostic.
package wikierr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tjfontaine/wikifront/internal/output"
)

// ErrorPage is an error that knows how to render itself into the page.
type ErrorPage interface {
	error
	Status() int
	Report(p *output.Page)
}

// BadTitleError is raised when the request names nothing usable.
type BadTitleError struct {
	// Reason is a message key explaining why; empty means the generic text.
	Reason string
}

func (e *BadTitleError) Error() string {
	if e.Reason == "" {
		return "bad title"
	}
	return "bad title: " + e.Reason
}

func (e *BadTitleError) Status() int { return http.StatusBadRequest }

func (e *BadTitleError) Report(p *output.Page) {
	text := "badtitletext"
	if e.Reason != "" && output.HasMsg(e.Reason) {
		text = e.Reason
	}
	p.ShowErrorPage("badtitle", text)
	p.SetStatus(e.Status())
}

// PermissionError is raised when the principal may not perform Action.
// Errors are message keys and never mention the requested title.
type PermissionError struct {
	Action string
	Errors []string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied for %s: %s", e.Action, strings.Join(e.Errors, ", "))
}

func (e *PermissionError) Status() int { return http.StatusForbidden }

func (e *PermissionError) Report(p *output.Page) {
	p.ShowPermissionsErrorPage(e.Errors, e.Action)
}

// ReadOnlyError is raised when a write is attempted while the wiki is locked.
type ReadOnlyError struct {
	Reason string
}

func (e *ReadOnlyError) Error() string { return "wiki is read-only: " + e.Reason }

func (e *ReadOnlyError) Status() int { return http.StatusServiceUnavailable }

func (e *ReadOnlyError) Report(p *output.Page) {
	p.ShowErrorPage("readonly", "readonlytext")
	if e.Reason != "" {
		p.AddParagraph(e.Reason)
	}
	p.SetStatus(e.Status())
}

// ErrorPageError is a generic themed error with arbitrary message keys.
type ErrorPageError struct {
	TitleKey string
	TextKey  string
	Params   []string
	Code     int
}

func (e *ErrorPageError) Error() string { return e.TitleKey + ": " + output.Msg(e.TextKey, e.Params...) }

func (e *ErrorPageError) Status() int {
	if e.Code == 0 {
		return http.StatusOK
	}
	return e.Code
}

func (e *ErrorPageError) Report(p *output.Page) {
	p.ShowErrorPage(e.TitleKey, e.TextKey, e.Params...)
	p.SetStatus(e.Status())
}

// HTTPError is a fatal error sent verbatim as plain text.
type HTTPError struct {
	Code    int
	Message string
}

func (e *HTTPError) Error() string { return fmt.Sprintf("http %d: %s", e.Code, e.Message) }

func (e *HTTPError) StatusCode() int { return e.Code }

// Diagnostic is the raw body sent to the client.
func (e *HTTPError) Diagnostic() string { return e.Message }

// RedirectLoopError means the server could not recover the title it just
// canonicalised from the request; the URL configuration is broken.
type RedirectLoopError struct {
	PathInfo bool
}

func (e *RedirectLoopError) Error() string { return "redirect loop detected" }

func (e *RedirectLoopError) StatusCode() int { return http.StatusInternalServerError }

func (e *RedirectLoopError) Diagnostic() string {
	msg := "Redirect loop detected!\n\n" +
		"This means the wiki got confused about what page was requested; " +
		"this sometimes happens when moving a wiki to a new server or changing the server configuration.\n\n"
	if e.PathInfo {
		return msg + "The web server may not be passing URL path components (PATH_INFO) through correctly; " +
			"check server.article_path or set server.use_path_info to false."
	}
	return msg + "Check that server.article_path and server.script_path match the web server's rewrite rules."
}

// InternalStateError marks a broken invariant inside the pipeline.
type InternalStateError struct {
	Msg string
}

func (e *InternalStateError) Error() string { return "internal state error: " + e.Msg }

// Diagnosable is implemented by errors that carry their own raw response.
type Diagnosable interface {
	error
	StatusCode() int
	Diagnostic() string
}

// AsErrorPage unwraps err to a navigational error.
func AsErrorPage(err error) (ErrorPage, bool) {
	var ep ErrorPage
	if errors.As(err, &ep) {
		return ep, true
	}
	return nil, false
}

// AsDiagnosable unwraps err to an error with its own raw response.
func AsDiagnosable(err error) (Diagnosable, bool) {
	var d Diagnosable
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

// IsDenied returns true if err is a permission denial.
func IsDenied(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}
