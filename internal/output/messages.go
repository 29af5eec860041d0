package output

import (
	"strconv"
	"strings"
)

// messages is the interface text table. Keys follow the names used in
// error classes and page handlers; $1.. are positional parameters.
var messages = map[string]string{
	"sitename":                    "Wiki",
	"mainpage":                    "Main Page",
	"badtitle":                    "Bad title",
	"badtitletext":                "The requested page title was invalid, empty, or an incorrectly linked inter-language or inter-wiki title.",
	"title-invalid-empty":         "The requested page title is empty or contains only the name of a namespace.",
	"title-invalid-characters":    "The requested page title contains invalid characters.",
	"title-invalid-relative":      "Title has relative path. Relative page titles (./, ../) are invalid.",
	"title-invalid-leading-colon": "The requested page title contains an invalid colon at the beginning.",
	"title-invalid-magic-tilde":   "The requested page title contains invalid magic tilde sequence (~~~).",
	"title-invalid-too-long":      "The requested page title is too long.",
	"nosuchaction":                "No such action",
	"nosuchactiontext":            "The action specified by the URL is invalid.",
	"nosuchspecialpage":           "No such special page",
	"nospecialpagetext":           "You have requested an invalid special page.",
	"permissionserrors":           "Permission error",
	"permissionserrorstext":       "You do not have permission to $1, for the following reason:",
	"badaccess-group0":            "You are not allowed to execute the action you have requested.",
	"badaccess-groups":            "The action you have requested is limited to users in the group: $1.",
	"protectedpagetext":           "This page has been protected to prevent editing or other actions.",
	"readonly":                    "Database locked",
	"readonlytext":                "The database is currently locked to new entries and other modifications.",
	"noarticletext":               "There is currently no text in this page.",
	"redirectedfrom":              "(Redirected from $1)",
	"redirectpagesub":             "Redirect page",
	"history-title":               "Revision history of \"$1\"",
	"editing":                     "Editing $1",
	"creating":                    "Creating $1",
	"info-title":                  "Information for \"$1\"",
	"confirm-purge-title":         "Purge this page",
	"confirm-purge-top":           "Clear the cache of this page?",
	"searchresults":               "Search results",
	"search-nonefound":            "There were no results matching the query.",
	"allpages":                    "All pages",
	"version":                     "Version",
	"internalerror":               "Internal error",
	"session-fail-preview":        "Sorry! We could not process your edit due to a loss of session data.",
	"sessionfailure-title":        "Session failure",
	"actionthrottled":             "Action throttled",
	"missing-revision":            "The revision #$1 of the page could not be found.",
	"nohistory":                   "There is no edit history for this page.",
	"anonymous":                   "Anonymous user",
	"summary":                     "Summary:",
	"savearticle":                 "Save page",
	"edit-empty":                  "Empty edit",
	"edit-empty-text":             "The submitted text was empty. Nothing was saved.",
	"editconflict":                "Edit conflict",
	"editconflicttext":            "Someone else has changed this page since you started editing it. Your text is kept below.",
	"confirm_purge_button":        "OK",
	"pageinfo-title":              "Display title",
	"pageinfo-model":              "Page content model",
	"pageinfo-id":                 "Page ID",
	"pageinfo-length":             "Page length (in bytes)",
	"pageinfo-latest":             "Latest revision ID",
	"pageinfo-touched":            "Page last touched",
	"pageinfo-views":              "Number of page views",
	"pageinfo-links":              "Number of outgoing links",
	"pageinfo-redirectto":         "Redirects to",
	"search":                      "Search",
	"searchresults-title":         "Search results for \"$1\"",
	"search-exists":               "There is a page named \"$1\" on this wiki.",
	"search-create":               "Create the page \"$1\" on this wiki!",
	"allpagesfrom":                "Display pages starting at:",
	"allpages-none":               "There are no pages in this namespace.",
	"version-software":            "Installed software",
	"version-specialpages":        "Special pages",
	"version-hooks":               "Hooks",
	"runjobs":                     "Run jobs",
}

// Msg returns the text for key with $n parameters substituted. Unknown keys
// render as ⧼key⧽ so missing entries stay visible.
func Msg(key string, params ...string) string {
	text, ok := messages[key]
	if !ok {
		return "⧼" + key + "⧽"
	}
	for i := len(params); i > 0; i-- {
		text = strings.ReplaceAll(text, "$"+strconv.Itoa(i), params[i-1])
	}
	return text
}

// HasMsg reports whether key is defined.
func HasMsg(key string) bool {
	_, ok := messages[key]
	return ok
}
