// Package hooks provides the typed extension points of the request pipeline.
//
// Each point owns an ordered Chain of hooks. A hook inspects a typed input
// and returns a Decision; the first decision that is not Continue wins and
// the remaining hooks are skipped. An empty chain always continues.
//
// # Points
//
//   - BeforeInitialize: override replaces the requested title text.
//   - TestCanonicalRedirect: veto skips canonical URL normalisation.
//   - InitializeArticleMaybeRedirect: override supplies a redirect target
//     (title text or absolute URL); veto ignores the page's own redirect.
//   - MediaWikiPerformAction: veto means the hook handled the action.
//   - UnknownAction: veto means the hook handled an unknown action.
//   - BeforeHttpsRedirect: override replaces the upgrade URL; veto cancels it.
//
// # Webhook Contract
//
// Webhook hooks receive the point name and its input:
//
//	POST <webhook_url>
//	Content-Type: application/json
//
//	{
//	  "point": "TestCanonicalRedirect",
//	  "input": { "title": "Foo_Bar", "request_url": "...", ... }
//	}
//
// Response:
//
//	{
//	  "decision": "continue" | "veto" | "override",
//	  "value": "...",      // override value or handled-output text
//	  "reason": "..."
//	}
package hooks
