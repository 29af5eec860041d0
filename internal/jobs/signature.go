// Package jobs runs queued background jobs and asks the local server to run
// them out of band after ordinary requests.
package jobs

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"net/url"

	"github.com/tjfontaine/wikifront/internal/title"
)

// Signature is the hex HMAC-SHA1 of the query in sorted, urlencoded k=v form.
// Any "signature" value in query is ignored.
func Signature(query url.Values, secret string) string {
	q := make(url.Values, len(query))
	for k, v := range query {
		if k != "signature" {
			q[k] = v
		}
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(title.EncodeQuery(q)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against query in constant time.
func Verify(query url.Values, secret, signature string) bool {
	want := Signature(query, secret)
	return hmac.Equal([]byte(want), []byte(signature))
}
