package util

import "time"

var jst = time.FixedZone("JST", 9*60*60)

// FormatJST renders a timestamp in Japan Standard Time the way chat messages
// and prompts display it.
func FormatJST(t time.Time) string {
	return t.In(jst).Format("2006/01/02 15:04:05")
}
