// Package testutil contains builders and fakes shared by tests: an agent
// record builder, a presenter that records what it receives, and a
// generator that answers prompts from a script. They are not intended for
// production usage.
package testutil
