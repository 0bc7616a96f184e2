// Package persona generates and maintains agent persona preambles.
//
// A preamble is generated once per agent from randomly chosen traits and a
// text/template, and afterwards only refreshed: time, season and date phrases
// are rewritten in place from the world clock so that the persona itself
// never changes between turns.
package persona
