// Package lore injects keyword-triggered background knowledge into sessions.
//
// A Book holds lore entries loaded from YAML files. The Injector scans new
// non-system messages of a session, matches entry keywords and appends the
// entry context as a system message. An entry is only eligible when some
// agent in the session knows one of its categories, and once injected it is
// suppressed in that session for a cooldown window. The Watcher reloads the
// Book when lore files change.
package lore
