// Package yamlstore persists agents and locations as one YAML file per
// record, the format world builders edit by hand:
//
//	<dir>/npcs/<name>.yml       role, context, conversationHistory, relations, location, avatar
//	<dir>/locations/<name>.yml  participants, context, parent
//
// Records are cached in memory and written back after every mutation.
// Durability is best effort: a failed write is returned to the caller but the
// cached record keeps the new state.
package yamlstore
