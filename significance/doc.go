// Package significance distills a finished session into durable world state.
//
// A Pipeline runs three independent steps over a session snapshot:
//
//  1. Summarization. The model returns "[SUMMARY] ... [SIGNIFICANCE: N]";
//     summaries rated above 2 are appended to every involved agent's memory.
//  2. Effect extraction. A Character/Effect/Target/Value micro-format is
//     parsed line by line; "relation" effects adjust relation scores.
//  3. Findings. Personal knowledge is appended to agents' persona context;
//     rumors are appended to the location's context.
//
// All parsing lives in pure functions (ParseSummary, ParseEffects,
// ParseFindings, Route) that never fail: malformed model output yields
// defaults or is skipped. A failure in one unit of work is logged and does
// not stop the others.
package significance
