// Package prompts contains the LLM prompt text used by tubeblog.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates are assembled by functions, benefit from compile-time embedding,
// and can be validated by tests. User-facing configuration lives in config.yaml;
// this package holds the instructions we send to models.
//
// Convention: each prompt category gets its own file with an exported function
// that accepts the dynamic parts and returns the fully assembled prompt string.
package prompts
