// Package orchestrator defines the core types and interfaces shared across
// the dispatch subsystems: backend profiles, jobs, attempt outcomes, batch
// reports, and the collaborator contracts implemented by the profile store,
// admission gates, selection policy, and backend registry.
package orchestrator
