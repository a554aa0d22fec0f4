package storage

// Package storage provides a minimal persistence layer used by the bot.
//
// It currently supports:
//   - Notification dedup state (so the duplicate window survives restarts)
//   - The engagement ledger (points totals, mission completions,
//     achievement unlocks)
//
// Two backends: a dependency-free file backend (snapshot + journal) and an
// optional SQLite backend behind the "sqlite" build tag.
