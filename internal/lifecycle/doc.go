// Package lifecycle tracks where each content unit sits in the review
// lifecycle and moves units between states along legal edges only.
//
// A Store keeps an explicit id-to-state index, built once from its Backend and
// maintained by every mutation, so state lookups never rescan the staging
// tree. Backends are interchangeable: FileBackend persists units as
// <root>/<state>/<id>.md with an optional <id>-validation-report.json sidecar,
// and MemoryBackend keeps everything in maps for tests.
//
// Move enforces edge membership only. Requirements carried on an edge, such as
// a passing validation report before approval, are enforced by the review
// package.
package lifecycle
