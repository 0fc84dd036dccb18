// Package generation provides interfaces for the external content
// generation services each pipeline stage calls: text generation for the
// source stage and document/audio/song rendering for the downstream
// stages. It abstracts the vendor APIs so stage handlers stay independent
// of specific external services.
package generation
