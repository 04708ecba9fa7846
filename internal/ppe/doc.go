// Package ppe defines the core data model for the protective-equipment
// compliance pipeline: per-frame person detections, bounding geometry,
// per-item readings, and the error classes shared by every stage.
//
// The pipeline layers consume these types in order:
//
//	detector output → tracks (identity) → temporal (smoothing) → fuse (cross-camera)
//
// Each layer lives in its own subpackage and depends only on types defined
// here, never on a sibling layer's internals.
package ppe
