// Package deps locates the external tools the encode pipeline spawns.
//
// Each tool is resolved from a preferred source (PATH or the locally compiled
// bin directory) with the other source as fallback. The Manager also exposes a
// BuildTracker whose transitions are published as dependency-build events so
// clients can follow a local toolchain build.
package deps
