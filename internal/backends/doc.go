// Package backends provides the capability implementations the workflow is
// wired to at runtime: reference similarity and recap services, and the
// arbitration case intake that receives dispute submissions.
package backends
