// Package v4 contains the API types for anvil template documents
// (apiVersion: v4) and for the build plans and results derived from them.
//
// A template document declares either a single VirtualMachine or a
// VirtualMachineSet (shared defaults plus an ordered list of entries).
// Documents are loaded as generic trees, validated, and then decoded into
// the typed VMSpec defined here.
//
// References to platform resources (clusters, nodes, networks, media) are
// modeled by Ref, which is either unresolved (a name) or resolved (a numeric
// id). A VMSpec only becomes a ResolvedVM once every Ref it carries has been
// resolved, and the builder accepts nothing else.
//
// These types are hand-rolled and carry no generated code; DeepCopy methods
// are written by hand following Kubernetes API conventions.
package v4
