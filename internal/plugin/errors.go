// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

// Error codes for plugin admission and lifecycle failures.
const (
	CodeABIMismatch        = "ABI_MISMATCH"
	CodeDuplicateName      = "DUPLICATE_NAME"
	CodeInvalidName        = "INVALID_NAME"
	CodeDependencyCycle    = "DEPENDENCY_CYCLE"
	CodeMissingDependency  = "MISSING_REQUIRED_DEPENDENCY"
	CodeInitFailed         = "INITIALIZATION_FAILURE"
	CodeManifestInvalid    = "MANIFEST_INVALID"
	CodePluginNotFound     = "PLUGIN_NOT_FOUND"
	CodePluginLoaded       = "PLUGIN_ALREADY_LOADED"
	CodePluginNotLoaded    = "PLUGIN_NOT_LOADED"
	CodeRuntimeUnavailable = "RUNTIME_UNAVAILABLE"
)

// Failure records why a plugin is absent from the running system.
type Failure struct {
	Plugin string
	Err    error
}
