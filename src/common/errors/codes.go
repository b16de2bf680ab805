package errors

// Common error codes used across domains
const (
	CodeNotFound    Code = "not_found"
	CodeUnreachable Code = "unreachable"
	CodeRateLimited Code = "rate_limited"
	CodeEmpty       Code = "empty"
	CodeMismatch    Code = "mismatch"
	CodeInternal    Code = "internal_error"
)

// Exit codes for the fatal condition classes. Warnings never alter the exit
// code, and a delegated container run exits with the inner code verbatim.
const (
	ExitGeneric     = 1
	ExitDiscovery   = 2
	ExitUpstream    = 3
	ExitNoPatch     = 4
	ExitNoTooling   = 5
	ExitNoArtifacts = 6
	ExitStructure   = 7
)

// ============================================================================
// Environment discovery errors
// ============================================================================

var (
	// ErrPackageDirNotFound is returned when the per-kernel package directory
	// is missing under the packages root
	ErrPackageDirNotFound = New(DomainResolve, "package_dir_not_found", ExitDiscovery,
		"Driver package directory not found")

	// ErrPackageNotFound is returned when no driver package file matches the
	// naming pattern inside the package directory
	ErrPackageNotFound = New(DomainResolve, "package_not_found", ExitDiscovery,
		"No driver package found in package directory")

	// ErrDriverVersionUnparseable is returned when no driver version can be
	// extracted from a package filename
	ErrDriverVersionUnparseable = New(DomainResolve, "version_unparseable", ExitDiscovery,
		"Unable to extract a driver version from the package filename")

	// ErrKernelVersionUnknown is returned when the running kernel version
	// cannot be determined
	ErrKernelVersionUnknown = New(DomainResolve, "kernel_unknown", ExitDiscovery,
		"Unable to determine the running kernel version")
)

// ============================================================================
// Upstream / forge errors
// ============================================================================

var (
	// ErrForgeUnreachable is returned when the branch-listing endpoint cannot
	// be reached
	ErrForgeUnreachable = New(DomainForge, CodeUnreachable, ExitUpstream,
		"Upstream source host is unreachable")

	// ErrForgeRateLimited is returned when the branch-listing endpoint
	// reports a rate limit
	ErrForgeRateLimited = New(DomainForge, CodeRateLimited, ExitUpstream,
		"Upstream source host reported a rate limit")

	// ErrForgeEmpty is returned when the branch listing comes back empty
	ErrForgeEmpty = New(DomainForge, CodeEmpty, ExitUpstream,
		"Upstream source host returned no branches")
)

// ============================================================================
// Source acquisition errors
// ============================================================================

var (
	// ErrNoPatchAvailable is returned when neither a patched branch nor an
	// upstream tag exists for the resolved driver version
	ErrNoPatchAvailable = New(DomainSource, "no_patch", ExitNoPatch,
		"No patched source branch or upstream tag available for this driver version")

	// ErrSourceInvalid is returned when a source tree has no readable
	// version manifest
	ErrSourceInvalid = New(DomainSource, "invalid_tree", ExitGeneric,
		"Source tree has no readable version manifest")
)

// ============================================================================
// Build environment errors
// ============================================================================

var (
	// ErrNoTooling is returned when neither native build tools nor a
	// container runtime are available
	ErrNoTooling = New(DomainBuildEnv, "no_tooling", ExitNoTooling,
		"No compiler or build tool found and no container runtime available")

	// ErrBrokenBuildImage is returned when the build container itself is
	// missing the toolchain, which means the image is broken or outdated
	ErrBrokenBuildImage = New(DomainBuildEnv, "broken_image", ExitNoTooling,
		"Build container is missing its toolchain; the builder image is broken or outdated")

	// ErrImageBuildFailed is returned when building the builder image fails
	ErrImageBuildFailed = New(DomainBuildEnv, "image_build_failed", ExitGeneric,
		"Building the builder container image failed")
)

// ============================================================================
// Module build errors
// ============================================================================

var (
	// ErrNoArtifacts is returned when the module build completed but produced
	// no compiled kernel modules
	ErrNoArtifacts = New(DomainBuild, "no_artifacts", ExitNoArtifacts,
		"Module build produced no kernel module artifacts")

	// ErrBuildFailed is returned when the module build command itself fails
	ErrBuildFailed = New(DomainBuild, "build_failed", ExitGeneric,
		"Kernel module build failed")
)

// ============================================================================
// Package splicing errors
// ============================================================================

var (
	// ErrModuleDirNotFound is returned when the kernel-version-keyed module
	// directory is absent inside the extracted package, indicating a
	// kernel-version mismatch between the host and the installed package
	ErrModuleDirNotFound = New(DomainSplice, "module_dir_not_found", ExitStructure,
		"Module install directory not found inside the extracted package")

	// ErrRepackFailed is returned when repackaging the spliced tree fails
	ErrRepackFailed = New(DomainSplice, "repack_failed", ExitGeneric,
		"Repackaging the patched driver package failed")
)
