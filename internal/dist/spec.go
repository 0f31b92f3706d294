package dist

// EnvironmentSpec describes what a remote host needs to reproduce the
// analysed namespace.
type EnvironmentSpec struct {
	Packages         PackageSet        // every classified record, overrides removed
	LocalModulePaths []string          // files and directories to transfer
	RegistryPackages map[string]string // name -> version to reinstall
	ConsoleScripts   []string          // executables of transferred local packages
	IndexURL         string
	ExtraIndexURLs   []string
	Diagnostics      Diagnostics
}

// Diagnostics groups records that were left out of the specification, or
// only partially included, so callers can warn about them.
type Diagnostics struct {
	Filtered     []Package              // local records replaced by an explicit pin
	Overridden   []RegistryDistribution // registry records replaced by an explicit pin
	Binary       []Package              // local records holding compiled artifacts
	BadPaths     []LocalDistribution    // included, but some files stay behind
	Incompatible []RegistryDistribution // no build for the target platform
	Broken       []BrokenModules
}

// Empty reports whether nothing was filtered or degraded.
func (d Diagnostics) Empty() bool {
	return len(d.Filtered) == 0 && len(d.Overridden) == 0 && len(d.Binary) == 0 &&
		len(d.BadPaths) == 0 && len(d.Incompatible) == 0 && len(d.Broken) == 0
}
