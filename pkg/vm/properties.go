package vm

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
)

// setupProperties populates the system property map with the standard
// startup set, then overlays the -D pairs from the options.
func (vm *VM) setupProperties() {
	lineSep := "\n"
	if runtime.GOOS == "windows" {
		lineSep = "\r\n"
	}

	defaults := map[string]string{
		"file.encoding":  "UTF-8",
		"file.separator": string(filepath.Separator),
		"path.separator": string(filepath.ListSeparator),
		"line.separator": lineSep,

		"java.class.path":    vm.opts.ClassPath,
		"java.class.version": "51.0",
		"java.version":       "1.7",

		"java.specification.name":    "Java Platform API Specification",
		"java.specification.vendor":  "Oracle Corporation",
		"java.specification.version": "1.7",

		"java.vm.name":                  "Glacier VM",
		"java.vm.vendor":                "glaciervm",
		"java.vm.version":               "0.1",
		"java.vm.info":                  "interpreted mode",
		"java.vm.specification.name":    "Java Virtual Machine Specification",
		"java.vm.specification.vendor":  "Oracle Corporation",
		"java.vm.specification.version": "1.7",

		"os.arch":    runtime.GOARCH,
		"os.name":    runtime.GOOS,
		"os.version": "",

		"user.country": "US",
	}

	if wd, err := os.Getwd(); err == nil {
		defaults["user.dir"] = wd
	}
	if u, err := user.Current(); err == nil {
		defaults["user.home"] = u.HomeDir
		defaults["user.name"] = u.Username
	}

	vm.propsMu.Lock()
	for k, v := range defaults {
		vm.props[k] = v
	}
	for k, v := range vm.opts.Properties {
		vm.props[k] = v
	}
	vm.propsMu.Unlock()
}
