package paths

import (
	"os"
)

const (

	// Default sandbox root, relative to the working directory.
	DefaultSandboxRoot = "./sandbox"

	// Host path of the null device.
	DevNull = "/dev/null"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644

	// Permission mode for the null device.
	DevNullMode os.FileMode = 0666
)
