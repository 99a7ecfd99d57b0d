// Parses flags, configures logging and dispatches the cruxbox commands.
//
// The binary accepts the following global flags:
//
//	-q, --quiet     Suppress informational output.
//	-v, --verbose   Enable verbose output.
//	-d, --debug     Enable debug output.
//
// and two commands:
//
//	run [flags] <image[:tag]> <command> [arg...]
//	version
//
// Flags override build-time defaults set via linker flags. After parsing, the
// global logger is reconfigured to reflect the final level and verbosity
// before the selected command runs. The run command reports the child's exit
// code back to [Execute], which the caller uses as the process status.
package cli
