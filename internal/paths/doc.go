// Provides default locations and permission modes for the runtime.
//
// The sandbox root is a fixed path relative to the working directory the
// runtime is started from. It is created on demand and never cleaned up.
package paths
