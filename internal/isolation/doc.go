// Package isolation confines the runtime to a sandbox root and describes
// the namespaces its child process is started in.
//
// Changing the process root cannot be undone and affects every later file
// operation of the process. The primitive is only reachable through a
// [Confinement], and only one Confinement can ever be created per process;
// it is consumed by [Confinement.Apply]:
//
//	c, err := isolation.NewConfinement(sb.Root)
//	if err != nil {
//	    return err
//	}
//	if err := c.Apply(); err != nil {
//	    return err // fatal: nothing can run unconfined
//	}
//
// Namespace isolation is requested on the child's process attributes before
// it is spawned. [Namespaces] carries the requested set and the policy for a
// kernel that refuses it. In [Strict] mode the refusal is fatal; [BestEffort]
// lets the caller continue without namespaces and must be chosen explicitly.
package isolation
