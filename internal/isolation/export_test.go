package isolation

// Forgets any confinement issued by a previous test and installs fake root
// change primitives that record their calls. The originals are restored
// when the test ends.
func fakePrimitives(t interface{ Cleanup(func()) }, chrootErr error) *[]string {
	calls := &[]string{}

	issued.Store(false)
	origChroot, origChdir := chroot, chdir

	chroot = func(path string) error {
		*calls = append(*calls, "chroot "+path)
		return chrootErr
	}
	chdir = func(path string) error {
		*calls = append(*calls, "chdir "+path)
		return nil
	}

	t.Cleanup(func() {
		chroot, chdir = origChroot, origChdir
		issued.Store(false)
	})
	return calls
}
