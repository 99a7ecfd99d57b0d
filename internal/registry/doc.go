// Package registry pulls image manifests and layer blobs from a Docker
// Registry HTTP API v2 endpoint.
//
// Only official, single-segment image names are supported: every request is
// scoped to the fixed "library/" namespace of the configured registry. A
// [Client] authenticates with a scoped pull token, resolves a tag to an
// image manifest, and streams layer blobs by digest. There is no retry
// logic; any transport failure is returned to the caller immediately.
//
// Example usage:
//
//	ref, err := registry.ParseReference("busybox:latest")
//	if err != nil {
//	    return err
//	}
//
//	c := registry.New(registry.Config{})
//	token, err := c.Authenticate(ctx, ref.Name)
//	if err != nil {
//	    return err
//	}
//
//	manifest, err := c.ResolveManifest(ctx, ref.Name, ref.Tag, token)
//	if err != nil {
//	    return err
//	}
//
//	for _, layer := range manifest.Layers {
//	    blob, err := c.FetchBlob(ctx, ref.Name, layer.Digest, token)
//	    ...
//	}
package registry
