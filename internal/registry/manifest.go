package registry

import (
	"encoding/json"
	"fmt"
	"mime"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (

	// Docker image manifest, schema version 2.
	MediaTypeDockerManifest = "application/vnd.docker.distribution.manifest.v2+json"

	// Docker manifest list (multi-architecture). Not supported.
	MediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"

	// Gzip-compressed Docker layer.
	MediaTypeDockerLayer = "application/vnd.docker.image.rootfs.diff.tar.gzip"

	// Only schema version the runtime understands.
	manifestSchemaVersion = 2
)

// Accept header for manifest requests: Docker v2 first, OCI second.
var acceptManifest = strings.Join([]string{
	MediaTypeDockerManifest,
	ocispec.MediaTypeImageManifest + ";q=0.9",
}, ", ")

// Parses and validates a manifest body.
//
// The media type is taken from the document, falling back to the response
// Content-Type. Multi-platform documents, schema versions other than 2,
// manifests without a layers field, and malformed layer digests are
// rejected.
func decodeManifest(body []byte, contentType string) (*ocispec.Manifest, error) {
	var m ocispec.Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}

	if m.MediaType == "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			m.MediaType = mt
		}
	}

	switch m.MediaType {
	case MediaTypeDockerManifestList, ocispec.MediaTypeImageIndex:
		return nil, fmt.Errorf("multi-platform manifest %s is not supported", m.MediaType)
	}

	if m.SchemaVersion != manifestSchemaVersion {
		return nil, fmt.Errorf("unsupported schemaVersion %d", m.SchemaVersion)
	}

	if m.Layers == nil {
		return nil, fmt.Errorf("manifest has no layers field")
	}

	for i, layer := range m.Layers {
		if !wellFormed(layer.Digest) {
			return nil, fmt.Errorf("layer %d: malformed digest %q", i, layer.Digest)
		}
	}

	return &m, nil
}

// Whether d has the "algorithm:encoded" shape. Blob contents are never
// checked against the digest; it is only used to address the blob.
func wellFormed(d digest.Digest) bool {
	return digest.DigestRegexpAnchored.MatchString(string(d))
}
