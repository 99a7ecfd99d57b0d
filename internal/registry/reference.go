package registry

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cruciblehq/cruxbox/internal/fault"
	"github.com/distribution/reference"
)

const (

	// Tag used when a reference does not name one.
	DefaultTag = "latest"

	// Domain that official image names normalise to.
	officialDomain = "docker.io"

	// Repository namespace of official images.
	officialNamespace = "library/"
)

// Matches a complete tag.
var anchoredTag = regexp.MustCompile(`^` + reference.TagRegexp.String() + `$`)

// An image name and tag, as given on the command line.
type Reference struct {
	Name string // Official image name without the "library/" prefix (e.g., "busybox").
	Tag  string // Image tag (e.g., "latest").
}

// Returns the reference in "name:tag" form.
func (r Reference) String() string {
	return r.Name + ":" + r.Tag
}

// Parses an "image[:tag]" string.
//
// The string is split on a single colon and the tag defaults to
// [DefaultTag]. More than one colon, an empty name, or an empty tag after a
// colon are rejected, as are names that are not official single-segment
// image names and tags with invalid characters.
func ParseReference(s string) (Reference, error) {
	parts := strings.Split(s, ":")

	var ref Reference
	switch len(parts) {
	case 1:
		ref = Reference{Name: parts[0], Tag: DefaultTag}
	case 2:
		ref = Reference{Name: parts[0], Tag: parts[1]}
		if ref.Tag == "" {
			return Reference{}, fault.Wrapf(ErrImageReference, "%q: empty tag", s)
		}
	default:
		return Reference{}, fault.Wrapf(ErrImageReference, "%q: expected image[:tag]", s)
	}

	if ref.Name == "" {
		return Reference{}, fault.Wrapf(ErrImageReference, "%q: empty image name", s)
	}

	if err := validateName(ref.Name); err != nil {
		return Reference{}, fault.Wrapf(ErrImageReference, "%q: %w", s, err)
	}

	if !anchoredTag.MatchString(ref.Tag) {
		return Reference{}, fault.Wrapf(ErrImageReference, "%q: invalid tag %q", s, ref.Tag)
	}

	return ref, nil
}

// Checks that name normalises to an official image in the library namespace.
func validateName(name string) error {
	named, err := reference.ParseNormalizedNamed(name)
	if err != nil {
		return err
	}

	if reference.Domain(named) != officialDomain || reference.Path(named) != officialNamespace+name {
		return fmt.Errorf("only official single-segment image names are supported, got %q", name)
	}

	return nil
}
