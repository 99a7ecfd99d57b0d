// Package layer extracts gzip-compressed tar layers onto a directory.
//
// Layers are applied one at a time on top of whatever the directory already
// holds. Entries from a later layer replace entries at the same path from an
// earlier one, and Docker whiteout entries (".wh.<name>") delete paths left
// by earlier layers. Every entry is resolved inside the destination, so
// neither ".." components nor symlinks planted by earlier layers can direct
// writes outside it.
//
// Example usage:
//
//	for _, blob := range blobs {
//	    if err := layer.Unpack(blob, "sandbox"); err != nil {
//	        return err
//	    }
//	}
package layer
