// Package storage defines the content-tree file abstraction used by the wiki.
package storage

// Provider is the interface for content-tree file operations. All paths are
// slash-separated and relative to the tree root.
type Provider interface {
	// Walk returns the relative path of every file under root whose name
	// ends with ext, in directory-walk order.
	Walk(ext string) ([]string, error)
	// Exists reports whether a file exists at path.
	Exists(path string) bool
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path, creating parent directories.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath. It fails when newPath already exists
	// and leaves oldPath untouched.
	Move(oldPath, newPath string) error
}
