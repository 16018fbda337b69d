package storage

import "path"

// ArtifactKind separates site archives from encrypted secrets.
type ArtifactKind string

const (
	KindWebsite ArtifactKind = "website"
	KindEnv     ArtifactKind = "env"
)

// Layout maps backup artifacts to object keys.
type Layout interface {
	Key(kind ArtifactKind, timestamp, name string) string
	// RetentionPrefix is the listing prefix that retention applies to.
	RetentionPrefix() string
}

// RemoteLayout stores artifacts as {prefix}/{kind}/{timestamp}/{name}.
type RemoteLayout struct {
	Prefix string
}

func (l RemoteLayout) Key(kind ArtifactKind, timestamp, name string) string {
	return path.Join(l.Prefix, string(kind), timestamp, name)
}

func (l RemoteLayout) RetentionPrefix() string {
	if l.Prefix == "" {
		return ""
	}
	return l.Prefix + "/"
}

// LocalLayout stores artifacts as {timestamp}/{name} under the local backup root.
type LocalLayout struct{}

func (LocalLayout) Key(_ ArtifactKind, timestamp, name string) string {
	return path.Join(timestamp, name)
}

func (LocalLayout) RetentionPrefix() string {
	return ""
}
