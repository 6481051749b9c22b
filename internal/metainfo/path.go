package metainfo

import "strings"

// Ext is appended to an object path to name its sidecar
const Ext = ".info"

// PathFor returns the sidecar path of the object at objectPath
func PathFor(objectPath string) string {
	return objectPath + Ext
}

// ObjectPathFor reverses PathFor. It reports false when infoPath does not
// follow the sidecar naming rule.
func ObjectPathFor(infoPath string) (string, bool) {
	if !strings.HasSuffix(infoPath, Ext) || len(infoPath) == len(Ext) {
		return "", false
	}
	return strings.TrimSuffix(infoPath, Ext), true
}
